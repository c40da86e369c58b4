package auth

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

var ErrNoToken = errors.New("no runner credentials configured")

type storedToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitzero"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type authFile struct {
	Runner *storedToken `json:"runner,omitempty"`
}

// TokenFile persists the runner credential as JSON under the data dir.
type TokenFile struct {
	Path string
}

func NewTokenFile(dataDir string) *TokenFile {
	return &TokenFile{Path: filepath.Join(filepath.Clean(dataDir), "auth.json")}
}

func (f *TokenFile) Read() (*oauth2.Token, bool, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var payload authFile
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, false, err
	}

	if payload.Runner == nil || payload.Runner.AccessToken == "" {
		return nil, false, nil
	}

	return &oauth2.Token{
		AccessToken:  payload.Runner.AccessToken,
		RefreshToken: payload.Runner.RefreshToken,
		TokenType:    payload.Runner.TokenType,
		Expiry:       payload.Runner.Expiry,
	}, true, nil
}

func (f *TokenFile) Write(token *oauth2.Token) error {
	if token == nil || token.AccessToken == "" {
		return ErrNoToken
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}

	payload := authFile{Runner: &storedToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
		UpdatedAt:    time.Now().UTC(),
	}}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}

	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.Path)
}

// ResolveToken prefers credentials from the environment and falls back to
// the token file.
func ResolveToken(accessToken, refreshToken string, file *TokenFile) (*oauth2.Token, error) {
	if accessToken != "" {
		return &oauth2.Token{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			TokenType:    "Bearer",
			Expiry:       ExpiryFromJWT(accessToken),
		}, nil
	}

	if file == nil {
		return nil, ErrNoToken
	}
	token, ok, err := file.Read()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoToken
	}
	if refreshToken != "" && token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	return token, nil
}
