package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

var ErrNoRefreshToken = errors.New("no refresh token available")

type Refresher interface {
	Refresh(ctx context.Context, old *oauth2.Token) (*oauth2.Token, error)
}

// OAuthRefresher exchanges a refresh token at the runner's token endpoint.
type OAuthRefresher struct {
	config     *oauth2.Config
	httpClient *http.Client
}

func NewOAuthRefresher(tokenURL, clientID, clientSecret string, httpClient *http.Client) *OAuthRefresher {
	return &OAuthRefresher{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
	}
}

func (r *OAuthRefresher) Refresh(ctx context.Context, old *oauth2.Token) (*oauth2.Token, error) {
	if old == nil || old.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}
	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}

	token, err := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: old.RefreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing runner token: %w", err)
	}
	if token.Expiry.IsZero() {
		token.Expiry = ExpiryFromJWT(token.AccessToken)
	}
	return token, nil
}

// Credentials holds the token shared by every invocation in the process.
type Credentials struct {
	mu    sync.RWMutex
	token *oauth2.Token
}

func NewCredentials(token *oauth2.Token) *Credentials {
	return &Credentials{token: token}
}

func (c *Credentials) Token() *oauth2.Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Credentials) Set(token *oauth2.Token) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// SharedRefresher collapses concurrent refreshes of the same stale token and
// publishes the result to Credentials and the token file.
type SharedRefresher struct {
	creds  *Credentials
	next   Refresher
	file   *TokenFile
	logger *slog.Logger
	group  singleflight.Group
}

func NewSharedRefresher(creds *Credentials, next Refresher, file *TokenFile, logger *slog.Logger) *SharedRefresher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SharedRefresher{creds: creds, next: next, file: file, logger: logger}
}

func (s *SharedRefresher) Refresh(ctx context.Context, stale *oauth2.Token) (*oauth2.Token, error) {
	if current := s.creds.Token(); superseded(current, stale) {
		return current, nil
	}

	value, err, shared := s.group.Do("refresh", func() (any, error) {
		current := s.creds.Token()
		if superseded(current, stale) {
			return current, nil
		}
		base := stale
		if base == nil || base.RefreshToken == "" {
			base = current
		}

		token, err := s.next.Refresh(ctx, base)
		if err != nil {
			return nil, err
		}
		s.creds.Set(token)
		if s.file != nil {
			if err := s.file.Write(token); err != nil {
				s.logger.Warn("Failed to persist refreshed token", slog.String("error", err.Error()))
			}
		}
		s.logger.Info("Refreshed runner token")
		return token, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("Joined in-flight token refresh")
	}
	return value.(*oauth2.Token), nil
}

func superseded(current, stale *oauth2.Token) bool {
	if current == nil || current.AccessToken == "" {
		return false
	}
	return stale == nil || current.AccessToken != stale.AccessToken
}
