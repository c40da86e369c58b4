// Package integrationtest provides an in-process fake of the remote runner.
package integrationtest

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/romakot321/higgsfieldai-api/internals/integration"
)

// StartCall records one accepted start request.
type StartCall struct {
	ID          string
	Prompt      string
	Model       string
	Params      map[string]any
	Image       []byte
	ImageName   string
	ContentType string
}

type failure struct {
	status int
	body   string
}

type Server struct {
	URL string

	srv *httptest.Server

	mu           sync.Mutex
	token        string
	startFail    *failure
	resultFail   *failure
	startDelay   time.Duration
	resultDelay  time.Duration
	results      []integration.Response
	starts       []StartCall
	polls        int
	unauthorized int
}

type Option func(*Server)

// WithToken makes the server reject any bearer token other than token.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithResults scripts the responses of successive result queries. The last
// response repeats once the script is exhausted.
func WithResults(results ...integration.Response) Option {
	return func(s *Server) { s.results = results }
}

func WithStartFailure(status int, body string) Option {
	return func(s *Server) { s.startFail = &failure{status: status, body: body} }
}

// WithStartDelay holds every start response for d.
func WithStartDelay(d time.Duration) Option {
	return func(s *Server) { s.startDelay = d }
}

// WithResultDelay holds every result response for d.
func WithResultDelay(d time.Duration) Option {
	return func(s *Server) { s.resultDelay = d }
}

func WithResultFailure(status int, body string) Option {
	return func(s *Server) { s.resultFail = &failure{status: status, body: body} }
}

func New(t testing.TB, opts ...Option) *Server {
	t.Helper()

	s := &Server{
		results: []integration.Response{{Status: integration.JobStatusCompleted}},
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(s.authenticate)
	r.Post("/v1/jobs", s.handleStart)
	r.Get("/v1/jobs/{id}", s.handleGet)

	s.srv = httptest.NewServer(r)
	s.URL = s.srv.URL
	t.Cleanup(s.srv.Close)
	return s
}

// SetToken rotates the accepted token.
func (s *Server) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *Server) Starts() []StartCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StartCall(nil), s.starts...)
}

func (s *Server) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

// Unauthorized counts requests rejected for a bad token.
func (s *Server) Unauthorized() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unauthorized
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		token := s.token
		s.mu.Unlock()

		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			s.mu.Lock()
			s.unauthorized++
			s.mu.Unlock()
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	call, err := decodeStart(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}

	s.mu.Lock()
	s.starts = append(s.starts, call)
	fail := s.startFail
	delay := s.startDelay
	s.mu.Unlock()

	if !wait(r, delay) {
		return
	}

	if fail != nil {
		writeRaw(w, fail.status, fail.body)
		return
	}
	writeJSON(w, http.StatusCreated, integration.Response{ID: call.ID, Status: integration.JobStatusQueued})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	s.polls++
	fail := s.resultFail
	delay := s.resultDelay
	var resp integration.Response
	if len(s.results) > 0 {
		resp = s.results[0]
		if len(s.results) > 1 {
			s.results = s.results[1:]
		}
	}
	s.mu.Unlock()

	if !wait(r, delay) {
		return
	}
	if fail != nil {
		writeRaw(w, fail.status, fail.body)
		return
	}
	resp.ID = id
	writeJSON(w, http.StatusOK, resp)
}

type startPayload struct {
	ID     string         `json:"id"`
	Prompt string         `json:"prompt"`
	Model  string         `json:"model"`
	Params map[string]any `json:"params"`
}

func decodeStart(r *http.Request) (StartCall, error) {
	contentType := r.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)

	var payload startPayload
	call := StartCall{ContentType: mediaType}

	if strings.HasPrefix(mediaType, "multipart/") {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			return call, err
		}
		if err := json.Unmarshal([]byte(r.FormValue("params")), &payload); err != nil {
			return call, err
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			return call, err
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return call, err
		}
		call.Image = data
		call.ImageName = header.Filename
	} else if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return call, err
	}

	call.ID = payload.ID
	call.Prompt = payload.Prompt
	call.Model = payload.Model
	call.Params = payload.Params
	return call, nil
}

// wait reports false when the client gave up first.
func wait(r *http.Request, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-r.Context().Done():
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeRaw(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
