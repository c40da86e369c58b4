package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func TestSendSignsBody(t *testing.T) {
	var gotBody []byte
	var gotSig, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(SignatureHeader)
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewSender(WithSecret("s3cret"))
	err := sender.Send(context.Background(), srv.URL, payload{ID: "abc", Status: "finished"})
	require.NoError(t, err)

	assert.JSONEq(t, `{"id":"abc","status":"finished"}`, string(gotBody))
	assert.Equal(t, "application/json", gotType)
	assert.True(t, Verify("s3cret", gotBody, gotSig))
	assert.False(t, Verify("other", gotBody, gotSig))
}

func TestSendWithoutSecretOmitsSignature(t *testing.T) {
	var hasSig bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasSig = r.Header[SignatureHeader]
	}))
	defer srv.Close()

	require.NoError(t, NewSender().Send(context.Background(), srv.URL, payload{ID: "abc"}))
	assert.False(t, hasSig)
}

func TestSendNon2xxIsError(t *testing.T) {
	for _, status := range []int{http.StatusMultipleChoices, http.StatusBadRequest, http.StatusInternalServerError} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		err := NewSender().Send(context.Background(), srv.URL, payload{ID: "abc"})
		assert.Error(t, err, "status %d", status)
		srv.Close()
	}
}

func TestSendUnreachable(t *testing.T) {
	err := NewSender().Send(context.Background(), "http://127.0.0.1:1/hook", payload{ID: "abc"})
	assert.Error(t, err)
}
