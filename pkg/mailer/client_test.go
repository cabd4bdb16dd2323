package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Send(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg-123"}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := c.Send(context.Background(), Message{
		From:    "estimates@homeside.example",
		To:      []string{"dana@example.com", "estimates-oversight@homeside.example"},
		Subject: "Your repair estimate",
		Text:    "Total: $49.50",
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-123", resp.ID)
	assert.Len(t, got.To, 2)
	assert.Equal(t, "Your repair estimate", got.Subject)
}

func TestClient_Send_NoRecipients(t *testing.T) {
	c := NewClient("test-key")
	_, err := c.Send(context.Background(), Message{From: "a@b.c", Subject: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no recipients")
}

func TestClient_Send_ClientErrorNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := c.Send(context.Background(), Message{From: "a@b.c", To: []string{"x@y.z"}, Subject: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Equal(t, 1, calls)
}

func TestClient_Send_RetriesTransientFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":"msg-retry"}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := c.Send(context.Background(), Message{From: "a@b.c", To: []string{"x@y.z"}, Subject: "x"})
	require.NoError(t, err)
	assert.Equal(t, "msg-retry", resp.ID)
	assert.Equal(t, 2, calls)
}
