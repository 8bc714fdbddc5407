package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonwang82/opencowork-sub001/pkg/types"
)

func withTestEnvironment(t *testing.T, handler http.Handler) string {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	const name = "test"
	environments[name] = srv.URL
	t.Cleanup(func() { delete(environments, name) })
	return name
}

func TestHTTPAuthenticator_HandoffAndPoll(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/device/begin", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(beginResponse{
			AuthURL:  "https://auth.example.com/confirm/abc",
			PollCode: "code-1",
		})
	})
	mux.HandleFunc("GET /v1/device/poll", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "code-1", r.URL.Query().Get("code"))
		// The first poll is still pending; the second succeeds.
		if polls.Add(1) < 2 {
			json.NewEncoder(w).Encode(pollResponse{Status: "pending"})
			return
		}
		json.NewEncoder(w).Encode(pollResponse{
			Status: "success",
			User:   &types.UserInfo{UserID: "u1", UserName: "Ann"},
		})
	})

	env := withTestEnvironment(t, mux)
	a := NewHTTPAuthenticator()

	handoff, err := a.BeginLogin(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.com/confirm/abc", handoff.AuthURL)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	user, err := handoff.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", user.UserID)
	assert.GreaterOrEqual(t, polls.Load(), int32(2))
}

func TestHTTPAuthenticator_Rejection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/device/begin", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(beginResponse{AuthURL: "https://x", PollCode: "c"})
	})
	mux.HandleFunc("GET /v1/device/poll", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(pollResponse{Status: "rejected", Reason: "access denied"})
	})

	env := withTestEnvironment(t, mux)
	a := NewHTTPAuthenticator()

	handoff, err := a.BeginLogin(context.Background(), env)
	require.NoError(t, err)

	_, err = handoff.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestHTTPAuthenticator_IncompleteHandoff(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/device/begin", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(beginResponse{})
	})

	env := withTestEnvironment(t, mux)
	a := NewHTTPAuthenticator()

	_, err := a.BeginLogin(context.Background(), env)
	assert.Error(t, err)
}

func TestHTTPAuthenticator_WaitHonorsContext(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/device/begin", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(beginResponse{AuthURL: "https://x", PollCode: "c"})
	})
	mux.HandleFunc("GET /v1/device/poll", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(pollResponse{Status: "pending"})
	})

	env := withTestEnvironment(t, mux)
	a := NewHTTPAuthenticator()

	handoff, err := a.BeginLogin(context.Background(), env)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = handoff.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
