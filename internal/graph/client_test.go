package graph_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/martiola68/studio-manager-pro-sub002/internal/graph"
)

type stubTokens struct {
	mu       sync.Mutex
	valid    string
	refresh  string
	refreshN int
}

func (s *stubTokens) ValidAccessToken(ctx context.Context, tenantID, userID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid, nil
}

func (s *stubTokens) ForceRefresh(ctx context.Context, tenantID, userID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshN++
	return s.refresh, nil
}

func (s *stubTokens) refreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshN
}

func TestDoReturnsPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		require.Equal(t, "/me/calendar/events", r.URL.Path)
		require.Equal(t, "5", r.URL.Query().Get("$top"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":[{"subject":"standup"}]}`))
	}))
	defer srv.Close()

	client := graph.NewClient(&stubTokens{valid: "token-1"}, srv.URL, time.Second, zap.NewNop())
	resp, err := client.Do(context.Background(), 1, 10, graph.Request{
		Method: http.MethodGet,
		Path:   "/me/calendar/events",
		Query:  map[string][]string{"$top": {"5"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "standup")
	require.Empty(t, resp.NextLink)
}

func TestDoRetriesOnceAfterUnauthorized(t *testing.T) {
	var calls int
	var seenTokens []string
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		seenTokens = append(seenTokens, r.Header.Get("Authorization"))
		if calls == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":"InvalidAuthenticationToken","message":"expired"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":[]}`))
	}))
	var mu sync.Mutex
	conns := 0
	srv.Config.ConnState = func(c net.Conn, state http.ConnState) {
		if state == http.StateNew {
			mu.Lock()
			conns++
			mu.Unlock()
		}
	}
	srv.Start()
	defer srv.Close()

	tokens := &stubTokens{valid: "stale", refresh: "fresh"}
	client := graph.NewClient(tokens, srv.URL, time.Second, zap.NewNop())

	resp, err := client.Do(context.Background(), 1, 10, graph.Request{Method: http.MethodGet, Path: "/me"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 2, calls)
	require.Equal(t, 1, tokens.refreshCalls())
	require.Equal(t, []string{"Bearer stale", "Bearer fresh"}, seenTokens)

	// The unauthorized body is drained before the retry, so both round
	// trips share one connection.
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, conns)
}

func TestDoSecondUnauthorizedIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"Authorization_RequestDenied","message":"insufficient privileges"}}`))
	}))
	defer srv.Close()

	tokens := &stubTokens{valid: "t1", refresh: "t2"}
	client := graph.NewClient(tokens, srv.URL, time.Second, zap.NewNop())

	_, err := client.Do(context.Background(), 1, 10, graph.Request{Method: http.MethodGet, Path: "/me"})
	require.ErrorIs(t, err, graph.ErrAuthorizationFailed)
	require.Equal(t, 1, tokens.refreshCalls())

	var gerr *graph.Error
	require.ErrorAs(t, err, &gerr)
	require.Equal(t, http.StatusForbidden, gerr.StatusCode)
	require.Equal(t, "Authorization_RequestDenied", gerr.Code)
	require.True(t, gerr.Retried)
}

func TestNextFollowsContinuationLink(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("$skip") == "" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"value":           []any{map[string]any{"subject": "first"}},
				"@odata.nextLink": srv.URL + "/me/calendar/events?%24skip=1",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value": []any{map[string]any{"subject": "second"}},
		})
	}))
	defer srv.Close()

	client := graph.NewClient(&stubTokens{valid: "token-1"}, srv.URL, time.Second, zap.NewNop())

	first, err := client.Do(context.Background(), 1, 10, graph.Request{Method: http.MethodGet, Path: "/me/calendar/events"})
	require.NoError(t, err)
	require.NotEmpty(t, first.NextLink)

	second, err := client.Next(context.Background(), 1, 10, first.NextLink)
	require.NoError(t, err)
	require.Contains(t, string(second.Body), "second")
	require.Empty(t, second.NextLink)

	_, err = client.Next(context.Background(), 1, 10, "")
	require.Error(t, err)
}

func TestGraphErrorEnvelopeDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"ResourceNotFound","message":"no such event"}}`))
	}))
	defer srv.Close()

	client := graph.NewClient(&stubTokens{valid: "token-1"}, srv.URL, time.Second, zap.NewNop())

	_, err := client.Do(context.Background(), 1, 10, graph.Request{Method: http.MethodGet, Path: "/me/events/x"})
	var gerr *graph.Error
	require.ErrorAs(t, err, &gerr)
	require.Equal(t, http.StatusNotFound, gerr.StatusCode)
	require.Equal(t, "ResourceNotFound", gerr.Code)
	require.Equal(t, "no such event", gerr.Message)
	require.False(t, gerr.Retried)
	require.NotErrorIs(t, err, graph.ErrAuthorizationFailed)
}
