package agentgw

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// rpcServer answers each JSON-RPC request with the configured handler.
func rpcServer(t *testing.T, token string, handle func(method string, params json.RawMessage) (any, *rpcError)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		ctx := r.Context()
		for {
			var req struct {
				ID     int             `json:"id"`
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
			}
			if err := wsjson.Read(ctx, conn, &req); err != nil {
				return
			}
			result, rpcErr := handle(req.Method, req.Params)
			resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
			if rpcErr != nil {
				resp["error"] = rpcErr
			} else {
				resp["result"] = result
			}
			if err := wsjson.Write(ctx, conn, resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestListSessions(t *testing.T) {
	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := rpcServer(t, "tok-1", func(method string, params json.RawMessage) (any, *rpcError) {
		if method != "session.list" {
			return nil, &rpcError{Code: -32601, Message: "unknown method"}
		}
		var p struct {
			ActiveWithinSeconds int64  `json:"activeWithinSeconds"`
			Kind                string `json:"kind"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &rpcError{Code: -32602, Message: err.Error()}
		}
		if p.ActiveWithinSeconds != 86400 || p.Kind != "other" {
			return nil, &rpcError{Code: -32602, Message: "unexpected filter"}
		}
		tokens := int64(1234)
		return map[string]any{"sessions": []Session{{
			Key:         "subagent:abc",
			DisplayName: "fix flaky test",
			Kind:        "other",
			Model:       "m-large",
			TotalTokens: &tokens,
			UpdatedAt:   &updated,
		}}}, nil
	})

	c := NewClient(wsURL(srv), "tok-1", time.Second, testLogger())
	sessions, err := c.ListSessions(context.Background(), ListFilter{ActiveWithin: 24 * time.Hour, Kind: "other"})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("want 1 session, got %d", len(sessions))
	}
	s := sessions[0]
	if s.Key != "subagent:abc" || s.TotalTokens == nil || *s.TotalTokens != 1234 {
		t.Fatalf("unexpected session: %+v", s)
	}
	if s.UpdatedAt == nil || !s.UpdatedAt.Equal(updated) {
		t.Fatalf("unexpected updatedAt: %v", s.UpdatedAt)
	}
}

func TestFetchHistory(t *testing.T) {
	srv := rpcServer(t, "", func(method string, params json.RawMessage) (any, *rpcError) {
		if method != "session.history" {
			return nil, &rpcError{Code: -32601, Message: "unknown method"}
		}
		var p struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(params, &p); err != nil || p.Key != "subagent:abc" {
			return nil, &rpcError{Code: -32602, Message: "bad key"}
		}
		return map[string]any{"messages": []Message{
			{Role: "user", Content: "do the thing"},
			{Role: "assistant", Content: "done, all tests pass"},
		}}, nil
	})

	c := NewClient(wsURL(srv), "", time.Second, testLogger())
	msgs, err := c.FetchHistory(context.Background(), "subagent:abc")
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Content != "done, all tests pass" {
		t.Fatalf("unexpected history: %+v", msgs)
	}
}

func TestGatewayErrorSurfaces(t *testing.T) {
	srv := rpcServer(t, "", func(method string, params json.RawMessage) (any, *rpcError) {
		return nil, &rpcError{Code: -32000, Message: "session store offline"}
	})

	c := NewClient(wsURL(srv), "", time.Second, testLogger())
	_, err := c.ListSessions(context.Background(), ListFilter{})
	if err == nil || !strings.Contains(err.Error(), "session store offline") {
		t.Fatalf("want gateway error, got %v", err)
	}
}

func TestNotConfigured(t *testing.T) {
	c := NewClient("", "", time.Second, testLogger())
	if c.Configured() {
		t.Fatal("empty URL must report unconfigured")
	}
	_, err := c.ListSessions(context.Background(), ListFilter{})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("want ErrNotConfigured, got %v", err)
	}
}

func TestConcurrentCallsShareClient(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = make(map[int64]int)
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		ctx := r.Context()
		for {
			var req struct {
				ID int64 `json:"id"`
			}
			if err := wsjson.Read(ctx, conn, &req); err != nil {
				return
			}
			mu.Lock()
			seen[req.ID]++
			mu.Unlock()
			resp := map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": map[string]any{"sessions": []Session{}}}
			if err := wsjson.Write(ctx, conn, resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	c := NewClient(wsURL(srv), "", time.Second, testLogger())

	const workers, callsPerWorker = 8, 4
	var wg sync.WaitGroup
	errs := make(chan error, workers*callsPerWorker)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range callsPerWorker {
				if _, err := c.ListSessions(context.Background(), ListFilter{}); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent ListSessions: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != workers*callsPerWorker {
		t.Fatalf("want %d distinct request ids, got %d", workers*callsPerWorker, len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("request id %d reused %d times", id, count)
		}
	}
}

func TestDialFailure(t *testing.T) {
	srv := rpcServer(t, "", nil)
	url := wsURL(srv)
	srv.Close()

	c := NewClient(url, "", 500*time.Millisecond, testLogger())
	_, err := c.ListSessions(context.Background(), ListFilter{})
	if err == nil {
		t.Fatal("want dial error")
	}
}
