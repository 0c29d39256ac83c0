// Package agentgw is a best-effort JSON-RPC client for the agent gateway
// session API. Aggregation never depends on it: every failure here is
// reported to the caller as a degraded read, not a hard error.
package agentgw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ErrNotConfigured means no gateway URL was configured.
var ErrNotConfigured = errors.New("agent gateway not configured")

// Session is one live or recent session known to the gateway.
type Session struct {
	Key            string     `json:"key"`
	DisplayName    string     `json:"displayName"`
	Kind           string     `json:"kind"`
	Model          string     `json:"model"`
	TotalTokens    *int64     `json:"totalTokens"`
	AbortedLastRun bool       `json:"abortedLastRun"`
	UpdatedAt      *time.Time `json:"updatedAt"`
}

// Message is one transcript entry of a session's history.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	CreatedAt *time.Time `json:"createdAt"`
}

// ListFilter narrows session.list to recently active sessions of a kind.
type ListFilter struct {
	ActiveWithin time.Duration
	Kind         string
}

type Client struct {
	url     string
	token   string
	timeout time.Duration
	logger  *slog.Logger
	nextID  atomic.Int64
}

func NewClient(url, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{url: url, token: token, timeout: timeout, logger: logger}
}

func (c *Client) Configured() bool {
	return c.url != ""
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// call dials, sends one request, and reads one response. The gateway
// serves stateless queries, so a connection per call keeps error
// handling simple and avoids tracking an idle socket.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	opts := &websocket.DialOptions{}
	if strings.TrimSpace(c.token) != "" {
		opts.HTTPHeader = http.Header{
			"Authorization": []string{"Bearer " + strings.TrimSpace(c.token)},
		}
	}
	conn, _, err := websocket.Dial(ctx, c.url, opts)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// One client serves every HTTP request, so the id counter must be
	// safe under concurrent calls.
	req := rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		return fmt.Errorf("%s write: %w", method, err)
	}
	var resp rpcResponse
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		return fmt.Errorf("%s read: %w", method, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s: gateway error %d: %s", method, resp.Error.Code, resp.Error.Message)
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("%s decode result: %w", method, err)
		}
	}
	return nil
}

// ListSessions queries session.list with the given filter.
func (c *Client) ListSessions(ctx context.Context, filter ListFilter) ([]Session, error) {
	params := map[string]any{}
	if filter.ActiveWithin > 0 {
		params["activeWithinSeconds"] = int64(filter.ActiveWithin.Seconds())
	}
	if filter.Kind != "" {
		params["kind"] = filter.Kind
	}
	var result struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.call(ctx, "session.list", params, &result); err != nil {
		return nil, err
	}
	return result.Sessions, nil
}

// FetchHistory queries session.history for one session's transcript.
func (c *Client) FetchHistory(ctx context.Context, sessionKey string) ([]Message, error) {
	params := map[string]any{"key": sessionKey}
	var result struct {
		Messages []Message `json:"messages"`
	}
	if err := c.call(ctx, "session.history", params, &result); err != nil {
		return nil, err
	}
	return result.Messages, nil
}
