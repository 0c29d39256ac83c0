// Package workspace reads runtime files from the external workspace file
// service. Content problems (missing files, malformed JSON) degrade to
// empty results; only connectivity problems surface as errors.
package workspace

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotConfigured means no workspace base URL was configured. Callers
// must surface this the same way as an unreachable service (HTTP 503).
var ErrNotConfigured = errors.New("workspace service not configured")

// ErrNotFound means the requested file does not exist on the service.
// This is a content condition, not a failure: list reads degrade to empty.
var ErrNotFound = errors.New("workspace file not found")

// UnavailableError wraps a transport-level failure talking to the
// workspace service: timeout, refused connection, DNS, unexpected status.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("workspace service unavailable (%s): %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err is the one failure class that must
// abort the request: the workspace service unreachable or not configured.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var ue *UnavailableError
	return errors.As(err, &ue) || errors.Is(err, ErrNotConfigured)
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient builds a reader for the workspace file service. An empty
// baseURL produces a client whose every read fails with ErrNotConfigured.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Configured reports whether a base URL was provided.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// ReadFile fetches one file's raw content. Returns ErrNotFound for a
// missing file and *UnavailableError for any transport failure.
func (c *Client) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	fileURL := c.baseURL + "/files/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &UnavailableError{Op: "read " + name, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &UnavailableError{
			Op:  "read " + name,
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body)),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, &UnavailableError{Op: "read " + name, Err: err}
	}
	return data, nil
}

// ReadJSONLines fetches a JSONL file and returns one raw message per
// parseable line. Lines that fail to parse are skipped with a warning.
// A missing file yields an empty slice and no error.
func (c *Client) ReadJSONLines(ctx context.Context, name string) ([]json.RawMessage, error) {
	data, err := c.ReadFile(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []json.RawMessage
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			c.logger.Warn("skipping malformed jsonl line", "file", name, "line", lineNo)
			continue
		}
		out = append(out, json.RawMessage(bytes.Clone(line)))
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn("jsonl scan stopped early", "file", name, "error", err)
	}
	return out, nil
}

// ReadJSONObject fetches a JSON file into v. A missing file or malformed
// content leaves v untouched and returns nil: the file behaves as empty.
// Only connectivity failures are returned.
func (c *Client) ReadJSONObject(ctx context.Context, name string, v any) error {
	data, err := c.ReadFile(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.logger.Warn("treating malformed json file as empty", "file", name, "error", err)
	}
	return nil
}
