package openlineage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// Transport delivers run events.
type Transport interface {
	Emit(ctx context.Context, event *RunEvent) error
}

// Transport type names accepted by NewTransport.
const (
	TransportFile    = "file"
	TransportHTTP    = "http"
	TransportConsole = "console"
	TransportNoop    = "noop"
)

// TransportTypes lists the known transport types.
var TransportTypes = []string{TransportConsole, TransportFile, TransportHTTP, TransportNoop}

// TransportConfig selects and configures a transport.
type TransportConfig struct {
	Type     string
	Path     string
	Append   bool
	URL      string
	Endpoint string
	APIKey   string
}

// NewTransport builds the transport named by cfg.Type. An empty type is noop.
func NewTransport(cfg TransportConfig, console io.Writer) (Transport, error) {
	switch strings.ToLower(cfg.Type) {
	case "", TransportNoop:
		return NoopTransport{}, nil
	case TransportConsole:
		return &ConsoleTransport{W: console}, nil
	case TransportFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file transport requires a path")
		}
		return &FileTransport{Path: cfg.Path, Append: cfg.Append}, nil
	case TransportHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("http transport requires a url")
		}
		return &HTTPTransport{URL: cfg.URL, Endpoint: cfg.Endpoint, APIKey: cfg.APIKey}, nil
	default:
		return nil, fmt.Errorf("unknown transport type %q (expected one of %s)", cfg.Type, strings.Join(TransportTypes, ", "))
	}
}

func encodeEvent(event *RunEvent, indent bool) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(event); err != nil {
		return nil, fmt.Errorf("failed to encode run event: %w", err)
	}
	return buf.Bytes(), nil
}

// NoopTransport drops every event.
type NoopTransport struct{}

// Emit implements Transport.
func (NoopTransport) Emit(context.Context, *RunEvent) error { return nil }

// ConsoleTransport writes indented events to W.
type ConsoleTransport struct {
	W  io.Writer
	mu sync.Mutex
}

// Emit implements Transport.
func (t *ConsoleTransport) Emit(_ context.Context, event *RunEvent) error {
	data, err := encodeEvent(event, true)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.W
	if w == nil {
		w = os.Stdout
	}
	_, err = w.Write(data)
	return err
}

// FileTransport writes events to disk. With Append every event is a line of
// Path; otherwise each event gets its own <Path>-<timestamp>.json file.
type FileTransport struct {
	Path   string
	Append bool
	mu     sync.Mutex
}

// Emit implements Transport.
func (t *FileTransport) Emit(_ context.Context, event *RunEvent) error {
	data, err := encodeEvent(event, false)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if dir := filepath.Dir(t.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create event dir: %w", err)
		}
	}

	if t.Append {
		f, err := os.OpenFile(t.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("failed to open event log: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write event: %w", err)
		}
		return f.Close()
	}

	path := fmt.Sprintf("%s-%s.json", strings.TrimSuffix(t.Path, ".json"), event.EventTime.UTC().Format("20060102T150405.000000000"))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// DefaultEndpoint is the lineage API path of Marquez-compatible servers.
const DefaultEndpoint = "api/v1/lineage"

// HTTPTransport POSTs events to an OpenLineage API, retrying transient
// failures with exponential backoff.
type HTTPTransport struct {
	URL        string
	Endpoint   string
	APIKey     string
	Client     *http.Client
	MaxRetries uint64
	// Backoff is the first retry delay, 200ms when zero.
	Backoff time.Duration
}

func (t *HTTPTransport) target() string {
	endpoint := t.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return strings.TrimSuffix(t.URL, "/") + "/" + strings.TrimPrefix(endpoint, "/")
}

// Emit implements Transport.
func (t *HTTPTransport) Emit(ctx context.Context, event *RunEvent) error {
	body, err := encodeEvent(event, false)
	if err != nil {
		return err
	}
	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	maxRetries := t.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	first := t.Backoff
	if first <= 0 {
		first = 200 * time.Millisecond
	}

	backoff := retry.WithMaxRetries(maxRetries, retry.NewExponential(first))
	url := t.target()

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if t.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+t.APIKey)
		}

		resp, err := client.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("openlineage request failed: %w", err))
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err = fmt.Errorf("openlineage server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return retry.RetryableError(err)
		}
		return err
	})
}
