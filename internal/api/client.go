package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/minnowchess/minnow/internal"
)

var (
	// ErrNoWork means the queue had nothing to hand out.
	ErrNoWork = errors.New("no work available")

	// ErrUpdateRequired means the queue rejected this client version.
	// Acquisition must stop; only an updated client may continue.
	ErrUpdateRequired = errors.New("queue rejected client, update may be required")
)

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed with HTTP %d: %s", e.Op, e.Code, e.Body)
}

// Doer is the subset of *http.Client used by the API client. It allows for
// dependency injection and testing with mocks.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Client.
type Options struct {
	// Endpoint is the base URL of the queue, e.g. https://lichess.org/fishnet.
	Endpoint *url.URL

	// Key authenticates this worker. Empty means anonymous.
	Key string

	// Version is the client version reported with every request.
	Version string

	// UserAgent identifies this worker session.
	UserAgent string

	// EngineName and EngineOptions describe the engine backing this worker.
	EngineName    string
	EngineOptions map[string]string

	// Doer performs HTTP requests. Defaults to an *http.Client with a
	// 60 second timeout.
	Doer Doer

	Logger *zap.Logger
}

// Client talks to the remote analysis queue.
type Client struct {
	endpoint      *url.URL
	key           string
	version       string
	userAgent     string
	engineName    string
	engineOptions map[string]string
	doer          Doer
	logger        *zap.Logger
}

// NewClient creates a queue client.
func NewClient(opts Options) *Client {
	doer := opts.Doer
	if doer == nil {
		doer = &http.Client{Timeout: 60 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		endpoint:      opts.Endpoint,
		key:           opts.Key,
		version:       opts.Version,
		userAgent:     opts.UserAgent,
		engineName:    opts.EngineName,
		engineOptions: opts.EngineOptions,
		doer:          doer,
		logger:        logger,
	}
}

type workerInfo struct {
	Version string `json:"version"`
	APIKey  string `json:"apikey"`
}

type engineInfo struct {
	Name    string            `json:"name"`
	Options map[string]string `json:"options,omitempty"`
}

type moveResult struct {
	BestMove string `json:"bestmove"`
}

type requestEnvelope struct {
	Worker   workerInfo      `json:"fishnet"`
	Engine   engineInfo      `json:"stockfish"`
	Analysis []*AnalysisPart `json:"analysis,omitempty"`
	Move     *moveResult     `json:"move,omitempty"`
}

func (c *Client) envelope() requestEnvelope {
	return requestEnvelope{
		Worker: workerInfo{Version: c.version, APIKey: c.key},
		Engine: engineInfo{Name: c.engineName, Options: c.engineOptions},
	}
}

// Acquire requests a batch of work. It returns ErrNoWork when the queue is
// empty and ErrUpdateRequired when the queue rejects this client version.
func (c *Client) Acquire(ctx context.Context, query AcquireQuery) (*AcquireResponse, error) {
	u := c.resolve("acquire")
	if query.Slow {
		q := u.Query()
		q.Set("slow", "true")
		u.RawQuery = q.Encode()
	}

	res, err := c.post(ctx, u, c.envelope())
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK, http.StatusAccepted:
		var acquired AcquireResponse
		if err := json.NewDecoder(res.Body).Decode(&acquired); err != nil {
			return nil, fmt.Errorf("failed to decode acquired batch: %w\nThe queue may be running an incompatible version", err)
		}
		return &acquired, nil
	case http.StatusNoContent:
		return nil, ErrNoWork
	case http.StatusBadRequest:
		return nil, ErrUpdateRequired
	default:
		return nil, c.statusError("acquire", res)
	}
}

// SubmitAnalysis posts analysis results for a batch. The same endpoint
// accepts both complete analysis and progress reports; the queue tells them
// apart by whether the first part is present.
func (c *Client) SubmitAnalysis(ctx context.Context, id internal.BatchID, parts []*AnalysisPart) error {
	envelope := c.envelope()
	envelope.Analysis = parts

	res, err := c.post(ctx, c.resolve("analysis", string(id)), envelope)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusOK {
		return c.statusError("submit analysis", res)
	}
	return nil
}

// SubmitMove posts the best move for a move batch.
func (c *Client) SubmitMove(ctx context.Context, id internal.BatchID, bestMove string) error {
	envelope := c.envelope()
	envelope.Move = &moveResult{BestMove: bestMove}

	res, err := c.post(ctx, c.resolve("move", string(id)), envelope)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusOK {
		return c.statusError("submit move", res)
	}
	return nil
}

// Abort returns an unfinished batch to the queue so another worker can pick
// it up.
func (c *Client) Abort(ctx context.Context, id internal.BatchID) error {
	res, err := c.post(ctx, c.resolve("abort", string(id)), c.envelope())
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusOK {
		return c.statusError("abort", res)
	}
	return nil
}

// Status fetches public queue depths for backlog gating.
func (c *Client) Status(ctx context.Context) (*QueueStatus, error) {
	u := c.resolve("status")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build status request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	res, err := c.doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch queue status: %w\nCheck connectivity to %s", err, c.endpoint)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, c.statusError("status", res)
	}

	var body statusBody
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode queue status: %w", err)
	}
	return &body.Analysis, nil
}

func (c *Client) resolve(parts ...string) *url.URL {
	u := *c.endpoint
	u.Path = path.Join(append([]string{u.Path}, parts...)...)
	return &u
}

func (c *Client) post(ctx context.Context, u *url.URL, body requestEnvelope) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", u, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	c.logger.Debug("queue request", zap.String("url", u.String()))

	res, err := c.doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w\nCheck connectivity to %s", u, err, c.endpoint)
	}
	return res, nil
}

func (c *Client) statusError(op string, res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
	return &StatusError{Op: op, Code: res.StatusCode, Body: string(bytes.TrimSpace(body))}
}
