package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"zag/internal/message"
	"zag/internal/stream"
)

var errNoFinish = errors.New("stream ended without a finish part")

// Client sends a Session's conversation to the gateway and feeds the
// streamed reply back into it.
type Client struct {
	url        string
	httpClient *http.Client
	session    *Session

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

func NewClient(baseURL string, session *Session) *Client {
	return &Client{
		url:        strings.TrimRight(baseURL, "/") + "/api/chat",
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		session:    session,
	}
}

func (c *Client) Session() *Session { return c.session }

// Send submits text and streams the reply. onPart sees every part after the
// session has applied it. A Stop during the request ends it without error.
func (c *Client) Send(ctx context.Context, text string, onPart func(stream.Part)) error {
	c.session.SetInput(text)
	if _, err := c.session.Submit(); err != nil {
		return err
	}
	return c.stream(ctx, onPart)
}

// Stop cancels the in-flight request, if any.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.stopped = true
		c.cancel()
	}
}

// Stopped reports whether the last request was ended by Stop.
func (c *Client) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Client) stream(ctx context.Context, onPart func(stream.Part)) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel, c.stopped = cancel, false
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		stopped := c.stopped
		c.cancel = nil
		c.mu.Unlock()
		cancel()

		if err == nil {
			return
		}
		if stopped {
			_ = c.session.Abort()
			err = nil
			return
		}
		_ = c.session.Fail(err)
	}()

	body, err := json.Marshal(message.Request{Messages: c.session.Messages()})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	r := stream.NewReader(resp)
	for {
		p, err := r.Next()
		if errors.Is(err, io.EOF) {
			return errNoFinish
		}
		if err != nil {
			return fmt.Errorf("reading stream: %w", err)
		}
		if err := c.session.Receive(p); err != nil {
			return err
		}
		if onPart != nil {
			onPart(p)
		}
		if p.Kind == stream.KindError {
			return fmt.Errorf("gateway: %s", p.Value)
		}
		if p.Kind == stream.KindFinish {
			return nil
		}
	}
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return fmt.Errorf("gateway: status %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("gateway: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
}
