package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"capitania.club/internal/backend"
	"capitania.club/internal/stream"
)

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// SubscribeToTableChanges follows the change stream for table and calls fn
// for every change, reconnecting with backoff until unsubscribed. fn runs
// on the stream goroutine and must not unsubscribe itself. Close ends every
// subscription.
func (c *Client) SubscribeToTableChanges(table string, fn func(backend.Change)) backend.Subscription {
	ctx, cancel := context.WithCancel(c.ctx)
	done := make(chan struct{})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(done)
		c.follow(ctx, table, fn)
	}()
	return stream.Once(func() {
		cancel()
		<-done
	})
}

func (c *Client) follow(ctx context.Context, table string, fn func(backend.Change)) {
	backoff := minBackoff
	for {
		start := time.Now()
		err := c.followOnce(ctx, table, fn)
		if ctx.Err() != nil {
			return
		}
		if time.Since(start) > maxBackoff {
			backoff = minBackoff
		}
		c.log.Debug("client: change stream interrupted", "table", table, "err", err, "retry_in", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Client) followOnce(ctx context.Context, table string, fn func(backend.Change)) error {
	token := c.token()
	if token == "" {
		return ErrNoSession
	}
	endpoint := c.baseURL + "/v1/members/stream?table=" + url.QueryEscape(table)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create SSE request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+token)

	// The resty timeout would cut the stream; use the raw transport.
	hc := *c.http.GetClient()
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to establish SSE connection: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Message: "stream rejected"}
	}
	return parseSSE(ctx, resp.Body, fn)
}

// parseSSE decodes data lines into changes until the body ends.
func parseSSE(ctx context.Context, body io.Reader, fn func(backend.Change)) error {
	scanner := bufio.NewScanner(body)
	var data strings.Builder

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Text()
		if line == "" {
			if data.Len() > 0 {
				var change backend.Change
				if err := json.Unmarshal([]byte(data.String()), &change); err == nil {
					fn(change)
				}
				data.Reset()
			}
			continue
		}
		if strings.HasPrefix(line, "data: ") {
			data.WriteString(strings.TrimPrefix(line, "data: "))
		}
	}
	return scanner.Err()
}
