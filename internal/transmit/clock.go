package transmit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tinytelemetry/tracevault/internal/model"
)

const clockPath = "/logs/timestamp"

// ClockClient samples the server's reference clock.
type ClockClient struct {
	baseURL string
	client  *http.Client
}

// NewClockClient creates a client for the server at baseURL. Each sample is
// bounded by timeout.
func NewClockClient(baseURL string, timeout time.Duration) *ClockClient {
	if timeout <= 0 {
		timeout = model.DefaultClockTimeout
	}
	return &ClockClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Now returns the server's current time.
func (c *ClockClient) Now(ctx context.Context) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+clockPath, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("transmit: clock request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("transmit: clock: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("transmit: clock: server replied %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return time.Time{}, fmt.Errorf("transmit: clock read: %w", err)
	}
	ts, err := time.Parse(model.TimeLayout, strings.TrimSpace(string(body)))
	if err != nil {
		return time.Time{}, fmt.Errorf("transmit: clock parse: %w", err)
	}
	return ts, nil
}

// Reference returns the reference time for a line about to be written, or
// nil when the clock could not be sampled. A missing reference is valid.
func (c *ClockClient) Reference(ctx context.Context) *time.Time {
	if c == nil || c.baseURL == "" {
		return nil
	}
	ts, err := c.Now(ctx)
	if err != nil {
		return nil
	}
	return &ts
}
