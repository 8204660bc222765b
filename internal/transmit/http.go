// Package transmit moves sealed artifacts off the device and samples the
// server's reference clock.
package transmit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/tinytelemetry/tracevault/internal/rotation"
)

const (
	uploadPath    = "/logs/upload"
	logField      = "logFile"
	hashField     = "hashFile"
	maxReplyBytes = 4096
)

// HTTPTransmitter uploads a handoff as a multipart form holding the content
// file and its hash companion. Only a 200 reply counts as acknowledgement.
type HTTPTransmitter struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransmitter creates a transmitter for the server at baseURL.
func NewHTTPTransmitter(baseURL string, timeout time.Duration) (*HTTPTransmitter, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("transmit: server url is empty")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPTransmitter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Transmit implements rotation.Transmitter.
func (t *HTTPTransmitter) Transmit(ctx context.Context, h rotation.Handoff) error {
	if len(h.Content) == 0 {
		return errors.New("transmit: refusing to send empty artifact")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := writePart(mw, logField, h.LogName, h.Content); err != nil {
		return err
	}
	if err := writePart(mw, hashField, h.HashName, []byte(h.Digest+"\n")); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("transmit: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+uploadPath, &body)
	if err != nil {
		return fmt.Errorf("transmit: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("transmit: upload %s: %w", h.LogName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		reply, _ := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
		return fmt.Errorf("transmit: upload %s: server replied %d: %s", h.LogName, resp.StatusCode, strings.TrimSpace(string(reply)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func writePart(mw *multipart.Writer, field, name string, data []byte) error {
	w, err := mw.CreateFormFile(field, name)
	if err != nil {
		return fmt.Errorf("transmit: create %s part: %w", field, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("transmit: write %s part: %w", field, err)
	}
	return nil
}
