package backoffice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

type httpPoster struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *zap.Logger
}

// NewHTTPPoster talks to the back-office controller over its JSON API.
func NewHTTPPoster(baseURL, apiKey string, timeout time.Duration, log *zap.Logger) Poster {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpPoster{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		log:     log.Named("backoffice.client"),
	}
}

func (p *httpPoster) PostStart(ctx context.Context, notice StartNotice) (*StartAck, error) {
	var ack StartAck
	if err := p.post(ctx, "/v1/transactions/start", notice, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

func (p *httpPoster) PostStop(ctx context.Context, notice StopNotice) error {
	return p.post(ctx, "/v1/transactions/stop", notice, nil)
}

func (p *httpPoster) PostMeterValues(ctx context.Context, notice MeterNotice) error {
	return p.post(ctx, "/v1/transactions/meter-values", notice, nil)
}

func (p *httpPoster) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("backoffice: encode %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("backoffice: build %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("backoffice: post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		p.log.Warn("back office rejected post",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", snippet),
		)
		return fmt.Errorf("backoffice: post %s: status %d", path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backoffice: decode %s: %w", path, err)
	}
	return nil
}
