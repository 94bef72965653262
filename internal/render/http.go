package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/edgeog/backend/internal/cacheid"
	"github.com/edgeog/backend/internal/logger"
	"github.com/edgeog/backend/internal/metrics"
)

const (
	defaultTimeout = 10 * time.Second
	maxImageBytes  = 10 << 20
)

// HTTPRenderer POSTs the params as JSON to a render backend and returns the
// response body as the image.
type HTTPRenderer struct {
	URL        string
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *metrics.Collector
}

func NewHTTPRenderer(url string, timeout time.Duration, log *slog.Logger, m *metrics.Collector) *HTTPRenderer {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &HTTPRenderer{
		URL:        url,
		HTTPClient: &http.Client{Timeout: timeout},
		Logger:     log.With("component", "render"),
		Metrics:    m,
	}
}

type renderPayload struct {
	Params        cacheid.Params `json:"params"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

func (h *HTTPRenderer) Render(ctx context.Context, params cacheid.Params) (*Image, error) {
	start := time.Now()
	img, err := h.do(ctx, params)
	h.Metrics.ObserveRender(params["format"], err == nil, time.Since(start))
	if err != nil {
		logger.FromContext(ctx, h.Logger).Warn("render backend error", "error", err)
	}
	return img, err
}

func (h *HTTPRenderer) do(ctx context.Context, params cacheid.Params) (*Image, error) {
	body, err := json.Marshal(renderPayload{Params: params, CorrelationID: logger.CorrelationID(ctx)})
	if err != nil {
		return nil, fmt.Errorf("marshal render payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d", ErrBackend, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrBackend, err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", ErrBackend, maxImageBytes)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return &Image{ContentType: ct, Body: data}, nil
}
