// Package render delegates image generation to an external backend.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/edgeog/backend/internal/cacheid"
	"github.com/edgeog/backend/internal/logger"
)

// FallbackFormat is requested when the first render attempt fails.
const FallbackFormat = "svg"

var ErrBackend = errors.New("render backend failed")

type Image struct {
	ContentType string
	Body        []byte
}

// Renderer produces an image for normalized params.
type Renderer interface {
	Render(ctx context.Context, params cacheid.Params) (*Image, error)
}

// WithFallback renders params and, if that fails, retries once asking for
// the vector format. fellBack reports whether the returned image came from
// the retry.
func WithFallback(ctx context.Context, r Renderer, params cacheid.Params, log *slog.Logger) (img *Image, fellBack bool, err error) {
	img, err = r.Render(ctx, params)
	if err == nil {
		return img, false, nil
	}
	if params["format"] == FallbackFormat || ctx.Err() != nil {
		return nil, false, err
	}

	logger.FromContext(ctx, log).Warn("render failed, retrying with fallback format",
		"format", params["format"], "error", err)

	retry := maps.Clone(params)
	retry["format"] = FallbackFormat
	img, err2 := r.Render(ctx, retry)
	if err2 != nil {
		return nil, false, fmt.Errorf("%w; fallback: %w", err, err2)
	}
	return img, true, nil
}
