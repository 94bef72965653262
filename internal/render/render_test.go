package render

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edgeog/backend/internal/cacheid"
	"github.com/edgeog/backend/internal/logger"
)

func TestHTTPRenderer_Success(t *testing.T) {
	var got renderPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("PNGDATA"))
	}))
	defer srv.Close()

	h := NewHTTPRenderer(srv.URL, time.Second, logger.Discard(), nil)
	ctx := logger.WithCorrelationID(context.Background(), "cid-9")
	img, err := h.Render(ctx, cacheid.Params{"title": "hi", "format": "png"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if img.ContentType != "image/png" || string(img.Body) != "PNGDATA" {
		t.Errorf("unexpected image %+v", img)
	}
	if got.Params["title"] != "hi" || got.CorrelationID != "cid-9" {
		t.Errorf("backend received %+v", got)
	}
}

func TestHTTPRenderer_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := NewHTTPRenderer(srv.URL, time.Second, logger.Discard(), nil)
	if _, err := h.Render(context.Background(), cacheid.Params{}); !errors.Is(err, ErrBackend) {
		t.Errorf("expected ErrBackend, got %v", err)
	}
}

type scripted struct {
	calls   atomic.Int32
	formats []string
	failFor map[string]bool
}

func (s *scripted) Render(_ context.Context, p cacheid.Params) (*Image, error) {
	s.calls.Add(1)
	s.formats = append(s.formats, p["format"])
	if s.failFor[p["format"]] {
		return nil, ErrBackend
	}
	return &Image{ContentType: "image/" + p["format"], Body: []byte("ok")}, nil
}

func TestWithFallback(t *testing.T) {
	ctx := context.Background()
	log := logger.Discard()

	t.Run("first attempt succeeds", func(t *testing.T) {
		s := &scripted{}
		_, fellBack, err := WithFallback(ctx, s, cacheid.Params{"format": "png"}, log)
		if err != nil || fellBack || s.calls.Load() != 1 {
			t.Errorf("err=%v fellBack=%v calls=%d", err, fellBack, s.calls.Load())
		}
	})

	t.Run("retries with svg", func(t *testing.T) {
		s := &scripted{failFor: map[string]bool{"png": true}}
		params := cacheid.Params{"format": "png"}
		img, fellBack, err := WithFallback(ctx, s, params, log)
		if err != nil || !fellBack {
			t.Fatalf("err=%v fellBack=%v", err, fellBack)
		}
		if img.ContentType != "image/svg" || strings.Join(s.formats, ",") != "png,svg" {
			t.Errorf("formats=%v img=%+v", s.formats, img)
		}
		if params["format"] != "png" {
			t.Error("caller's params were mutated")
		}
	})

	t.Run("both fail", func(t *testing.T) {
		s := &scripted{failFor: map[string]bool{"png": true, "svg": true}}
		if _, _, err := WithFallback(ctx, s, cacheid.Params{"format": "png"}, log); !errors.Is(err, ErrBackend) {
			t.Errorf("expected ErrBackend, got %v", err)
		}
	})

	t.Run("svg request is not retried", func(t *testing.T) {
		s := &scripted{failFor: map[string]bool{"svg": true}}
		_, _, err := WithFallback(ctx, s, cacheid.Params{"format": "svg"}, log)
		if err == nil || s.calls.Load() != 1 {
			t.Errorf("err=%v calls=%d", err, s.calls.Load())
		}
	})
}

func TestPlaceholder_EscapesTitle(t *testing.T) {
	img, err := Placeholder{}.Render(context.Background(), cacheid.Params{"title": "<script>", "theme": "dark"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(img.Body), "<script>") {
		t.Error("title not escaped")
	}
	if img.ContentType != "image/svg+xml" {
		t.Errorf("content type %s", img.ContentType)
	}
}
