package validation

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/edgeog/backend/internal/apierr"
)

// MaxBodyBytes bounds every JSON request body.
const MaxBodyBytes = 64 << 10

// IsJSON reports whether the request declares a JSON body.
func IsJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

// DecodeRequest checks the content type, validates the body against the
// named schema and decodes it into dst. Failures come back as API errors
// (415 or 400) ready to write.
func (v *Validator) DecodeRequest(r *http.Request, name string, dst any) error {
	if !IsJSON(r) {
		return apierr.UnsupportedMediaType()
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return apierr.BadRequest("failed to read body")
	}
	if len(raw) > MaxBodyBytes {
		return apierr.BadRequest("body too large")
	}
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := v.Decode(name, raw, dst); err != nil {
		if errors.Is(err, ErrInvalidJSON) {
			return apierr.BadRequest("invalid JSON body")
		}
		return apierr.BadRequest(err.Error())
	}
	return nil
}
