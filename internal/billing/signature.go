package billing

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/edgeog/backend/internal/secure"
)

// SignatureHeader carries "t={unix},v1={hex}[,v1=...]".
const SignatureHeader = "Stripe-Signature"

// DefaultTolerance bounds how old a signed timestamp may be.
const DefaultTolerance = 5 * time.Minute

var (
	ErrMissingSignature = errors.New("missing signature header")
	ErrBadSignature     = errors.New("signature mismatch")
	ErrStaleTimestamp   = errors.New("signature timestamp outside tolerance")
)

// Verifier checks webhook signatures: HMAC-SHA256 under the shared secret
// over "{t}.{body}", compared in constant time.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier returns a verifier. tolerance 0 selects DefaultTolerance and a
// negative tolerance disables the timestamp check.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance == 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

func (v *Verifier) SetClock(now func() time.Time) { v.now = now }

// Sign produces a header value for body at t. Used by tests and tooling that
// replay events.
func (v *Verifier) Sign(body []byte, t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return "t=" + ts + ",v1=" + secure.HMACHex(v.secret, ts+"."+string(body))
}

// Verify accepts header if any v1 entry matches.
func (v *Verifier) Verify(header string, body []byte) error {
	if header == "" {
		return ErrMissingSignature
	}
	if len(v.secret) == 0 {
		return ErrBadSignature
	}
	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = val
		case "v1":
			sigs = append(sigs, val)
		}
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || len(sigs) == 0 {
		return ErrBadSignature
	}

	want := secure.HMACHex(v.secret, ts+"."+string(body))
	matched := false
	for _, s := range sigs {
		if secure.EqualString(strings.ToLower(s), want) {
			matched = true
		}
	}
	if !matched {
		return ErrBadSignature
	}

	if v.tolerance > 0 {
		age := v.now().Sub(time.Unix(unix, 0))
		if age > v.tolerance || age < -v.tolerance {
			return ErrStaleTimestamp
		}
	}
	return nil
}
