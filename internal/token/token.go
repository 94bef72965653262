// Package token issues and verifies the stateless credentials used by the
// magic-link login flow and browser sessions.
//
// Tokens are compact HS256 JWTs: base64url(header).base64url(payload).base64url(mac).
// Nothing is persisted; a token is valid iff its MAC verifies, its kind matches
// the codec, and now < exp. There is no leeway and no revocation list.
package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind distinguishes the two credential families sharing one codec.
type Kind string

const (
	KindMagicLink Kind = "magic_link"
	KindSession   Kind = "session"
)

const (
	MagicLinkTTL = 15 * time.Minute
	SessionTTL   = 24 * time.Hour
)

// ErrInvalid is the only error Verify returns. Malformed input, a bad MAC,
// a kind mismatch and expiry are deliberately indistinguishable.
var ErrInvalid = errors.New("invalid token")

// Payload is the verified content of a token.
type Payload struct {
	AccountID string
	EmailHash string
	Kind      Kind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type claims struct {
	jwt.RegisteredClaims
	EmailHash string `json:"eh"`
	Kind      Kind   `json:"kind"`
}

// Codec signs and verifies tokens of a single kind.
type Codec struct {
	kind   Kind
	ttl    time.Duration
	secret []byte
	now    func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec returns a codec for kind with the given lifetime and server secret.
func NewCodec(kind Kind, ttl time.Duration, secret []byte, opts ...Option) *Codec {
	c := &Codec{kind: kind, ttl: ttl, secret: secret, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// TTL returns the lifetime of tokens issued by c.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Issue signs a token for the account.
func (c *Codec) Issue(accountID, emailHash string) (string, *Payload, error) {
	now := c.now()
	exp := now.Add(c.ttl)
	cl := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		EmailHash: emailHash,
		Kind:      c.kind,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(c.secret)
	if err != nil {
		return "", nil, err
	}
	return signed, &Payload{
		AccountID: accountID,
		EmailHash: emailHash,
		Kind:      c.kind,
		IssuedAt:  cl.IssuedAt.Time,
		ExpiresAt: cl.ExpiresAt.Time,
	}, nil
}

// Verify checks the token and returns its payload, or ErrInvalid.
func (c *Codec) Verify(raw string) (*Payload, error) {
	if strings.Count(raw, ".") != 2 {
		return nil, ErrInvalid
	}
	var cl claims
	tok, err := jwt.ParseWithClaims(raw, &cl, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !tok.Valid {
		return nil, ErrInvalid
	}
	if cl.Kind != c.kind || cl.Subject == "" {
		return nil, ErrInvalid
	}
	p := &Payload{
		AccountID: cl.Subject,
		EmailHash: cl.EmailHash,
		Kind:      cl.Kind,
		ExpiresAt: cl.ExpiresAt.Time,
	}
	if cl.IssuedAt != nil {
		p.IssuedAt = cl.IssuedAt.Time
	}
	return p, nil
}
