// Package kv is the storage capability every ledger in the gateway is built on:
// get, put (with optional TTL), delete and prefix list. Implementations may be
// eventually consistent and offer no compare-and-swap; callers that
// read-modify-write accept lost updates under concurrency.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is the abstract key-value capability.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, opts ...PutOption) error
	Delete(ctx context.Context, key string) error
	// List returns the live keys starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Sweeper is implemented by backends that need expired rows purged
// explicitly rather than evicting them on their own.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// PutOptions are the resolved options of a Put.
type PutOptions struct {
	TTL time.Duration
}

// PutOption configures a Put.
type PutOption func(*PutOptions)

// WithTTL expires the key after d. Zero or negative means no expiry.
func WithTTL(d time.Duration) PutOption {
	return func(o *PutOptions) { o.TTL = d }
}

// ResolvePutOptions applies opts over the zero value.
func ResolvePutOptions(opts []PutOption) PutOptions {
	var o PutOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// GetJSON loads key and decodes it into v.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// PutJSON encodes v and stores it under key.
func PutJSON(ctx context.Context, s Store, key string, v any, opts ...PutOption) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Put(ctx, key, data, opts...)
}

// Key joins segments with ':' into a store key.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
