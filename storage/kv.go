package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/c360studio/semstreams/pkg/retry"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultKVBucket is the JetStream bucket for provisional terms.
const DefaultKVBucket = "SEMVOCAB_PROVISIONAL"

// KV is a Backend stored in a NATS JetStream key/value bucket. Transient
// failures are retried; missing keys and conflicts are not.
type KV struct {
	kv    jetstream.KeyValue
	retry retry.Config
}

// NewKV opens the named bucket, creating it if it doesn't exist.
func NewKV(ctx context.Context, js jetstream.JetStream, bucket string) (*KV, error) {
	if bucket == "" {
		bucket = DefaultKVBucket
	}
	kv, err := getOrCreateBucket(ctx, js, bucket)
	if err != nil {
		return nil, fmt.Errorf("create %s bucket: %w", bucket, err)
	}
	return &KV{kv: kv, retry: retry.Quick()}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Semvocab %s storage", strings.ToLower(name)),
		History:     5,
	})
}

// do runs fn with retries, mapping terminal KV errors to storage errors.
func (s *KV) do(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, s.retry, func() error {
		err := fn()
		switch {
		case err == nil:
			return nil
		case isNotFound(err):
			return retry.NonRetryable(ErrNotFound)
		case errors.Is(err, jetstream.ErrKeyExists):
			return retry.NonRetryable(ErrExists)
		}
		return err
	})
}

// Get implements Backend.
func (s *KV) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.do(ctx, func() error {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			return err
		}
		out = entry.Value()
		return nil
	})
	if err != nil {
		return nil, unwrapTerminal(err)
	}
	return out, nil
}

// Put implements Backend.
func (s *KV) Put(ctx context.Context, key string, value []byte) error {
	err := s.do(ctx, func() error {
		_, err := s.kv.Put(ctx, key, value)
		return err
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, unwrapTerminal(err))
	}
	return nil
}

// Create implements Backend.
func (s *KV) Create(ctx context.Context, key string, value []byte) error {
	err := s.do(ctx, func() error {
		_, err := s.kv.Create(ctx, key, value)
		return err
	})
	if err != nil {
		return fmt.Errorf("create %s: %w", key, unwrapTerminal(err))
	}
	return nil
}

// Delete implements Backend.
func (s *KV) Delete(ctx context.Context, key string) error {
	err := s.do(ctx, func() error {
		return s.kv.Delete(ctx, key)
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete %s: %w", key, unwrapTerminal(err))
	}
	return nil
}

// Keys implements Backend.
func (s *KV) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.do(ctx, func() error {
		var err error
		keys, err = s.kv.Keys(ctx)
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			keys, err = nil, nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", unwrapTerminal(err))
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements Backend. The NATS connection is owned by the caller.
func (s *KV) Close() error { return nil }

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, jetstream.ErrKeyNotFound) || strings.Contains(err.Error(), "key not found")
}

// unwrapTerminal strips the retry wrapper from a non-retryable error so
// callers can compare against ErrNotFound and ErrExists.
func unwrapTerminal(err error) error {
	var nr *retry.NonRetryableError
	if errors.As(err, &nr) {
		return nr.Err
	}
	return err
}
