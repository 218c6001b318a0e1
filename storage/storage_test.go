package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/c360studio/semstreams/pkg/retry"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
}

func exerciseBackend(t *testing.T, b Backend) {
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		_, err := b.Get(ctx, "0000000001")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("create and get", func(t *testing.T) {
		require.NoError(t, CreateJSON(ctx, b, "0000000001", record{ID: 1, Label: "micromolar"}))
		var got record
		require.NoError(t, GetJSON(ctx, b, "0000000001", &got))
		assert.Equal(t, record{ID: 1, Label: "micromolar"}, got)
	})

	t.Run("create refuses existing key", func(t *testing.T) {
		err := CreateJSON(ctx, b, "0000000001", record{ID: 1, Label: "other"})
		assert.ErrorIs(t, err, ErrExists)
	})

	t.Run("put replaces", func(t *testing.T) {
		require.NoError(t, PutJSON(ctx, b, "0000000001", record{ID: 1, Label: "uM"}))
		var got record
		require.NoError(t, GetJSON(ctx, b, "0000000001", &got))
		assert.Equal(t, "uM", got.Label)
	})

	t.Run("keys sorted", func(t *testing.T) {
		require.NoError(t, PutJSON(ctx, b, "0000000003", record{ID: 3}))
		require.NoError(t, PutJSON(ctx, b, "0000000002", record{ID: 2}))
		keys, err := b.Keys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"0000000001", "0000000002", "0000000003"}, keys)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, b.Delete(ctx, "0000000002"))
		require.NoError(t, b.Delete(ctx, "0000000002"))
		_, err := b.Get(ctx, "0000000002")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := b.Get(cctx, "0000000001")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMemoryBackend(t *testing.T) {
	exerciseBackend(t, NewMemory())
}

func TestBoltBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provisional.db")
	b, err := OpenBolt(path, "")
	require.NoError(t, err)
	exerciseBackend(t, b)
	require.NoError(t, b.Close())

	// Records survive reopening the file.
	b, err = OpenBolt(path, "")
	require.NoError(t, err)
	defer b.Close()
	keys, err := b.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0000000001", "0000000003"}, keys)
}

func TestOpenBoltRequiresPath(t *testing.T) {
	_, err := OpenBolt("  ", "")
	assert.Error(t, err)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	value := []byte(`{"id":1}`)
	require.NoError(t, m.Put(ctx, "k", value))
	value[0] = 'x'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	got[1] = 'x'

	again, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `{"id":1}`, string(again))
}

func TestKVErrorMapping(t *testing.T) {
	assert.True(t, isNotFound(jetstream.ErrKeyNotFound))
	assert.True(t, isNotFound(fmt.Errorf("get: %w", jetstream.ErrKeyNotFound)))
	assert.True(t, isNotFound(errors.New("nats: key not found")))
	assert.False(t, isNotFound(nil))
	assert.False(t, isNotFound(errors.New("timeout")))

	err := unwrapTerminal(retry.NonRetryable(ErrExists))
	assert.Same(t, ErrExists, err)
	assert.Equal(t, ErrNotFound, unwrapTerminal(ErrNotFound))
}
