package kvstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.True(t, errors.Is(err, ErrNotFound), "Get(missing) error = %v", err)

	require.NoError(t, s.Set(ctx, "pii_policy_v1", []byte(`{"enabled":true}`)))
	got, err := s.Get(ctx, "pii_policy_v1")
	require.NoError(t, err)
	assert.Equal(t, `{"enabled":true}`, string(got))

	require.NoError(t, s.Set(ctx, "pii_policy_v1", []byte(`{"enabled":false}`)))
	got, err = s.Get(ctx, "pii_policy_v1")
	require.NoError(t, err)
	assert.Equal(t, `{"enabled":false}`, string(got), "last writer wins")
}

func TestInMemoryStore(t *testing.T) {
	s := NewInMemoryStore()
	defer s.Close()
	exerciseStore(t, s)
}

func TestInMemoryStoreCopiesValues(t *testing.T) {
	s := NewInMemoryStore()
	buf := []byte("abc")
	require.NoError(t, s.Set(context.Background(), "k", buf))
	buf[0] = 'x'
	got, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "kv.db")
	s, err := NewStore(context.Background(), "sqlite://"+path)
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestNewStoreSchemes(t *testing.T) {
	s, err := NewStore(context.Background(), "")
	require.NoError(t, err)
	_, ok := s.(*InMemoryStore)
	assert.True(t, ok)

	s, err = NewStore(context.Background(), "memory")
	require.NoError(t, err)
	_, ok = s.(*InMemoryStore)
	assert.True(t, ok)

	_, err = NewStore(context.Background(), "redis://localhost")
	assert.Error(t, err)
}
