package token

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemStoreAddGetRemove(t *testing.T) {
	s := NewInMemStore()
	ctx := context.Background()

	tok := Token{Type: TypeSession, ID: "s1", Owner: 42, Contents: []byte("payload"), Created: time.Now()}
	require.NoError(t, s.Add(ctx, tok))

	got, err := s.GetByID(ctx, TypeSession, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Owner)
	assert.Equal(t, []byte("payload"), got.Contents)

	assert.ErrorIs(t, s.Add(ctx, tok), ErrAlreadyExists)

	require.NoError(t, s.Remove(ctx, TypeSession, "s1"))
	_, err = s.GetByID(ctx, TypeSession, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Remove(ctx, TypeSession, "s1"), ErrNotFound)
}

func TestInMemStoreAbsoluteExpiry(t *testing.T) {
	s := NewInMemStore()
	ctx := context.Background()
	now := time.Now()
	s.now = func() time.Time { return now }

	expires := now.Add(time.Hour)
	require.NoError(t, s.Add(ctx, Token{Type: TypeSession, ID: "s1", Owner: 1, Created: now, Expires: &expires}))

	_, err := s.GetByID(ctx, TypeSession, "s1")
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = s.GetByID(ctx, TypeSession, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	owned, err := s.GetOwned(ctx, TypeSession, 1)
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func TestInMemStoreGetOwnedFiltersByTypeAndOwner(t *testing.T) {
	s := NewInMemStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Add(ctx, Token{Type: TypeSession, ID: "a", Owner: 1, Created: now}))
	require.NoError(t, s.Add(ctx, Token{Type: TypeSession, ID: "b", Owner: 2, Created: now}))
	require.NoError(t, s.Add(ctx, Token{Type: TypeRememberMe, ID: "c", Owner: 1, Created: now}))

	owned, err := s.GetOwned(ctx, TypeSession, 1)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, "a", owned[0].ID)

	all, err := s.GetAll(ctx, TypeSession)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestInMemStoreUpdate(t *testing.T) {
	s := NewInMemStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Add(ctx, Token{Type: TypeSession, ID: "s1", Owner: 1, Contents: []byte("v1"), Created: now}))

	later := now.Add(time.Hour)
	require.NoError(t, s.Update(ctx, TypeSession, "s1", &later, []byte("v2")))

	got, err := s.GetByID(ctx, TypeSession, "s1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got.Contents)
	require.NotNil(t, got.Expires)
	assert.True(t, got.Expires.Equal(later))

	// nil expires keeps the stored deadline
	require.NoError(t, s.Update(ctx, TypeSession, "s1", nil, []byte("v3")))
	got, err = s.GetByID(ctx, TypeSession, "s1")
	require.NoError(t, err)
	require.NotNil(t, got.Expires)
	assert.True(t, got.Expires.Equal(later))

	assert.ErrorIs(t, s.Update(ctx, TypeSession, "missing", nil, nil), ErrNotFound)
}

func TestInMemStoreTransactionSerializes(t *testing.T) {
	s := NewInMemStore()
	ctx := context.Background()

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results <- s.InTransaction(ctx, func(ctx context.Context, tx Store) error {
				_, err := tx.GetByID(ctx, TypeSession, "s1")
				if err == nil {
					return nil
				}
				return tx.Add(ctx, Token{Type: TypeSession, ID: "s1", Owner: 1, Created: time.Now()})
			})
		}()
	}
	require.NoError(t, <-results)
	require.NoError(t, <-results)

	all, err := s.GetAll(ctx, TypeSession)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
