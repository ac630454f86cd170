package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/voicectl/internal/adapters/store"
	"github.com/dkeye/voicectl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Unix(1_700_000_000, 0)

func clock() time.Time { return fixedNow }

func expiring(delta int64) domain.Credential {
	exp := fixedNow.Unix() + delta
	return domain.Credential{
		AccessToken: "a.b.c",
		ExpiresAt:   &exp,
		User:        domain.Subject{ID: "u1", Email: "op@example.com"},
	}
}

func TestLoadValid(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemory(), WithClock(clock))

	require.NoError(t, s.Save(ctx, expiring(60)))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a.b.c", got.AccessToken)
	assert.Equal(t, domain.UserID("u1"), got.User.ID)
	assert.True(t, s.IsAuthenticated(ctx))
}

func TestLoadWithoutExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemory(), WithClock(clock))

	require.NoError(t, s.Save(ctx, domain.Credential{AccessToken: "t"}))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.ExpiresAt)
}

func TestLoadExpiredPurges(t *testing.T) {
	for _, delta := range []int64{-1, 0} {
		ctx := context.Background()
		blobs := store.NewMemory()
		s := NewStore(blobs, WithClock(clock))

		require.NoError(t, s.Save(ctx, expiring(delta)))
		got, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, got, "delta %d", delta)
		assert.Equal(t, 0, blobs.Len(), "store should be empty after expiry purge")

		// second read is a no-op purge
		got, err = s.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)
	}
}

func TestLoadUnreadablePurges(t *testing.T) {
	ctx := context.Background()
	blobs := store.NewMemory()
	require.NoError(t, blobs.Set(ctx, DefaultKey, "{not json"))

	s := NewStore(blobs)
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 0, blobs.Len())
}

func TestSaveOverwritesAndClear(t *testing.T) {
	ctx := context.Background()
	blobs := store.NewMemory()
	s := NewStore(blobs, WithClock(clock), WithKey("custom"))

	require.NoError(t, s.Save(ctx, expiring(60)))
	second := expiring(120)
	second.AccessToken = "x.y.z"
	require.NoError(t, s.Save(ctx, second))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "x.y.z", got.AccessToken)

	_, ok, _ := blobs.Get(ctx, "custom")
	assert.True(t, ok)

	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx))
	assert.False(t, s.IsAuthenticated(ctx))
}

type failingBlobs struct{}

func (failingBlobs) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk gone")
}
func (failingBlobs) Set(context.Context, string, string) error { return nil }
func (failingBlobs) Delete(context.Context, string) error      { return nil }

func TestLoadPropagatesStoreFailure(t *testing.T) {
	s := NewStore(failingBlobs{})
	_, err := s.Load(context.Background())
	assert.Error(t, err)
}
