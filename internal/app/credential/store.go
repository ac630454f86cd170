// Package credential keeps the operator's access credential in a blob store
// and purges it once it expires.
package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/voicectl/internal/core"
	"github.com/dkeye/voicectl/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultKey = "voice_auth_data"

type Store struct {
	blobs core.BlobStore
	key   string
	now   func() time.Time
}

type Option func(*Store)

// WithKey overrides the blob key the credential is stored under.
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithClock sets the time source used for the expiry check.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(blobs core.BlobStore, opts ...Option) *Store {
	s := &Store{blobs: blobs, key: DefaultKey, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save persists c, replacing any previous credential.
func (s *Store) Save(ctx context.Context, c domain.Credential) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	if err := s.blobs.Set(ctx, s.key, string(b)); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	log.Info().Str("module", "app.credential").Str("user", string(c.User.ID)).Msg("credential saved")
	return nil
}

// Load returns the stored credential, or nil when none is stored or it has
// expired. Expired and undecodable entries are purged as a side effect.
func (s *Store) Load(ctx context.Context) (*domain.Credential, error) {
	raw, ok, err := s.blobs.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("read credential: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var c domain.Credential
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		log.Error().Err(err).Str("module", "app.credential").Msg("stored credential unreadable, clearing")
		return nil, s.Clear(ctx)
	}

	now := s.now()
	if c.ExpiredAt(now) {
		log.Info().Str("module", "app.credential").Str("user", string(c.User.ID)).Msg("credential expired, clearing")
		return nil, s.Clear(ctx)
	}
	if left := c.Remaining(now); left >= 0 {
		log.Debug().Str("module", "app.credential").Dur("remaining", left).Msg("credential valid")
	}
	return &c, nil
}

// Clear removes the stored credential unconditionally.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.blobs.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	return nil
}

// IsAuthenticated reports whether a valid credential is stored.
func (s *Store) IsAuthenticated(ctx context.Context) bool {
	c, err := s.Load(ctx)
	return err == nil && c != nil
}
