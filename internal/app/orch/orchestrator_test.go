package orch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/voicectl/internal/adapters/store"
	"github.com/dkeye/voicectl/internal/app/credential"
	"github.com/dkeye/voicectl/internal/app/session"
	"github.com/dkeye/voicectl/internal/app/turn"
	"github.com/dkeye/voicectl/internal/core"
	"github.com/dkeye/voicectl/internal/core/coretest"
	"github.com/dkeye/voicectl/internal/domain"
	"github.com/dkeye/voicectl/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	engine  *coretest.Engine
	creds   *credential.Store
	turns   *turn.Coordinator
	notes   *coretest.Notifications
	metrics *telemetry.Metrics
	issued  atomic.Int32
	fail    atomic.Bool
	o       *Orchestrator
}

func newFixture(t *testing.T, engine *coretest.Engine, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		engine:  engine,
		creds:   credential.NewStore(store.NewMemory()),
		notes:   &coretest.Notifications{},
		metrics: telemetry.NewMetrics(prometheus.NewRegistry()),
	}
	tickets := coretest.TicketFunc(func(_ context.Context, token string) (*domain.SessionTicket, error) {
		if f.fail.Load() {
			return nil, errors.New("ticketing unavailable")
		}
		n := f.issued.Add(1)
		return &domain.SessionTicket{
			JoinToken:     "t",
			MediaURL:      "wss://x",
			Room:          "room-1",
			CorrelationID: domain.CorrelationID(string(rune('a' + n - 1))),
		}, nil
	})
	f.turns = turn.NewCoordinator(engine)
	f.o = New(engine, f.creds, session.NewEstablisher(nil, tickets, f.creds), f.turns, cfg)
	f.o.Notifier = f.notes
	f.o.Metrics = f.metrics
	t.Cleanup(func() { _ = f.o.Close(context.Background()) })
	return f
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	exp := time.Now().Add(time.Hour).Unix()
	require.NoError(t, f.creds.Save(context.Background(), domain.Credential{
		AccessToken: "header.payload.sig",
		ExpiresAt:   &exp,
		User:        domain.Subject{ID: "u-1", Email: "a@b.c"},
	}))
}

func TestStartSessionConnects(t *testing.T) {
	f := newFixture(t, coretest.NewEngine(), Config{})
	f.login(t)

	require.NoError(t, f.o.StartSession(context.Background()))

	assert.Equal(t, [][2]string{{"wss://x", "t"}}, f.engine.Connects())
	assert.True(t, f.engine.MicrophoneEnabled())
	snap := f.o.Snapshot()
	assert.True(t, snap.Started)
	assert.Equal(t, "connected", snap.Media)
	assert.Equal(t, "idle", snap.Turn)
	assert.Equal(t, "room-1", snap.Room)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Connects.WithLabelValues("ok")))
}

func TestStartSessionRequiresCredential(t *testing.T) {
	f := newFixture(t, coretest.NewEngine(), Config{})

	err := f.o.StartSession(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
	assert.Empty(t, f.engine.Connects())
}

func TestStartSessionTicketFailure(t *testing.T) {
	f := newFixture(t, coretest.NewEngine(), Config{})
	f.login(t)
	f.fail.Store(true)

	err := f.o.StartSession(context.Background())
	assert.ErrorIs(t, err, domain.ErrTicketRequestFailed)
	assert.Empty(t, f.engine.Connects())
	assert.False(t, f.o.Snapshot().Started)
}

func TestStartSessionWhileConnectedSkipsConnect(t *testing.T) {
	f := newFixture(t, coretest.Connected(), Config{})
	f.login(t)

	require.NoError(t, f.o.StartSession(context.Background()))
	assert.Empty(t, f.engine.Connects())
	assert.True(t, f.o.Snapshot().Started)
}

func TestConnectFailure(t *testing.T) {
	engine := coretest.NewEngine()
	engine.ConnectErr = errors.New("ice failed")
	f := newFixture(t, engine, Config{})
	f.login(t)

	err := f.o.StartSession(context.Background())
	assert.ErrorIs(t, err, domain.ErrConnectionFailed)
	assert.ErrorContains(t, err, "ice failed")
	assert.Equal(t, core.StateDisconnected, engine.State())
	assert.False(t, f.o.Snapshot().Started)

	notes := f.notes.All()
	require.Len(t, notes, 1)
	assert.Equal(t, "Connection failed", notes[0].Title)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Connects.WithLabelValues("failed")))

	// No automatic retry, but the next ticket is fetched ahead.
	assert.Len(t, engine.Connects(), 1)
	require.Eventually(t, func() bool { return f.issued.Load() == 2 }, time.Second, time.Millisecond)
}

func TestMicrophoneFailureDisconnects(t *testing.T) {
	engine := coretest.NewEngine()
	engine.MicErr = errors.New("permission denied")
	f := newFixture(t, engine, Config{})
	f.login(t)

	err := f.o.StartSession(context.Background())
	assert.ErrorIs(t, err, domain.ErrConnectionFailed)
	assert.Equal(t, core.StateDisconnected, engine.State())
	assert.False(t, f.o.Snapshot().Started)
}

func TestDisconnectResetsAndPrefetches(t *testing.T) {
	f := newFixture(t, coretest.NewEngine(), Config{})
	f.login(t)
	ctx := context.Background()

	require.NoError(t, f.o.StartSession(ctx))
	require.EqualValues(t, 1, f.issued.Load())

	f.engine.Drop()
	assert.False(t, f.o.Snapshot().Started)
	assert.Empty(t, f.o.Snapshot().CorrelationID)
	require.Eventually(t, func() bool { return f.issued.Load() == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		f.o.mu.Lock()
		defer f.o.mu.Unlock()
		return f.o.prefetched != nil
	}, time.Second, time.Millisecond)

	// The prefetched ticket is used once, without another ticket request.
	require.NoError(t, f.o.StartSession(ctx))
	assert.EqualValues(t, 2, f.issued.Load())
	assert.Equal(t, "b", f.o.Snapshot().CorrelationID)
	assert.Len(t, f.engine.Connects(), 2)
}

func TestDisconnectResetsTurn(t *testing.T) {
	engine := coretest.Connected(domain.Participant{Identity: "agent-1", IsAgent: true})
	f := newFixture(t, engine, Config{})
	ctx := context.Background()

	f.turns.StartTurn(ctx)
	require.Equal(t, domain.TurnActive, f.turns.State())

	engine.Drop()
	assert.Equal(t, domain.TurnIdle, f.turns.State())
}

func TestPrefetchFailureIsNotSurfaced(t *testing.T) {
	f := newFixture(t, coretest.Connected(), Config{})
	f.login(t)
	f.fail.Store(true)

	f.engine.Drop()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.Prefetches.WithLabelValues("failed")) == 1
	}, time.Second, time.Millisecond)
	assert.Empty(t, f.notes.All())
}

func TestPrefetchRateLimited(t *testing.T) {
	engine := coretest.NewEngine()
	f := newFixture(t, engine, Config{PrefetchLimit: 1, PrefetchInterval: time.Hour})
	f.login(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, engine.Connect(ctx, "wss://x", "t"))
		engine.Drop()
	}
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.Prefetches.WithLabelValues("limited")) == 2
	}, time.Second, time.Millisecond)
	assert.EqualValues(t, 1, f.issued.Load())
}

func TestPrefetchWithoutCredentialSkips(t *testing.T) {
	f := newFixture(t, coretest.Connected(), Config{})

	f.engine.Drop()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.Prefetches.WithLabelValues("skipped")) == 1
	}, time.Second, time.Millisecond)
	assert.Zero(t, f.issued.Load())
}

func TestPrefetchedTicketBoundToUser(t *testing.T) {
	f := newFixture(t, coretest.Connected(), Config{})
	f.login(t)

	f.engine.Drop()
	require.Eventually(t, func() bool {
		f.o.mu.Lock()
		defer f.o.mu.Unlock()
		return f.o.prefetched != nil
	}, time.Second, time.Millisecond)

	assert.Nil(t, f.o.takePrefetched("u-2"))
	// Taking consumes the ticket even on a user mismatch.
	assert.Nil(t, f.o.takePrefetched("u-1"))
}

func TestStopSessionIdempotent(t *testing.T) {
	f := newFixture(t, coretest.NewEngine(), Config{})
	f.login(t)
	ctx := context.Background()
	require.NoError(t, f.o.StartSession(ctx))

	require.NoError(t, f.o.StopSession(ctx))
	require.NoError(t, f.o.StopSession(ctx))
	assert.Equal(t, 1, f.engine.Disconnects())
	assert.False(t, f.o.Snapshot().Started)
}

func TestMediaDeviceErrorNotifies(t *testing.T) {
	f := newFixture(t, coretest.Connected(), Config{})

	f.engine.Emit(core.Event{Kind: core.EventMediaDeviceError, Err: errors.New("mic unplugged")})

	notes := f.notes.All()
	require.Len(t, notes, 1)
	assert.Equal(t, "Media device error", notes[0].Title)
	assert.Equal(t, "mic unplugged", notes[0].Description)
}

func TestCloseReleasesSubscription(t *testing.T) {
	engine := coretest.Connected()
	f := newFixture(t, engine, Config{})
	require.Equal(t, 1, engine.Subscribers())

	require.NoError(t, f.o.Close(context.Background()))
	assert.Zero(t, engine.Subscribers())
	assert.Equal(t, core.StateDisconnected, engine.State())
	assert.Zero(t, f.issued.Load())
}

func TestSnapshotAgent(t *testing.T) {
	engine := coretest.Connected(domain.Participant{Identity: "user-1"}, domain.Participant{Identity: "voice-agent"})
	f := newFixture(t, engine, Config{})

	assert.Equal(t, "voice-agent", f.o.Snapshot().Agent)
}
