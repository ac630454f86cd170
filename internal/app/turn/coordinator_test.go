package turn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/voicectl/internal/core"
	"github.com/dkeye/voicectl/internal/core/coretest"
	"github.com/dkeye/voicectl/internal/domain"
	"github.com/dkeye/voicectl/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var agent = domain.Participant{Identity: "agent-7f3a", IsAgent: true}

func newCoordinator(engine core.MediaEngine) (*Coordinator, *telemetry.Metrics) {
	m := telemetry.NewMetrics(prometheus.NewRegistry())
	return NewCoordinator(engine, WithMetrics(m), WithRPCTimeout(time.Second)), m
}

func TestStartEndWithAgent(t *testing.T) {
	ctx := context.Background()
	engine := coretest.Connected(agent)
	c, m := newCoordinator(engine)

	c.StartTurn(ctx)
	assert.Equal(t, domain.TurnActive, c.State())
	assert.True(t, engine.MicrophoneEnabled())

	c.EndTurn(ctx)
	assert.Equal(t, domain.TurnIdle, c.State())
	assert.False(t, engine.MicrophoneEnabled())

	assert.Equal(t, []coretest.RPC{
		{Identity: "agent-7f3a", Method: MethodStartTurn},
		{Identity: "agent-7f3a", Method: MethodEndTurn},
	}, engine.Calls())
	assert.Equal(t, []bool{true, false}, engine.MicCalls())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnSignals.WithLabelValues(MethodStartTurn, telemetry.OutcomeAcknowledged)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsFinished.WithLabelValues("ended")))
}

func TestTurnSignalsFirstMatchingParticipant(t *testing.T) {
	ctx := context.Background()
	engine := coretest.Connected(
		domain.Participant{Identity: "agent-by-name"},
		domain.Participant{Identity: "bot-1", IsAgent: true},
	)
	c, _ := newCoordinator(engine)

	c.StartTurn(ctx)
	c.CancelTurn(ctx)

	assert.Equal(t, []coretest.RPC{
		{Identity: "agent-by-name", Method: MethodStartTurn},
		{Identity: "agent-by-name", Method: MethodCancelTurn},
	}, engine.Calls())
}

func TestNoAgentFallsBackToLocalTurn(t *testing.T) {
	ctx := context.Background()
	engine := coretest.Connected(domain.Participant{Identity: "observer"})
	c, m := newCoordinator(engine)

	c.StartTurn(ctx)
	assert.Equal(t, domain.TurnActive, c.State())
	assert.True(t, engine.MicrophoneEnabled())

	c.EndTurn(ctx)
	assert.Equal(t, domain.TurnIdle, c.State())
	assert.False(t, engine.MicrophoneEnabled())

	assert.Empty(t, engine.Calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnSignals.WithLabelValues(MethodStartTurn, telemetry.OutcomeNoAgent)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnSignals.WithLabelValues(MethodEndTurn, telemetry.OutcomeNoAgent)))
}

func TestRPCFailureFallsBackToLocalTurn(t *testing.T) {
	ctx := context.Background()
	engine := coretest.Connected(agent)
	engine.CallErr = errors.New("network down")
	c, m := newCoordinator(engine)

	c.StartTurn(ctx)
	assert.Equal(t, domain.TurnActive, c.State())
	assert.True(t, engine.MicrophoneEnabled())

	c.EndTurn(ctx)
	assert.Equal(t, domain.TurnIdle, c.State())
	assert.False(t, engine.MicrophoneEnabled())

	assert.Len(t, engine.Calls(), 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnSignals.WithLabelValues(MethodStartTurn, telemetry.OutcomeRPCFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnSignals.WithLabelValues(MethodEndTurn, telemetry.OutcomeRPCFailed)))
}

func TestRPCTimeoutBoundsAnnouncement(t *testing.T) {
	engine := coretest.Connected(agent)
	engine.CallGate = make(chan struct{})
	defer close(engine.CallGate)
	c := NewCoordinator(engine, WithRPCTimeout(20*time.Millisecond))

	c.StartTurn(context.Background())
	assert.Equal(t, domain.TurnActive, c.State())
	assert.True(t, engine.MicrophoneEnabled())
}

func TestCallerCancellationDoesNotAbortTurn(t *testing.T) {
	engine := coretest.Connected(agent)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c, _ := newCoordinator(engine)

	c.StartTurn(ctx)
	assert.Equal(t, domain.TurnActive, c.State())
	assert.True(t, engine.MicrophoneEnabled())
}

func TestEndTurnOutsideActiveIsNoop(t *testing.T) {
	ctx := context.Background()
	engine := coretest.Connected(agent)
	c, _ := newCoordinator(engine)

	c.EndTurn(ctx)
	c.CancelTurn(ctx)

	assert.Equal(t, domain.TurnIdle, c.State())
	assert.Empty(t, engine.Calls())
	assert.Empty(t, engine.MicCalls())
}

func TestStartTurnWhileActiveIsNoop(t *testing.T) {
	ctx := context.Background()
	engine := coretest.Connected(agent)
	c, _ := newCoordinator(engine)

	c.StartTurn(ctx)
	c.StartTurn(ctx)

	assert.Len(t, engine.Calls(), 1)
	assert.Equal(t, []bool{true}, engine.MicCalls())
}

func TestNotConnectedIsNoop(t *testing.T) {
	ctx := context.Background()
	for _, state := range []core.ConnectionState{core.StateDisconnected, core.StateConnecting} {
		t.Run(state.String(), func(t *testing.T) {
			engine := coretest.Connected(agent)
			engine.SetState(state)
			c, _ := newCoordinator(engine)

			c.StartTurn(ctx)
			c.EndTurn(ctx)
			c.CancelTurn(ctx)

			assert.Equal(t, domain.TurnIdle, c.State())
			assert.Empty(t, engine.Calls())
			assert.Empty(t, engine.MicCalls())
		})
	}
}

func TestConcurrentStartIssuesOneRPC(t *testing.T) {
	engine := coretest.Connected(agent)
	engine.CallGate = make(chan struct{})
	c, _ := newCoordinator(engine)

	done := make(chan struct{})
	go func() {
		c.StartTurn(context.Background())
		close(done)
	}()
	require.Eventually(t, func() bool { return len(engine.Calls()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, domain.TurnRequesting, c.State())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.StartTurn(context.Background())
		}()
	}
	wg.Wait()

	close(engine.CallGate)
	<-done

	assert.Len(t, engine.Calls(), 1)
	assert.Equal(t, domain.TurnActive, c.State())
	assert.Equal(t, []bool{true}, engine.MicCalls())
}

func TestCancelTurn(t *testing.T) {
	ctx := context.Background()
	engine := coretest.Connected(agent)
	c, m := newCoordinator(engine)

	c.StartTurn(ctx)
	c.CancelTurn(ctx)

	assert.Equal(t, domain.TurnIdle, c.State())
	assert.False(t, engine.MicrophoneEnabled())
	calls := engine.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, MethodCancelTurn, calls[1].Method)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsFinished.WithLabelValues("cancelled")))
}

func TestCancelFailureStillIdle(t *testing.T) {
	ctx := context.Background()
	engine := coretest.Connected(agent)
	c, _ := newCoordinator(engine)
	c.StartTurn(ctx)

	engine.CallErr = errors.New("boom")
	c.CancelTurn(ctx)

	assert.Equal(t, domain.TurnIdle, c.State())
	assert.False(t, engine.MicrophoneEnabled())
}

func TestMicrophoneFailureDoesNotStallTurn(t *testing.T) {
	ctx := context.Background()
	engine := coretest.Connected(agent)
	engine.MicErr = errors.New("no device")
	c, _ := newCoordinator(engine)

	c.StartTurn(ctx)
	assert.Equal(t, domain.TurnActive, c.State())
	c.EndTurn(ctx)
	assert.Equal(t, domain.TurnIdle, c.State())
}

func TestResetSupersedesPendingStart(t *testing.T) {
	engine := coretest.Connected(agent)
	engine.CallGate = make(chan struct{})
	c, _ := newCoordinator(engine)

	done := make(chan struct{})
	go func() {
		c.StartTurn(context.Background())
		close(done)
	}()
	require.Eventually(t, func() bool { return len(engine.Calls()) == 1 }, time.Second, time.Millisecond)

	c.Reset()
	close(engine.CallGate)
	<-done

	assert.Equal(t, domain.TurnIdle, c.State())
	assert.False(t, engine.MicrophoneEnabled())
	assert.Empty(t, engine.MicCalls())
}

func TestEndCompletionAfterResetDisablesMicrophone(t *testing.T) {
	engine := coretest.Connected(agent)
	c, m := newCoordinator(engine)
	c.StartTurn(context.Background())
	require.True(t, engine.MicrophoneEnabled())

	engine.CallGate = make(chan struct{})
	done := make(chan struct{})
	go func() {
		c.EndTurn(context.Background())
		close(done)
	}()
	require.Eventually(t, func() bool { return c.State() == domain.TurnEnding }, time.Second, time.Millisecond)

	c.Reset()
	close(engine.CallGate)
	<-done

	assert.Equal(t, domain.TurnIdle, c.State())
	assert.False(t, engine.MicrophoneEnabled())
	// The reset, not the superseded completion, finished the turn.
	assert.Zero(t, testutil.ToFloat64(m.TurnsFinished.WithLabelValues("ended")))
}

func TestResetFromIdle(t *testing.T) {
	c, _ := newCoordinator(coretest.Connected())
	c.Reset()
	assert.Equal(t, domain.TurnIdle, c.State())
}
