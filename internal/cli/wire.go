package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/dkeye/voicectl/internal/adapters/backend"
	"github.com/dkeye/voicectl/internal/adapters/media"
	"github.com/dkeye/voicectl/internal/adapters/rtc"
	"github.com/dkeye/voicectl/internal/adapters/store"
	"github.com/dkeye/voicectl/internal/app/credential"
	"github.com/dkeye/voicectl/internal/app/orch"
	"github.com/dkeye/voicectl/internal/app/session"
	"github.com/dkeye/voicectl/internal/app/turn"
	"github.com/dkeye/voicectl/internal/config"
	"github.com/dkeye/voicectl/internal/core"
	"github.com/dkeye/voicectl/internal/telemetry"
)

// client is the wired object graph shared by the commands.
type client struct {
	Creds    *credential.Store
	Sessions *session.Establisher
	Registry *prometheus.Registry
	Metrics  *telemetry.Metrics

	closers []io.Closer
}

func newBlobStore(cfg config.StoreConfig) (core.BlobStore, io.Closer, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemory(), nil, nil
	case "file":
		s, err := store.NewFile(afero.NewOsFs(), cfg.Path)
		return s, nil, err
	case "redis":
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		s, err := store.NewRedis(rc, store.DefaultRedisPrefix)
		if err != nil {
			_ = rc.Close()
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func newClient(cfg *config.Config) (*client, error) {
	blobs, closer, err := newBlobStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	be, err := backend.New(backend.Config{
		BaseURL:    cfg.BackendURL,
		AuthPath:   cfg.AuthPath,
		TicketPath: cfg.TicketPath,
		ExpireDays: cfg.ExpireDays,
		DeviceID:   cfg.DeviceID,
	}, nil)
	if err != nil {
		return nil, err
	}

	creds := credential.NewStore(blobs, credential.WithKey(cfg.Store.Key))
	reg := prometheus.NewRegistry()
	c := &client{
		Creds:    creds,
		Sessions: session.NewEstablisher(be, be, creds),
		Registry: reg,
		Metrics:  telemetry.NewMetrics(reg),
	}
	if closer != nil {
		c.closers = append(c.closers, closer)
	}
	return c, nil
}

// captureFrom opens path as the microphone for every session. An empty path
// leaves the engine on silence.
func captureFrom(fs afero.Fs, path string) func() (rtc.FrameSource, error) {
	if path == "" {
		return nil
	}
	return func() (rtc.FrameSource, error) {
		return rtc.OpenOgg(fs, path)
	}
}

// newOrchestrator builds a media engine and the session orchestrator over it.
func (c *client) newOrchestrator(cfg *config.Config, notifier core.Notifier) *orch.Orchestrator {
	engine := media.New(media.Config{
		WebRTC:  rtc.ConfigFromURLs(cfg.ICEServers),
		Capture: captureFrom(afero.NewOsFs(), cfg.CaptureFile),
		Name:    "voicectl",
	})
	turns := turn.NewCoordinator(engine,
		turn.WithAgentFinder(turn.AgentFinder{NameHint: cfg.AgentNameHint}),
		turn.WithRPCTimeout(cfg.RPCTimeout),
		turn.WithMetrics(c.Metrics),
	)
	o := orch.New(engine, c.Creds, c.Sessions, turns, orch.Config{
		ConnectTimeout:   cfg.ConnectTimeout,
		PrefetchLimit:    cfg.Prefetch.Limit,
		PrefetchInterval: cfg.Prefetch.Interval,
		AgentNameHint:    cfg.AgentNameHint,
	})
	o.Notifier = notifier
	o.Metrics = c.Metrics
	return o
}

func (c *client) Close() error {
	var errs []error
	for _, cl := range c.closers {
		errs = append(errs, cl.Close())
	}
	return errors.Join(errs...)
}

// stderrNotifier prints notifications; raw terminals need the explicit \r.
type stderrNotifier struct{}

func (stderrNotifier) Notify(title, description string) {
	log.Warn().Str("module", "cli").Str("title", title).Msg(description)
	fmt.Fprintf(os.Stderr, "\r\n[%s] %s\r\n", title, description)
}

func withClient(ctx context.Context, fn func(context.Context, *client) error) error {
	c, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Str("module", "cli").Msg("close")
		}
	}()
	return fn(ctx, c)
}
