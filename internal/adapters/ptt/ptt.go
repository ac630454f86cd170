// Package ptt turns key presses into turn boundaries. Terminals send no
// key-up, so a held key is recognized by its auto-repeat and released once
// repeats stop for longer than the release window.
package ptt

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultReleaseWindow is longer than the usual auto-repeat delay so the gap
// before the first repeat is not taken as a release.
const DefaultReleaseWindow = 600 * time.Millisecond

const (
	KeyTalk   = ' '
	KeyCancel = 'c'
	KeyQuit   = 'q'
	keyCtrlC  = 0x03
	keyCtrlD  = 0x04
)

// Turns is the part of the turn coordinator the controller drives.
type Turns interface {
	StartTurn(ctx context.Context)
	EndTurn(ctx context.Context)
	CancelTurn(ctx context.Context)
}

type KeySource interface {
	ReadKey() (byte, error)
}

type Controller struct {
	turns         Turns
	releaseWindow time.Duration
	// OnChange, if set, is told whether the talk key is held.
	OnChange func(held bool)
}

func NewController(turns Turns, releaseWindow time.Duration) *Controller {
	if releaseWindow <= 0 {
		releaseWindow = DefaultReleaseWindow
	}
	return &Controller{turns: turns, releaseWindow: releaseWindow}
}

// Run reads keys until the quit key, end of input or ctx. A turn in progress
// is ended before returning.
func (c *Controller) Run(ctx context.Context, src KeySource) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	keys := make(chan byte, 64)
	readErr := make(chan error, 1)
	go func() {
		for {
			k, err := src.ReadKey()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case keys <- k:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Coordinator calls may block on the agent; run them in order off the key loop.
	calls := make(chan func(context.Context), 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for fn := range calls {
			fn(context.WithoutCancel(ctx))
		}
	}()
	defer func() {
		close(calls)
		<-done
	}()

	release := time.NewTimer(c.releaseWindow)
	release.Stop()
	defer release.Stop()
	held := false

	setHeld := func(v bool) {
		held = v
		if c.OnChange != nil {
			c.OnChange(v)
		}
	}
	end := func() {
		if held {
			setHeld(false)
			release.Stop()
			calls <- c.turns.EndTurn
		}
	}

	for {
		select {
		case <-ctx.Done():
			end()
			return ctx.Err()
		case err := <-readErr:
			end()
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case <-release.C:
			if held {
				log.Debug().Str("module", "ptt").Msg("talk key released")
				setHeld(false)
				calls <- c.turns.EndTurn
			}
		case k := <-keys:
			switch k {
			case KeyTalk:
				release.Reset(c.releaseWindow)
				if !held {
					log.Debug().Str("module", "ptt").Msg("talk key pressed")
					setHeld(true)
					calls <- c.turns.StartTurn
				}
			case KeyCancel:
				if held {
					setHeld(false)
					release.Stop()
					calls <- c.turns.CancelTurn
				}
			case KeyQuit, keyCtrlC, keyCtrlD:
				end()
				return nil
			}
		}
	}
}
