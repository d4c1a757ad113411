package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// State is the setup state of a Local adapter.
type State int32

const (
	// StateInit means Setup has not run, or its last attempt failed.
	StateInit State = iota
	// StateSetting means a Setup call is in progress.
	StateSetting
	// StateReady means Setup completed. It is terminal.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateSetting:
		return "setting"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// lifecycle runs a setup function at most once to completion. Concurrent
// callers block on mu until the first one finishes; the atomic state gives
// readers a lock-free fast path once ready.
type lifecycle struct {
	mu    sync.Mutex
	state atomic.Int32
	setup func(ctx context.Context) error
	log   zerolog.Logger
}

func (l *lifecycle) current() State {
	return State(l.state.Load())
}

func (l *lifecycle) ensureReady(ctx context.Context) error {
	if l.current() == StateReady {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Another caller may have finished while we waited.
	if l.current() == StateReady {
		return nil
	}

	l.state.Store(int32(StateSetting))
	l.log.Debug().Stringer("state", StateSetting).Msg("runner setup started")

	if err := l.setup(ctx); err != nil {
		l.state.Store(int32(StateInit))
		l.log.Error().Err(err).Stringer("state", StateInit).Msg("runner setup failed")
		return fmt.Errorf("%w: %w", ErrSetupFailed, err)
	}

	l.state.Store(int32(StateReady))
	l.log.Debug().Stringer("state", StateReady).Msg("runner setup completed")
	return nil
}
