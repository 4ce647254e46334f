package replication

import (
	"context"
	"sync"

	"github.com/emrgen/storysync/internal/store"
	"github.com/sirupsen/logrus"
)

type aggregate int

const (
	aggregateUnknown aggregate = iota
	aggregateActive
	aggregatePaused
)

// SessionOptions configure a live bidirectional session.
type SessionOptions struct {
	Options
	// PushSince and PullSince resume each direction from a checkpoint.
	PushSince string
	PullSince string
	// OnCheckpoint records the source sequence reached by a direction.
	OnCheckpoint func(dir Direction, seq string)
}

// Session is a live, retrying, filtered replication in both directions.
type Session struct {
	cfg    SessionConfig
	cancel context.CancelFunc
	ctx    context.Context
	wg     sync.WaitGroup

	mu      sync.Mutex
	paused  map[Direction]bool
	state   aggregate
	handler EventHandler
}

// StartSession starts replicating between local and remote under cfg.
// Events of both directions are merged: paused is reported only once every
// direction caught up.
func StartSession(local, remote store.Store, cfg SessionConfig, opts SessionOptions, handler EventHandler) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		paused:  map[Direction]bool{DirectionPush: false, DirectionPull: false},
		handler: handler,
	}

	s.run(local, remote, DirectionPush, opts.PushSince, opts)
	s.run(remote, local, DirectionPull, opts.PullSince, opts)

	return s
}

func (s *Session) run(src, dst store.Store, dir Direction, since string, opts SessionOptions) {
	o := opts.Options
	o.Live = true
	o.Retry = true
	o.Filter = s.cfg.Filter()
	o.Since = since
	if opts.OnCheckpoint != nil {
		o.OnCheckpoint = func(seq string) { opts.OnCheckpoint(dir, seq) }
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		written, err := Replicate(s.ctx, src, dst, dir, o, s.dispatch)
		if err != nil && s.ctx.Err() == nil {
			logrus.Errorf("live replication %s stopped: %v", dir, err)
		}
		logrus.Debugf("live replication %s ended after %d documents", dir, written)
	}()
}

// dispatch merges direction events into session events.
func (s *Session) dispatch(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return
	}

	switch ev.Type {
	case EventActive:
		s.paused[ev.Direction] = false
		if s.state == aggregateActive {
			return
		}
		s.state = aggregateActive
	case EventPaused:
		s.paused[ev.Direction] = true
		for _, p := range s.paused {
			if !p {
				return
			}
		}
		if s.state == aggregatePaused {
			return
		}
		s.state = aggregatePaused
	case EventError:
		s.paused[ev.Direction] = false
		s.state = aggregateUnknown
	}

	s.handler(ev)
}

// Config returns the configuration the session was started with.
func (s *Session) Config() SessionConfig {
	return s.cfg
}

// Cancel stops both directions and waits for them to exit. No events are
// delivered once Cancel returns.
func (s *Session) Cancel() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
}
