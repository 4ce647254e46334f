package transfer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/emrgen/storysync/internal/audit"
	"github.com/emrgen/storysync/internal/model"
	"github.com/emrgen/storysync/internal/replication"
	"github.com/emrgen/storysync/internal/store"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds one manual transfer.
const DefaultTimeout = 60 * time.Second

// Options tune the service.
type Options struct {
	Timeout time.Duration
	// Replication is passed to every transfer; its filter is ignored.
	Replication replication.Options
	// OnProgress observes the transfer until it finishes or times out.
	OnProgress replication.EventHandler
}

// Result describes a finished transfer.
type Result struct {
	AuditID     string                `json:"auditId,omitempty"`
	Direction   replication.Direction `json:"direction"`
	DocsWritten int                   `json:"docsWritten"`
	Duration    time.Duration         `json:"duration"`
}

// Service runs one-shot unfiltered transfers between the local and remote
// databases, outside the live session.
type Service struct {
	provider store.Provider
	audit    audit.Log
	opts     Options
}

func NewService(provider store.Provider, log audit.Log, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Service{provider: provider, audit: log, opts: opts}
}

// Push copies every local document to the remote.
func (s *Service) Push(ctx context.Context) (*Result, error) {
	return s.run(ctx, replication.DirectionPush)
}

// Pull copies every remote document to the local database.
func (s *Service) Pull(ctx context.Context) (*Result, error) {
	return s.run(ctx, replication.DirectionPull)
}

func (s *Service) run(ctx context.Context, dir replication.Direction) (*Result, error) {
	op := string(dir)

	remote := s.provider.Remote()
	if remote == nil {
		return nil, store.ErrNoRemote
	}
	local, err := s.provider.Local()
	if err != nil {
		return nil, err
	}

	src, dst := local, remote
	if dir == replication.DirectionPull {
		src, dst = remote, local
	}

	start := time.Now()
	result := &Result{Direction: dir}

	if s.audit != nil {
		id, err := s.audit.Start(ctx, op, op, s.provider.Name())
		if err != nil {
			logrus.Warnf("error writing audit entry: %v", err)
		}
		result.AuditID = id
	}

	logrus.WithFields(logrus.Fields{
		"direction": op,
		"database":  s.provider.Name(),
		"audit_id":  result.AuditID,
	}).Info("manual transfer started")

	written, err := s.replicate(ctx, src, dst, dir)
	result.DocsWritten = written
	result.Duration = time.Since(start)

	s.complete(ctx, result, err)

	if err != nil {
		logrus.Errorf("manual %s failed after %s: %v", op, result.Duration, err)
		return result, err
	}

	logrus.Infof("manual %s wrote %d documents in %s", op, written, result.Duration)
	return result, nil
}

// replicate races the transfer against the timeout. A transfer that loses is
// cancelled and its late events are dropped.
func (s *Service) replicate(ctx context.Context, src, dst store.Store, dir replication.Direction) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var detached atomic.Bool
	var written atomic.Int64
	emit := func(ev replication.Event) {
		if detached.Load() {
			return
		}
		if ev.Type == replication.EventChange {
			written.Add(int64(ev.DocsWritten))
		}
		if s.opts.OnProgress != nil {
			s.opts.OnProgress(ev)
		}
	}

	opts := s.opts.Replication
	opts.Filter = nil
	opts.Live = false
	opts.Retry = false

	type outcome struct {
		written int
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		n, err := replication.Replicate(ctx, src, dst, dir, opts, emit)
		done <- outcome{written: n, err: err}
	}()

	timer := time.NewTimer(s.opts.Timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.written, out.err
	case <-timer.C:
		detached.Store(true)
		cancel()
		return int(written.Load()), store.NewError(store.KindTimeout, string(dir), store.ErrTimeout)
	case <-ctx.Done():
		detached.Store(true)
		return int(written.Load()), ctx.Err()
	}
}

func (s *Service) complete(ctx context.Context, result *Result, cause error) {
	if s.audit == nil || result.AuditID == "" {
		return
	}

	status := model.AuditStatusSuccess
	if cause != nil {
		status = model.AuditStatusError
	}

	// the caller's context may be the one that expired
	ctx = context.WithoutCancel(ctx)
	if err := s.audit.Complete(ctx, result.AuditID, status, result.DocsWritten, result.Duration, cause); err != nil {
		logrus.Warnf("error completing audit entry %s: %v", result.AuditID, err)
	}
}
