package replication

import (
	"context"
	"time"

	"github.com/emrgen/storysync/internal/model"
	"github.com/emrgen/storysync/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultBatchSize    = 100
	DefaultPollInterval = time.Second
	DefaultBackoffMin   = time.Second
	DefaultBackoffMax   = time.Minute
)

// Options control one replication direction.
type Options struct {
	// Filter selects the documents to transfer; nil transfers everything.
	Filter func(doc *model.Document) bool
	// Live keeps polling for new changes after catching up.
	Live bool
	// Retry keeps going after failed requests with exponential backoff.
	Retry bool
	// Timeout bounds every request against either database.
	Timeout      time.Duration
	BatchSize    int
	PollInterval time.Duration
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	// Since is the source sequence to resume from.
	Since string
	// OnCheckpoint is called with the source sequence after each batch.
	OnCheckpoint func(seq string)
}

func (o *Options) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = DefaultBackoffMin
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = DefaultBackoffMax
	}
}

// Replicate copies changes from src to dst until it catches up, or until ctx
// is done when opts.Live is set. It returns the number of documents written.
func Replicate(ctx context.Context, src, dst store.Store, dir Direction, opts Options, emit EventHandler) (int, error) {
	opts.defaults()
	if emit == nil {
		emit = func(Event) {}
	}

	r := &replicator{src: src, dst: dst, dir: dir, opts: opts, emit: emit, since: opts.Since}
	return r.run(ctx)
}

type replicator struct {
	src, dst store.Store
	dir      Direction
	opts     Options
	emit     EventHandler
	since    string
	written  int
	active   bool
	idle     bool
}

func (r *replicator) run(ctx context.Context) (int, error) {
	backoff := r.opts.BackoffMin

	for {
		if err := ctx.Err(); err != nil {
			return r.written, err
		}

		caughtUp, err := r.step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return r.written, ctx.Err()
			}

			logrus.Warnf("replication %s %s -> %s failed: %v", r.dir, r.src.Name(), r.dst.Name(), err)
			r.emit(Event{Type: EventError, Direction: r.dir, Err: err, Pending: -1})
			r.active = false
			r.idle = false

			if !r.opts.Retry {
				return r.written, err
			}
			if !sleep(ctx, backoff) {
				return r.written, ctx.Err()
			}
			backoff *= 2
			if backoff > r.opts.BackoffMax {
				backoff = r.opts.BackoffMax
			}
			continue
		}
		backoff = r.opts.BackoffMin

		if !caughtUp {
			continue
		}

		if !r.opts.Live {
			return r.written, nil
		}

		if !r.idle {
			r.idle = true
			r.active = false
			r.emit(Event{Type: EventPaused, Direction: r.dir, Pending: 0})
		}

		if !sleep(ctx, r.opts.PollInterval) {
			return r.written, ctx.Err()
		}
	}
}

// step transfers one batch and reports whether the source had nothing left.
func (r *replicator) step(ctx context.Context) (bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	changes, err := r.src.Changes(reqCtx, store.ChangesRequest{Since: r.since, Limit: r.opts.BatchSize})
	if err != nil {
		return false, r.timeout(reqCtx, err)
	}

	if len(changes.Results) == 0 {
		return true, nil
	}

	if !r.active {
		r.active = true
		r.idle = false
		pending := changes.Pending
		if pending >= 0 {
			pending += len(changes.Results)
		}
		r.emit(Event{Type: EventActive, Direction: r.dir, Pending: pending})
	}

	docs := make([]*model.Document, 0, len(changes.Results))
	for _, change := range changes.Results {
		doc := change.Doc
		if doc == nil {
			doc = &model.Document{ID: change.ID, Rev: change.Rev, Deleted: change.Deleted}
		}
		if r.opts.Filter != nil && !r.opts.Filter(doc) {
			continue
		}
		docs = append(docs, doc)
	}

	if len(docs) > 0 {
		writeCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()

		results, err := r.dst.BulkDocs(writeCtx, docs, store.BulkOptions{Replicate: true})
		if err != nil {
			return false, r.timeout(writeCtx, err)
		}
		for _, res := range results {
			if res.Err != nil {
				logrus.Warnf("replication %s: document %s rejected: %v", r.dir, res.ID, res.Err)
			}
		}

		n := store.Written(results)
		r.written += n
		r.emit(Event{Type: EventChange, Direction: r.dir, DocsWritten: n, Docs: docs, Pending: changes.Pending})
	}

	r.since = changes.LastSeq
	if r.opts.OnCheckpoint != nil {
		r.opts.OnCheckpoint(r.since)
	}

	return false, nil
}

// timeout classifies a request that ran into its own deadline.
func (r *replicator) timeout(reqCtx context.Context, err error) error {
	if reqCtx.Err() == context.DeadlineExceeded && store.KindOf(err) != store.KindTimeout {
		return store.NewError(store.KindTimeout, "replicate "+string(r.dir), err)
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
