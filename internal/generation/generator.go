package generation

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Request asks for text generation for one beat.
type Request struct {
	RequestID string
	StoryID   string
	Model     string
	Prompt    string
}

// Chunk is one piece of a streamed response. The last chunk has Done set or
// carries Err.
type Chunk struct {
	Text string
	Done bool
	Err  error
}

// Generator produces text for the beat editor.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
	// Cancel aborts the request; it reports whether one was running.
	Cancel(requestID string) bool
}

// Pauser suspends live replication. Calls nest.
type Pauser interface {
	Pause()
	Resume()
}

// PausingGenerator pauses replication while a stream is open so document
// writes do not compete with the stream for the connection.
type PausingGenerator struct {
	next   Generator
	pauser Pauser

	mu   sync.Mutex
	open map[string]struct{}
}

var _ Generator = (*PausingGenerator)(nil)

func NewPausingGenerator(next Generator, pauser Pauser) *PausingGenerator {
	return &PausingGenerator{
		next:   next,
		pauser: pauser,
		open:   make(map[string]struct{}),
	}
}

func (g *PausingGenerator) Generate(ctx context.Context, req Request) (string, error) {
	return g.next.Generate(ctx, req)
}

// Stream forwards the underlying stream and resumes replication once it ends.
func (g *PausingGenerator) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	g.pauser.Pause()

	in, err := g.next.Stream(ctx, req)
	if err != nil {
		g.pauser.Resume()
		return nil, err
	}

	g.mu.Lock()
	g.open[req.RequestID] = struct{}{}
	g.mu.Unlock()

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer g.pauser.Resume()
		defer func() {
			g.mu.Lock()
			delete(g.open, req.RequestID)
			g.mu.Unlock()
		}()

		for chunk := range in {
			select {
			case out <- chunk:
			case <-ctx.Done():
				logrus.Debugf("stream %s abandoned: %v", req.RequestID, ctx.Err())
				g.next.Cancel(req.RequestID)
				for range in {
				}
				return
			}
		}
	}()

	return out, nil
}

func (g *PausingGenerator) Cancel(requestID string) bool {
	return g.next.Cancel(requestID)
}

// Open returns the number of streams currently open.
func (g *PausingGenerator) Open() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.open)
}
