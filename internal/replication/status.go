package replication

import (
	"sync"
	"time"
)

// Direction of a replication relative to the local database.
type Direction string

const (
	DirectionPush Direction = "push"
	DirectionPull Direction = "pull"
	DirectionBoth Direction = "both"
)

// DocumentRef is the best-effort descriptor of the document being transferred.
type DocumentRef struct {
	ID    string `json:"id"`
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}

// Progress of the running replication.
type Progress struct {
	DocsProcessed int          `json:"docsProcessed"`
	Direction     Direction    `json:"direction"`
	CurrentDoc    *DocumentRef `json:"currentDoc,omitempty"`
	PendingDocs   *int         `json:"pendingDocs,omitempty"`
}

// Status is the read-only sync state shown to the user.
type Status struct {
	IsOnline     bool       `json:"isOnline"`
	IsSync       bool       `json:"isSync"`
	IsConnecting bool       `json:"isConnecting,omitempty"`
	LastSync     *time.Time `json:"lastSync,omitempty"`
	Error        string     `json:"error,omitempty"`
	SyncProgress *Progress  `json:"syncProgress,omitempty"`
}

func (s Status) clone() Status {
	if s.LastSync != nil {
		t := *s.LastSync
		s.LastSync = &t
	}
	if s.SyncProgress != nil {
		p := *s.SyncProgress
		if p.CurrentDoc != nil {
			d := *p.CurrentDoc
			p.CurrentDoc = &d
		}
		if p.PendingDocs != nil {
			n := *p.PendingDocs
			p.PendingDocs = &n
		}
		s.SyncProgress = &p
	}
	return s
}

// Broadcaster holds the current status and fans updates out to subscribers.
// Slow subscribers only ever see the latest status.
type Broadcaster struct {
	mu     sync.Mutex
	status Status
	subs   map[int]chan Status
	next   int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Status)}
}

// Get returns a copy of the current status.
func (b *Broadcaster) Get() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status.clone()
}

// Update mutates the status and publishes the result.
func (b *Broadcaster) Update(f func(s *Status)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f(&b.status)
	for _, ch := range b.subs {
		publish(ch, b.status.clone())
	}
}

// Subscribe returns a channel primed with the current status and a function
// that unsubscribes and closes it.
func (b *Broadcaster) Subscribe() (<-chan Status, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Status, 1)
	ch <- b.status.clone()
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

func publish(ch chan Status, s Status) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
