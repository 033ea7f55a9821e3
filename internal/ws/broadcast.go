package ws

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/watchr/watchr/internal/metrics"
	"github.com/watchr/watchr/internal/property"
)

var ErrTooManyConnections = errors.New("too many peer connections")

type BroadcasterOptions struct {
	ProbeInterval time.Duration // <= 0 disables the heartbeat loop
	MaxPeers      int           // <= 0 means unlimited
}

// Broadcaster owns the set of connected sessions. Membership only changes
// between sweeps: mu is held for the whole of Register, Remove and each
// sweep, so every session sees updates in the order they were committed.
type Broadcaster struct {
	mu        sync.Mutex
	sessions  []Session
	store     *property.Store
	coalescer *Coalescer
	maxPeers  int
	log       *slog.Logger
	metrics   *metrics.Metrics

	probeTicker *time.Ticker
	stop        chan struct{}
	stopOnce    sync.Once
}

func NewBroadcaster(store *property.Store, coalescer *Coalescer, opts BroadcasterOptions, log *slog.Logger, m *metrics.Metrics) *Broadcaster {
	b := &Broadcaster{
		store:     store,
		coalescer: coalescer,
		maxPeers:  opts.MaxPeers,
		log:       log,
		metrics:   m,
		stop:      make(chan struct{}),
	}

	if opts.ProbeInterval > 0 {
		b.probeTicker = time.NewTicker(opts.ProbeInterval)
		go b.probeLoop()
	}

	return b
}

// Register sends the current property snapshot to s and then adds it to the
// membership. Holding mu across both steps means no broadcast can slip in
// between, so the joiner neither misses nor repeats an update.
func (b *Broadcaster) Register(s Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxPeers > 0 && len(b.sessions) >= b.maxPeers {
		return ErrTooManyConnections
	}

	snapshot := b.store.Snapshot()
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		frame, err := EncodeUpdate(Update{Property: name, Value: snapshot[name]})
		if err != nil {
			b.log.Warn("skipping unencodable property in snapshot", "property", name, "error", err)
			continue
		}
		if err := s.Send(frame); err != nil {
			s.Close()
			return err
		}
	}

	b.sessions = append(b.sessions, s)
	b.metrics.SetSessions(len(b.sessions))
	b.log.Info("peer joined", "session", s.ID(), "properties", len(names), "peers", len(b.sessions))
	return nil
}

// Remove drops s from the membership and closes it. Unknown sessions are
// ignored.
func (b *Broadcaster) Remove(s Session) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, member := range b.sessions {
		if member == s {
			b.sessions = append(b.sessions[:i], b.sessions[i+1:]...)
			s.Close()
			b.metrics.SetSessions(len(b.sessions))
			b.log.Info("peer left", "session", s.ID(), "peers", len(b.sessions))
			return
		}
	}
}

// Broadcast sends u to every session unless the coalescer suppresses it.
// Failing sessions are dropped; the others still receive the update. The
// store is not touched; use Commit for values that joiners must see.
func (b *Broadcaster) Broadcast(u Update) {
	b.publish(u, false)
}

// Commit records u in the store and sends it to every session as one step
// under mu. A concurrent Register therefore sees the value either in its
// snapshot or in the sweep, never both and never neither. The store always
// takes the value, even when the coalescer holds back the send.
func (b *Broadcaster) Commit(u Update) {
	b.publish(u, true)
}

func (b *Broadcaster) publish(u Update, record bool) {
	admitted := b.coalescer == nil || b.coalescer.Admit(u)

	var frame []byte
	if admitted {
		var err error
		frame, err = EncodeUpdate(u)
		if err != nil {
			b.log.Warn("dropping unencodable update", "property", u.Property, "error", err)
			return
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if record {
		b.store.Upsert(u.Property, u.Value)
	}
	if !admitted {
		return
	}

	n := b.sweepLocked(frame)
	b.metrics.IncBroadcasts()
	b.log.Debug("peers updated", "peers", n, "property", u.Property, "value", u.Value)
}

// Probe sends the heartbeat to every session, reaping dead ones.
func (b *Broadcaster) Probe() {
	b.mu.Lock()
	b.sweepLocked(Heartbeat)
	b.mu.Unlock()
	b.metrics.IncProbes()
}

// sweepLocked writes frame to every session concurrently, then removes the
// ones that failed in a single pass. It returns the surviving session count.
// The caller holds mu.
func (b *Broadcaster) sweepLocked(frame []byte) int {
	verdicts := make([]error, len(b.sessions))
	var wg sync.WaitGroup
	for i, s := range b.sessions {
		wg.Add(1)
		go func(i int, s Session) {
			defer wg.Done()
			verdicts[i] = s.Send(frame)
		}(i, s)
	}
	wg.Wait()

	kept := b.sessions[:0]
	dropped := 0
	for i, s := range b.sessions {
		if verdicts[i] == nil {
			kept = append(kept, s)
			continue
		}
		dropped++
		s.Close()
		b.log.Info("peer disconnected", "session", s.ID(), "error", verdicts[i])
	}
	for i := len(kept); i < len(b.sessions); i++ {
		b.sessions[i] = nil
	}
	b.sessions = kept

	if dropped > 0 {
		b.metrics.AddDropped(dropped)
		b.metrics.SetSessions(len(b.sessions))
	}
	return len(b.sessions)
}

func (b *Broadcaster) probeLoop() {
	for {
		select {
		case <-b.stop:
			return
		case <-b.probeTicker.C:
			b.Probe()
		}
	}
}

// Stop ends the heartbeat loop and closes every session.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		if b.probeTicker != nil {
			b.probeTicker.Stop()
		}
		close(b.stop)

		b.mu.Lock()
		for _, s := range b.sessions {
			s.Close()
		}
		b.sessions = nil
		b.metrics.SetSessions(0)
		b.mu.Unlock()
	})
}

func (b *Broadcaster) SessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}
