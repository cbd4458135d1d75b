// Package session caches upstream snapshots per browser session.
//
// A session loads both snapshots on its first render and reuses them until it
// is reset or evicted for inactivity. Sessions never share snapshots. Callers
// without a session use a shared session whose snapshots go stale quickly.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aitprotocol/logicnet-dashboard/internal/logging"
	"github.com/aitprotocol/logicnet-dashboard/internal/metrics"
	"github.com/aitprotocol/logicnet-dashboard/internal/stats"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// CookieName is the cookie carrying the session id.
const CookieName = "logicnet_session"

// SharedID identifies the shared session in logs.
const SharedID = "shared"

// loadTimeout caps a shared load once every caller waiting on it has gone.
const loadTimeout = 2 * time.Minute

// Session is one browser session's snapshot cache.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	lastSeen time.Time
	snaps    *stats.Snapshots
	loadedAt time.Time
	gen      uint64        // bumped by Reset; loads from older generations are dropped
	maxAge   time.Duration // 0 keeps snapshots until Reset
	now      func() time.Time

	group singleflight.Group
}

// NewShared returns a session tracked by no store whose snapshots are
// refetched once they are older than maxAge.
func NewShared(maxAge time.Duration) *Session {
	now := time.Now()
	return &Session{ID: SharedID, CreatedAt: now, lastSeen: now, maxAge: maxAge, now: time.Now}
}

// LastSeen returns the last time the session was used.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Loaded reports whether fresh snapshots are cached.
func (s *Session) Loaded() bool {
	snaps, _ := s.cached()
	return snaps != nil
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// cached returns the fresh snapshots, if any, and the current generation.
func (s *Session) cached() (*stats.Snapshots, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snaps == nil {
		return nil, s.gen
	}
	if s.maxAge > 0 && s.clock().Sub(s.loadedAt) >= s.maxAge {
		return nil, s.gen
	}
	return s.snaps, s.gen
}

// keep caches snaps unless the session was reset after the load began.
func (s *Session) keep(snaps *stats.Snapshots, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	s.snaps = snaps
	s.loadedAt = s.clock()
}

// Snapshots returns the session's snapshots, fetching them with f on first
// use. Concurrent first calls share one load, which outlives any single
// caller: a canceled caller returns ctx.Err() while the others keep waiting.
// A failed load is not cached. A statistics fetch failure is logged and
// leaves Statistics nil.
func (s *Session) Snapshots(ctx context.Context, f stats.Fetcher) (*stats.Snapshots, error) {
	snaps, gen := s.cached()
	if snaps != nil {
		metrics.SessionCacheLookups.WithLabelValues("hit").Inc()
		return snaps, nil
	}
	metrics.SessionCacheLookups.WithLabelValues("miss").Inc()

	ch := s.group.DoChan("snapshots/"+strconv.FormatUint(gen, 10), func() (any, error) {
		if snaps, _ := s.cached(); snaps != nil {
			return snaps, nil
		}
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		snaps, err := load(lctx, f)
		if err != nil {
			return nil, err
		}
		s.keep(snaps, gen)
		return snaps, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*stats.Snapshots), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reset drops the cached snapshots so the next render refetches. A load
// already in flight finishes for its callers but is not cached.
func (s *Session) Reset() {
	s.mu.Lock()
	s.snaps = nil
	s.gen++
	s.mu.Unlock()
}

func load(ctx context.Context, f stats.Fetcher) (*stats.Snapshots, error) {
	info, err := f.FetchMinerInformation(ctx)
	if err != nil {
		return nil, fmt.Errorf("load miner information: %w", err)
	}
	st, err := f.FetchMinerStatistics(ctx)
	if err != nil {
		logging.L(ctx).Warn("miner statistics unavailable, timeline skipped", "error", err)
		st = nil
	}
	return &stats.Snapshots{Information: info, Statistics: st}, nil
}

// Store holds live sessions keyed by id.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewStore creates a store whose sessions expire after ttl of inactivity.
func NewStore(ttl time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
	}
}

// TTL returns the inactivity timeout.
func (st *Store) TTL() time.Duration { return st.ttl }

// Get returns the session for id and marks it used.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	st.mu.Unlock()
	if ok {
		s.touch(st.now())
	}
	return s, ok
}

// Create starts a new session with a fresh id.
func (st *Store) Create() *Session {
	now := st.now()
	s := &Session{ID: uuid.NewString(), CreatedAt: now, lastSeen: now}

	st.mu.Lock()
	st.sessions[s.ID] = s
	n := len(st.sessions)
	st.mu.Unlock()

	metrics.ActiveSessions.Set(float64(n))
	return s
}

// GetOrCreate returns the session for id, or a new one when id is unknown.
// The boolean is true when a session was created.
func (st *Store) GetOrCreate(id string) (*Session, bool) {
	if id != "" {
		if s, ok := st.Get(id); ok {
			return s, false
		}
	}
	return st.Create(), true
}

// Reset drops the cached snapshots of session id. Unknown ids are ignored.
func (st *Store) Reset(id string) bool {
	st.mu.Lock()
	s, ok := st.sessions[id]
	st.mu.Unlock()
	if !ok {
		return false
	}
	s.Reset()
	return true
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Sweep evicts sessions idle longer than the TTL and returns how many were
// removed. A non-positive TTL keeps sessions forever.
func (st *Store) Sweep() int {
	if st.ttl <= 0 {
		return 0
	}
	cutoff := st.now().Add(-st.ttl)

	st.mu.Lock()
	removed := 0
	for id, s := range st.sessions {
		if s.LastSeen().Before(cutoff) {
			delete(st.sessions, id)
			removed++
		}
	}
	n := len(st.sessions)
	st.mu.Unlock()

	metrics.ActiveSessions.Set(float64(n))
	if removed > 0 {
		metrics.SessionsEvictedTotal.Add(float64(removed))
		st.logger.Debug("evicted idle sessions", "count", removed, "remaining", n)
	}
	return removed
}
