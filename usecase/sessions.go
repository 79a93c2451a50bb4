package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/satriahrh/emora/domain/entities"
	"github.com/satriahrh/emora/internal/emotion"
	"github.com/satriahrh/emora/pkg/metrics"
)

// SessionOptions shapes the per-session pipeline state
type SessionOptions struct {
	Window          int
	MinVotes        int
	ProactiveStreak int
	Retention       time.Duration
	MaxSamples      int
}

// LiveSession is the in-memory state of one connected client. Frames of a
// session are serialized by the dispatcher; the mutex guards readers on
// other goroutines.
type LiveSession struct {
	ID string

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	smoother   *emotion.Smoother
	history    *emotion.History
	streak     *emotion.Streak
	record     *entities.Session
	maxSamples int
	lastSeen   time.Time
	attached   int
}

// observation is what one gated frame did to the session
type observation struct {
	Stable    entities.Emotion
	Previous  entities.Emotion
	Proactive entities.Emotion
}

func newLiveSession(id, name string, opts SessionOptions) *LiveSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &LiveSession{
		ID:         id,
		ctx:        ctx,
		cancel:     cancel,
		smoother:   emotion.NewSmoother(opts.Window, opts.MinVotes),
		history:    emotion.NewHistory(),
		streak:     emotion.NewStreak(opts.ProactiveStreak),
		record:     entities.NewSession(id, name, opts.Retention),
		maxSamples: opts.MaxSamples,
		lastSeen:   time.Now(),
	}
}

// Done is closed once the session has been closed
func (s *LiveSession) Done() <-chan struct{} {
	return s.ctx.Done()
}

func (s *LiveSession) Closed() bool {
	return s.ctx.Err() != nil
}

func (s *LiveSession) observe(d entities.Detection, gated entities.Emotion) observation {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.history.Recent()
	stable := s.smoother.Push(gated)
	s.history.Append(stable)

	s.record.RecordEmotion(entities.EmotionSample{
		Raw:        d.Label,
		Confidence: d.Confidence,
		Strategy:   d.Strategy,
		Stable:     stable,
	})
	s.record.TrimEmotions(s.maxSamples)
	s.lastSeen = time.Now()

	obs := observation{Stable: stable, Previous: previous}
	if e, fired := s.streak.Observe(stable); fired {
		obs.Proactive = e
	}
	return obs
}

// Recent returns the latest stabilized label, neutral before any frame
func (s *LiveSession) Recent() entities.Emotion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Recent()
}

// Summary returns recent, dominant and frame count
func (s *LiveSession) Summary() entities.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryLocked()
}

func (s *LiveSession) summaryLocked() entities.SessionSummary {
	return entities.SessionSummary{
		Recent:   s.history.Recent(),
		Dominant: s.history.Dominant(),
		Frames:   s.history.Len(),
	}
}

// Snapshot returns a copy of the record with an up to date summary
func (s *LiveSession) Snapshot() *entities.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record.Clone()
	rec.Summary = s.summaryLocked()
	return rec
}

// AddMessage appends a chat turn to the record
func (s *LiveSession) AddMessage(role entities.MessageRole, content string, e entities.Emotion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record.AddMessage(role, content, e)
	s.lastSeen = time.Now()
}

// Detach releases a hold taken by SessionRegistry.Attach
func (s *LiveSession) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached > 0 {
		s.attached--
	}
}

// Attached reports whether a connection currently holds the session
func (s *LiveSession) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached > 0
}

// idleBefore reports whether the session saw no activity since cutoff.
// Attached sessions are never idle.
func (s *LiveSession) idleBefore(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached == 0 && s.lastSeen.Before(cutoff)
}

// terminate closes the session and returns its final record
func (s *LiveSession) terminate() *entities.Session {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record.Terminate(s.summaryLocked())
	return s.record.Clone()
}

// SessionRegistry owns the live sessions of the process
type SessionRegistry struct {
	opts SessionOptions

	mu       sync.RWMutex
	sessions map[string]*LiveSession
}

func NewSessionRegistry(opts SessionOptions) *SessionRegistry {
	return &SessionRegistry{
		opts:     opts,
		sessions: make(map[string]*LiveSession),
	}
}

// Open returns the live session for id, creating it when absent
func (r *SessionRegistry) Open(id, name string) (*LiveSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		return s, false
	}
	s := newLiveSession(id, name, r.opts)
	r.sessions[id] = s
	metrics.UpdateActiveSessions(len(r.sessions))
	return s, true
}

// Attach opens the session like Open and marks it held by a connection
// until Detach. Held sessions are skipped by EvictIdle.
func (r *SessionRegistry) Attach(id, name string) *LiveSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		s = newLiveSession(id, name, r.opts)
		r.sessions[id] = s
		metrics.UpdateActiveSessions(len(r.sessions))
	}
	s.mu.Lock()
	s.attached++
	s.mu.Unlock()
	return s
}

func (r *SessionRegistry) Get(id string) (*LiveSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Close removes the session and returns its terminated record. In-flight
// frames of the session observe the closure and drop their results.
func (r *SessionRegistry) Close(id string) (*entities.Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		metrics.UpdateActiveSessions(len(r.sessions))
	}
	r.mu.Unlock()

	if !ok {
		return nil, false
	}
	return s.terminate(), true
}

// EvictIdle closes sessions without activity for longer than idle and
// returns their records. Sessions held by a connection stay open.
func (r *SessionRegistry) EvictIdle(idle time.Duration) []*entities.Session {
	cutoff := time.Now().Add(-idle)
	return r.evict(func(s *LiveSession) bool {
		return s.idleBefore(cutoff)
	})
}

// CloseAll terminates every session, attached or not, used on shutdown
func (r *SessionRegistry) CloseAll() []*entities.Session {
	return r.evict(func(*LiveSession) bool { return true })
}

func (r *SessionRegistry) evict(match func(*LiveSession) bool) []*entities.Session {
	r.mu.Lock()
	var stale []*LiveSession
	for id, s := range r.sessions {
		if match(s) {
			stale = append(stale, s)
			delete(r.sessions, id)
		}
	}
	metrics.UpdateActiveSessions(len(r.sessions))
	r.mu.Unlock()

	records := make([]*entities.Session, 0, len(stale))
	for _, s := range stale {
		records = append(records, s.terminate())
	}
	return records
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
