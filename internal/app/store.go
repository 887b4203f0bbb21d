package app

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/castbeam/relay/internal/domain"
)

// sessionRecord is the mutable state behind the store mutex. Everything
// handed out of the store is a snapshot copy.
type sessionRecord struct {
	id        domain.SessionID
	createdAt time.Time
	expiresAt time.Time

	host    domain.ConnID
	viewers map[domain.ConnID]struct{}

	offer   *webrtc.SessionDescription
	offerAt time.Time

	answer   *webrtc.SessionDescription
	answerAt time.Time

	hostCandidates   []domain.CandidateRecord
	viewerCandidates []domain.CandidateRecord
}

// SessionStore holds all live signaling sessions. Its mutex is the sole
// serialization boundary of the relay: router operations and the expiry
// sweep all go through it, and no I/O ever happens under the lock.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*sessionRecord

	ttl          time.Duration
	candidateCap int
}

func NewSessionStore(ttl time.Duration, candidateCap int) *SessionStore {
	return &SessionStore{
		sessions:     make(map[domain.SessionID]*sessionRecord),
		ttl:          ttl,
		candidateCap: candidateCap,
	}
}

// OfferResult is what the router needs to forward a stored offer
// without re-entering the store.
type OfferResult struct {
	Session   domain.Session
	Preempted bool
	PrevHost  domain.ConnID
}

// CandidateResult carries the relay targets for one accepted candidate.
// Overflowed reports a drop-oldest on the origin buffer.
type CandidateResult struct {
	Origin     domain.Role
	Recipients []domain.ConnID
	Overflowed bool
}

// Teardown reports one session removed because its host connection went
// away, with the viewers that must be notified.
type Teardown struct {
	SessionID domain.SessionID
	Viewers   []domain.ConnID
}

// Create mints a fresh session with the store TTL.
func (s *SessionStore) Create() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.newRecord(domain.NewSessionID())
	s.sessions[rec.id] = rec
	log.Info().Str("module", "app.store").Str("session", string(rec.id)).Msg("session created")
	return snapshot(rec)
}

// GetOrCreate inserts an empty placeholder under a caller-supplied ID.
// This is the lazy-creation entry point; only the router uses it, and
// only for join and offer.
func (s *SessionStore) GetOrCreate(id domain.SessionID) (domain.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.sessions[id]; ok && !rec.expired(time.Now()) {
		return snapshot(rec), false
	}
	rec := s.newRecord(id)
	s.sessions[id] = rec
	log.Info().Str("module", "app.store").Str("session", string(id)).Msg("session lazily created")
	return snapshot(rec), true
}

// Get returns a read-only snapshot. Expired records read as absent even
// before the sweeper gets to them.
func (s *SessionStore) Get(id domain.SessionID) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok || rec.expired(time.Now()) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return snapshot(rec), nil
}

// Touch idempotently pushes the expiry forward so an active session is
// not evicted mid-handshake.
func (s *SessionStore) Touch(id domain.SessionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return false
	}
	rec.expiresAt = time.Now().Add(s.ttl)
	return true
}

// AddViewer registers a viewer connection and returns the post-state
// snapshot so the caller can decide on replay.
func (s *SessionStore) AddViewer(id domain.SessionID, conn domain.ConnID) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok || rec.expired(time.Now()) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	rec.viewers[conn] = struct{}{}
	rec.expiresAt = time.Now().Add(s.ttl)
	return snapshot(rec), nil
}

// ApplyOffer sets the host and the offer atomically. The last offer
// wins: a different connection offering preempts the current host, and
// preemption resets the answer and both candidate buffers so viewers
// get a fresh handshake.
func (s *SessionStore) ApplyOffer(id domain.SessionID, conn domain.ConnID, desc webrtc.SessionDescription) (OfferResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok || rec.expired(time.Now()) {
		return OfferResult{}, domain.ErrSessionNotFound
	}

	res := OfferResult{PrevHost: rec.host}
	res.Preempted = rec.host != "" && rec.host != conn

	rec.host = conn
	rec.offer = &desc
	rec.offerAt = time.Now()
	rec.answer = nil
	rec.answerAt = time.Time{}
	rec.hostCandidates = nil
	rec.viewerCandidates = nil
	// The offering connection must not linger in its own audience.
	delete(rec.viewers, conn)
	rec.expiresAt = time.Now().Add(s.ttl)

	res.Session = snapshot(rec)
	if res.Preempted {
		log.Warn().Str("module", "app.store").Str("session", string(id)).
			Str("conn", string(conn)).Str("prev", string(res.PrevHost)).Msg("host preempted")
	}
	return res, nil
}

// ApplyAnswer stores the answer and reports the host connection it must
// be delivered to. Answers are peer-specific, never broadcast.
func (s *SessionStore) ApplyAnswer(id domain.SessionID, conn domain.ConnID, desc webrtc.SessionDescription) (domain.ConnID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok || rec.expired(time.Now()) {
		return "", domain.ErrSessionNotFound
	}
	if rec.offer == nil {
		return "", domain.ErrOutOfOrder
	}
	rec.answer = &desc
	rec.answerAt = time.Now()
	rec.viewers[conn] = struct{}{}
	rec.expiresAt = time.Now().Add(s.ttl)
	return rec.host, nil
}

// AddCandidate appends to the origin's buffer and returns the current
// counterpart set. The buffer is bounded: overflow drops the oldest
// entry and is reported, not fatal.
func (s *SessionStore) AddCandidate(id domain.SessionID, conn domain.ConnID, cand webrtc.ICECandidateInit) (CandidateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok || rec.expired(time.Now()) {
		return CandidateResult{}, domain.ErrSessionNotFound
	}

	record := domain.CandidateRecord{Candidate: cand, AddedAt: time.Now()}
	res := CandidateResult{}
	if rec.host != "" && rec.host == conn {
		res.Origin = domain.RoleHost
		rec.hostCandidates, res.Overflowed = appendBounded(rec.hostCandidates, record, s.candidateCap)
		for v := range rec.viewers {
			res.Recipients = append(res.Recipients, v)
		}
	} else {
		res.Origin = domain.RoleViewer
		rec.viewerCandidates, res.Overflowed = appendBounded(rec.viewerCandidates, record, s.candidateCap)
		if rec.host != "" {
			res.Recipients = append(res.Recipients, rec.host)
		}
	}
	rec.expiresAt = time.Now().Add(s.ttl)
	return res, nil
}

// RemoveConnection drops a connection from every session it appears in.
// A host disconnect tears the whole session down; a viewer disconnect
// only unregisters that viewer.
func (s *SessionStore) RemoveConnection(conn domain.ConnID) []Teardown {
	s.mu.Lock()
	defer s.mu.Unlock()

	var torn []Teardown
	for id, rec := range s.sessions {
		if rec.host == conn {
			t := Teardown{SessionID: id}
			for v := range rec.viewers {
				t.Viewers = append(t.Viewers, v)
			}
			delete(s.sessions, id)
			torn = append(torn, t)
			log.Info().Str("module", "app.store").Str("session", string(id)).Msg("session torn down, host gone")
			continue
		}
		delete(rec.viewers, conn)
	}
	return torn
}

// Delete removes a session explicitly, independent of expiry.
func (s *SessionStore) Delete(id domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(s.sessions, id)
	log.Info().Str("module", "app.store").Str("session", string(id)).Msg("session deleted")
	return nil
}

// Sweep evicts everything past its expiry and reports how many went.
func (s *SessionStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, rec := range s.sessions {
		if rec.expired(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *SessionStore) newRecord(id domain.SessionID) *sessionRecord {
	now := time.Now()
	return &sessionRecord{
		id:        id,
		createdAt: now,
		expiresAt: now.Add(s.ttl),
		viewers:   make(map[domain.ConnID]struct{}),
	}
}

func (r *sessionRecord) expired(now time.Time) bool {
	return now.After(r.expiresAt)
}

func appendBounded(buf []domain.CandidateRecord, rec domain.CandidateRecord, limit int) ([]domain.CandidateRecord, bool) {
	buf = append(buf, rec)
	if limit > 0 && len(buf) > limit {
		return buf[len(buf)-limit:], true
	}
	return buf, false
}

func snapshot(rec *sessionRecord) domain.Session {
	snap := domain.Session{
		ID:        rec.id,
		CreatedAt: rec.createdAt,
		ExpiresAt: rec.expiresAt,
		Host:      rec.host,
		OfferAt:   rec.offerAt,
		AnswerAt:  rec.answerAt,
	}
	if rec.offer != nil {
		offer := *rec.offer
		snap.Offer = &offer
	}
	if rec.answer != nil {
		answer := *rec.answer
		snap.Answer = &answer
	}
	for v := range rec.viewers {
		snap.Viewers = append(snap.Viewers, v)
	}
	snap.HostCandidates = append([]domain.CandidateRecord(nil), rec.hostCandidates...)
	snap.ViewerCandidates = append([]domain.CandidateRecord(nil), rec.viewerCandidates...)
	return snap
}
