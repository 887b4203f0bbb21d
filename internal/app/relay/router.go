// Package relay interprets inbound signaling events, enforces the role
// rules of the host/viewer handshake and decides which peers hear about
// it. It is transport-agnostic: adapters attach peers and feed events.
package relay

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/castbeam/relay/internal/app"
	"github.com/castbeam/relay/internal/domain"
	"github.com/castbeam/relay/internal/signal"
)

// Peer is the send-side capability a transport adapter hands the
// router. Send must not block; adapters back it with a buffered channel.
type Peer interface {
	Send(env signal.Envelope) error
}

// Router applies signaling events to the session store and fans the
// results out. All session state lives behind the store mutex; the
// router's own map only tracks which connections are reachable for
// push delivery. Recipient sets are computed inside store calls and
// dispatch happens afterwards, so no send ever holds a lock on session
// state.
type Router struct {
	store *app.SessionStore

	mu    sync.RWMutex
	peers map[domain.ConnID]Peer
}

func NewRouter(store *app.SessionStore) *Router {
	return &Router{
		store: store,
		peers: make(map[domain.ConnID]Peer),
	}
}

// Attach registers a connection for push delivery. Polling clients are
// never attached; they read the store through their own adapter.
func (r *Router) Attach(conn domain.ConnID, peer Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[conn] = peer
	log.Info().Str("module", "relay").Str("conn", string(conn)).Msg("peer attached")
}

func (r *Router) Detach(conn domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, conn)
}

// Join records a connection's role interest in a session, lazily
// creating the session. A viewer joining an already-offered session is
// immediately replayed the buffered offer and the host's buffered
// candidates in arrival order; that replay is what closes the late-join
// race.
func (r *Router) Join(sid domain.SessionID, conn domain.ConnID, role domain.Role) error {
	if role == domain.RoleHost {
		// Host status is earned by offering, not by joining.
		r.store.GetOrCreate(sid)
		r.store.Touch(sid)
		r.send(conn, signal.NewJoined(sid, role))
		return nil
	}

	r.store.GetOrCreate(sid)
	sess, err := r.store.AddViewer(sid, conn)
	if err != nil {
		return err
	}
	r.send(conn, signal.NewJoined(sid, role))

	if sess.State() == domain.StateEmpty {
		// Placeholder stays in the store so the viewer has something
		// to subscribe against until a host shows up.
		r.send(conn, signal.NewNoSession(sid))
		return nil
	}

	r.send(conn, signal.NewOffer(sid, *sess.Offer))
	for _, rec := range sess.HostCandidates {
		r.send(conn, signal.NewCandidate(sid, rec.Candidate))
	}
	return nil
}

// Offer promotes the sender to host (last offer wins) and forwards the
// offer to every currently-joined viewer.
func (r *Router) Offer(sid domain.SessionID, conn domain.ConnID, desc webrtc.SessionDescription) error {
	r.store.GetOrCreate(sid)
	res, err := r.store.ApplyOffer(sid, conn, desc)
	if err != nil {
		return err
	}
	env := signal.NewOffer(sid, desc)
	for _, viewer := range res.Session.Viewers {
		r.send(viewer, env)
	}
	log.Info().Str("module", "relay").Str("session", string(sid)).
		Int("viewers", len(res.Session.Viewers)).Bool("preempted", res.Preempted).Msg("offer applied")
	return nil
}

// Answer is delivered to the host only; answers are peer-specific.
func (r *Router) Answer(sid domain.SessionID, conn domain.ConnID, desc webrtc.SessionDescription) error {
	host, err := r.store.ApplyAnswer(sid, conn, desc)
	if err != nil {
		return err
	}
	r.send(host, signal.NewAnswer(sid, desc))
	return nil
}

// Candidate buffers the candidate for late joiners and relays it to
// every current counterpart. Buffer overflow drops the oldest entry and
// is logged, never fatal and never silent.
func (r *Router) Candidate(sid domain.SessionID, conn domain.ConnID, cand webrtc.ICECandidateInit) error {
	res, err := r.store.AddCandidate(sid, conn, cand)
	if err != nil {
		return err
	}
	if res.Overflowed {
		log.Warn().Str("module", "relay").Str("session", string(sid)).
			Str("origin", string(res.Origin)).Msg("candidate buffer overflow, oldest dropped")
	}
	env := signal.NewCandidate(sid, cand)
	for _, target := range res.Recipients {
		r.send(target, env)
	}
	return nil
}

// Disconnect removes the connection everywhere. A host disconnect tears
// its session down and notifies each joined viewer exactly once.
func (r *Router) Disconnect(conn domain.ConnID) {
	r.Detach(conn)
	for _, t := range r.store.RemoveConnection(conn) {
		env := signal.NewStreamEnded(t.SessionID, "host disconnected")
		for _, viewer := range t.Viewers {
			r.send(viewer, env)
		}
		log.Info().Str("module", "relay").Str("session", string(t.SessionID)).
			Int("viewers", len(t.Viewers)).Msg("stream ended")
	}
}

func (r *Router) send(conn domain.ConnID, env signal.Envelope) {
	r.mu.RLock()
	peer, ok := r.peers[conn]
	r.mu.RUnlock()
	if !ok {
		// Poll-transport clients pick state up from the store instead.
		return
	}
	if err := peer.Send(env); err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("conn", string(conn)).
			Str("type", string(env.Type)).Msg("send failed")
	}
}
