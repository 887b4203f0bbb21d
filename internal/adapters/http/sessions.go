package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/castbeam/relay/internal/app"
	"github.com/castbeam/relay/internal/app/relay"
	"github.com/castbeam/relay/internal/domain"
	"github.com/castbeam/relay/internal/signal"
)

// SignalingHandlers is the HTTP-polling transport adapter. Writes go
// through the router like any other transport; polls are plain store
// reads, with the signal staleness TTL applied so a dead handshake
// reads as absent.
type SignalingHandlers struct {
	Store     *app.SessionStore
	Router    *relay.Router
	SignalTTL time.Duration
}

type createSessionResponse struct {
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type sessionInfoResponse struct {
	SessionID   string       `json:"sessionId"`
	State       domain.State `json:"state"`
	HostPresent bool         `json:"hostPresent"`
	ViewerCount int          `json:"viewerCount"`
	CreatedAt   time.Time    `json:"createdAt"`
	ExpiresAt   time.Time    `json:"expiresAt"`
}

type postSignalRequest struct {
	Type      string                   `json:"type" binding:"required"`
	Role      string                   `json:"role,omitempty"`
	SDP       *signal.SDP              `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// CreateSession mints a shareable identifier before any signaling
// happens. This is the front end's entry point for starting a share.
func (h *SignalingHandlers) CreateSession(c *gin.Context) {
	sess := h.Store.Create()
	log.Info().Str("module", "adapters.http").Str("session", string(sess.ID)).
		Str("conn", c.GetString("client_token")).Msg("session minted")
	c.JSON(http.StatusCreated, createSessionResponse{
		SessionID: string(sess.ID),
		ExpiresAt: sess.ExpiresAt,
	})
}

func (h *SignalingHandlers) GetSession(c *gin.Context) {
	sess, err := h.Store.Get(domain.SessionID(c.Param("sessionId")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, sessionInfoResponse{
		SessionID:   string(sess.ID),
		State:       sess.State(),
		HostPresent: sess.Host != "",
		ViewerCount: len(sess.Viewers),
		CreatedAt:   sess.CreatedAt,
		ExpiresAt:   sess.ExpiresAt,
	})
}

// DeleteSession is the explicit teardown path, e.g. a host ending the
// share from the UI rather than closing the tab.
func (h *SignalingHandlers) DeleteSession(c *gin.Context) {
	id := domain.SessionID(c.Param("sessionId"))
	if err := h.Store.Delete(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session deleted"})
}

// PostSignal translates one polling-client write into a router event.
// The client token cookie supplies the connection identity.
func (h *SignalingHandlers) PostSignal(c *gin.Context) {
	sid := domain.SessionID(c.Param("sessionId"))
	connID := domain.ConnID(c.GetString("client_token"))

	var req postSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var err error
	switch signal.Kind(req.Type) {
	case signal.KindJoin:
		role, rerr := domain.ParseRole(req.Role)
		if rerr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": rerr.Error()})
			return
		}
		err = h.Router.Join(sid, connID, role)
	case signal.KindOffer, signal.KindAnswer:
		if req.SDP == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing sdp"})
			return
		}
		desc, derr := req.SDP.ToPion()
		if derr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": derr.Error()})
			return
		}
		if signal.Kind(req.Type) == signal.KindOffer {
			err = h.Router.Offer(sid, connID, desc)
		} else {
			err = h.Router.Answer(sid, connID, desc)
		}
	case signal.KindCandidate:
		if req.Candidate == nil || req.Candidate.Candidate == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing candidate"})
			return
		}
		err = h.Router.Candidate(sid, connID, *req.Candidate)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown signal type"})
		return
	}

	if err != nil {
		status := http.StatusUnprocessableEntity
		switch {
		case errors.Is(err, domain.ErrSessionNotFound):
			status = http.StatusNotFound
		case errors.Is(err, domain.ErrOutOfOrder), errors.Is(err, domain.ErrRoleConflict):
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error(), "code": signal.CodeFor(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetSignal serves the poll reads: current offer, current answer, or a
// candidate buffer. Blobs older than the staleness TTL read as null so
// a poller never latches onto a dead handshake.
func (h *SignalingHandlers) GetSignal(c *gin.Context) {
	sess, err := h.Store.Get(domain.SessionID(c.Param("sessionId")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	switch c.Param("kind") {
	case "offer":
		if sess.Offer == nil || h.stale(sess.OfferAt) {
			c.JSON(http.StatusOK, nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sdp": signal.SDPFromPion(*sess.Offer), "timestamp": sess.OfferAt})
	case "answer":
		if sess.Answer == nil || h.stale(sess.AnswerAt) {
			c.JSON(http.StatusOK, nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sdp": signal.SDPFromPion(*sess.Answer), "timestamp": sess.AnswerAt})
	case "candidates":
		buf := sess.HostCandidates
		if c.DefaultQuery("from", string(domain.RoleHost)) == string(domain.RoleViewer) {
			buf = sess.ViewerCandidates
		}
		out := make([]webrtc.ICECandidateInit, 0, len(buf))
		for _, rec := range buf {
			if !h.stale(rec.AddedAt) {
				out = append(out, rec.Candidate)
			}
		}
		c.JSON(http.StatusOK, out)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown signal kind"})
	}
}

func (h *SignalingHandlers) stale(t time.Time) bool {
	if h.SignalTTL <= 0 {
		return false
	}
	return t.IsZero() || time.Since(t) > h.SignalTTL
}
