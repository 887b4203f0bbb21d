package app

import (
	"fmt"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castbeam/relay/internal/domain"
)

func newTestStore() *SessionStore {
	return NewSessionStore(time.Hour, 4)
}

func offerSDP(s string) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: s}
}

func answerSDP(s string) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: s}
}

func cand(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}

func TestCreateMintsUniqueSessions(t *testing.T) {
	s := newTestStore()
	seen := make(map[domain.SessionID]bool)
	for i := 0; i < 100; i++ {
		sess := s.Create()
		require.False(t, seen[sess.ID], "session ID reused")
		seen[sess.ID] = true
	}
	assert.Equal(t, 100, s.Len())
}

func TestGetUnknownSession(t *testing.T) {
	s := newTestStore()
	_, err := s.Get("missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestGetExpiredSessionReadsAbsent(t *testing.T) {
	s := NewSessionStore(-time.Minute, 4)
	sess := s.Create()
	_, err := s.Get(sess.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestTouchExtendsExpiry(t *testing.T) {
	s := newTestStore()
	sess := s.Create()
	before := sess.ExpiresAt

	time.Sleep(5 * time.Millisecond)
	require.True(t, s.Touch(sess.ID))

	after, err := s.Get(sess.ID)
	require.NoError(t, err)
	assert.True(t, after.ExpiresAt.After(before))

	assert.False(t, s.Touch("missing"))
}

func TestApplyOfferSetsHostAndOfferTogether(t *testing.T) {
	s := newTestStore()
	sess := s.Create()

	fresh, err := s.Get(sess.ID)
	require.NoError(t, err)
	assert.Empty(t, fresh.Host)
	assert.Nil(t, fresh.Offer)
	assert.Equal(t, domain.StateEmpty, fresh.State())

	res, err := s.ApplyOffer(sess.ID, "host-1", offerSDP("O1"))
	require.NoError(t, err)
	assert.False(t, res.Preempted)

	got, err := s.Get(sess.ID)
	require.NoError(t, err)
	// The invariant: host set implies an offer is present.
	assert.Equal(t, domain.ConnID("host-1"), got.Host)
	require.NotNil(t, got.Offer)
	assert.Equal(t, "O1", got.Offer.SDP)
	assert.Equal(t, domain.StateOffered, got.State())
}

func TestApplyOfferUnknownSession(t *testing.T) {
	s := newTestStore()
	_, err := s.ApplyOffer("missing", "host-1", offerSDP("O1"))
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestApplyOfferPreemptionResetsHandshake(t *testing.T) {
	s := newTestStore()
	sess := s.Create()

	_, err := s.ApplyOffer(sess.ID, "host-1", offerSDP("O1"))
	require.NoError(t, err)
	_, err = s.ApplyAnswer(sess.ID, "viewer-1", answerSDP("A1"))
	require.NoError(t, err)
	_, err = s.AddCandidate(sess.ID, "host-1", cand("C1"))
	require.NoError(t, err)

	res, err := s.ApplyOffer(sess.ID, "host-2", offerSDP("O2"))
	require.NoError(t, err)
	assert.True(t, res.Preempted)
	assert.Equal(t, domain.ConnID("host-1"), res.PrevHost)

	got, err := s.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConnID("host-2"), got.Host)
	assert.Nil(t, got.Answer)
	assert.Empty(t, got.HostCandidates)
	assert.Empty(t, got.ViewerCandidates)
	assert.Equal(t, domain.StateOffered, got.State())
}

func TestApplyAnswerBeforeOffer(t *testing.T) {
	s := newTestStore()
	sess := s.Create()
	_, err := s.ApplyAnswer(sess.ID, "viewer-1", answerSDP("A1"))
	assert.ErrorIs(t, err, domain.ErrOutOfOrder)
}

func TestApplyAnswerReturnsHost(t *testing.T) {
	s := newTestStore()
	sess := s.Create()
	_, err := s.ApplyOffer(sess.ID, "host-1", offerSDP("O1"))
	require.NoError(t, err)

	host, err := s.ApplyAnswer(sess.ID, "viewer-1", answerSDP("A1"))
	require.NoError(t, err)
	assert.Equal(t, domain.ConnID("host-1"), host)

	got, err := s.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateConnected, got.State())
	assert.True(t, got.HasViewer("viewer-1"))
}

func TestAddCandidateOriginAndRecipients(t *testing.T) {
	s := newTestStore()
	sess := s.Create()
	_, err := s.ApplyOffer(sess.ID, "host-1", offerSDP("O1"))
	require.NoError(t, err)
	_, err = s.AddViewer(sess.ID, "viewer-1")
	require.NoError(t, err)
	_, err = s.AddViewer(sess.ID, "viewer-2")
	require.NoError(t, err)

	res, err := s.AddCandidate(sess.ID, "host-1", cand("HC1"))
	require.NoError(t, err)
	assert.Equal(t, domain.RoleHost, res.Origin)
	assert.ElementsMatch(t, []domain.ConnID{"viewer-1", "viewer-2"}, res.Recipients)

	res, err = s.AddCandidate(sess.ID, "viewer-1", cand("VC1"))
	require.NoError(t, err)
	assert.Equal(t, domain.RoleViewer, res.Origin)
	assert.Equal(t, []domain.ConnID{"host-1"}, res.Recipients)
}

func TestAddCandidateBuffersInOrder(t *testing.T) {
	s := newTestStore()
	sess := s.Create()
	_, err := s.ApplyOffer(sess.ID, "host-1", offerSDP("O1"))
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		_, err := s.AddCandidate(sess.ID, "host-1", cand(fmt.Sprintf("C%d", i)))
		require.NoError(t, err)
	}

	got, err := s.Get(sess.ID)
	require.NoError(t, err)
	require.Len(t, got.HostCandidates, 3)
	for i, rec := range got.HostCandidates {
		assert.Equal(t, fmt.Sprintf("C%d", i+1), rec.Candidate.Candidate)
	}
}

func TestAddCandidateDropsOldestOnOverflow(t *testing.T) {
	s := NewSessionStore(time.Hour, 2)
	sess := s.Create()
	_, err := s.ApplyOffer(sess.ID, "host-1", offerSDP("O1"))
	require.NoError(t, err)

	var overflowed bool
	for i := 1; i <= 3; i++ {
		res, err := s.AddCandidate(sess.ID, "host-1", cand(fmt.Sprintf("C%d", i)))
		require.NoError(t, err)
		overflowed = overflowed || res.Overflowed
	}
	assert.True(t, overflowed)

	got, err := s.Get(sess.ID)
	require.NoError(t, err)
	require.Len(t, got.HostCandidates, 2)
	assert.Equal(t, "C2", got.HostCandidates[0].Candidate.Candidate)
	assert.Equal(t, "C3", got.HostCandidates[1].Candidate.Candidate)
}

func TestRemoveConnectionHostTearsDown(t *testing.T) {
	s := newTestStore()
	sess := s.Create()
	_, err := s.ApplyOffer(sess.ID, "host-1", offerSDP("O1"))
	require.NoError(t, err)
	_, err = s.AddViewer(sess.ID, "viewer-1")
	require.NoError(t, err)
	_, err = s.AddViewer(sess.ID, "viewer-2")
	require.NoError(t, err)

	torn := s.RemoveConnection("host-1")
	require.Len(t, torn, 1)
	assert.Equal(t, sess.ID, torn[0].SessionID)
	assert.ElementsMatch(t, []domain.ConnID{"viewer-1", "viewer-2"}, torn[0].Viewers)

	_, err = s.Get(sess.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRemoveConnectionViewerOnlyUnregisters(t *testing.T) {
	s := newTestStore()
	sess := s.Create()
	_, err := s.ApplyOffer(sess.ID, "host-1", offerSDP("O1"))
	require.NoError(t, err)
	_, err = s.AddViewer(sess.ID, "viewer-1")
	require.NoError(t, err)

	torn := s.RemoveConnection("viewer-1")
	assert.Empty(t, torn)

	got, err := s.Get(sess.ID)
	require.NoError(t, err)
	assert.False(t, got.HasViewer("viewer-1"))
	assert.Equal(t, domain.ConnID("host-1"), got.Host)
}

func TestSweepRemovesExpiredOnly(t *testing.T) {
	s := newTestStore()
	live := s.Create()
	other := s.Create()
	_, err := s.ApplyOffer(live.ID, "host-1", offerSDP("O1"))
	require.NoError(t, err)

	beforeSweep, err := s.Get(live.ID)
	require.NoError(t, err)

	// Sweeping before the horizon leaves everything untouched.
	removed := s.Sweep(other.ExpiresAt.Add(-time.Minute))
	assert.Equal(t, 0, removed)

	liveSnap, err := s.Get(live.ID)
	require.NoError(t, err)
	assert.Equal(t, beforeSweep.Host, liveSnap.Host)
	require.NotNil(t, liveSnap.Offer)
	assert.Equal(t, "O1", liveSnap.Offer.SDP)

	removed = s.Sweep(time.Now().Add(2 * time.Hour))
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, s.Len())
}

func TestGetOrCreatePlaceholder(t *testing.T) {
	s := newTestStore()

	sess, created := s.GetOrCreate("lazy-1")
	assert.True(t, created)
	assert.Equal(t, domain.StateEmpty, sess.State())

	again, created := s.GetOrCreate("lazy-1")
	assert.False(t, created)
	assert.Equal(t, sess.ID, again.ID)
}
