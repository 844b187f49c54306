package enrich

import (
	"strconv"
	"sync"
	"time"

	"github.com/signalcove/pixelwatch/internal/record"
)

// SessionBoundary is the inactivity gap that starts a new session for a
// device (§4.3.1 row 7).
const SessionBoundary = 30 * time.Minute

type sessionState struct {
	id         string
	hitNum     int
	startedAt  time.Time
	lastSeenAt time.Time
	pages      map[string]struct{}
}

// SessionTracker stitches hits into sessions per DeviceHash using a 30
// minute inactivity boundary, held in a single mutex-guarded map (teacher
// idiom: reader-heavy in-memory state, fine-grained per-key locking would
// be premature here given session churn is comparatively low volume).
type SessionTracker struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
	nextSeq  uint64
}

// NewSessionTracker returns an empty tracker.
func NewSessionTracker() *SessionTracker {
	return &SessionTracker{sessions: make(map[string]*sessionState)}
}

// Session runs step 7: session stitching keyed by deviceHash. now is the
// hit's timestamp; rec.RequestPath is the page path contributing to the
// session's distinct-page count.
func (t *SessionTracker) Session(rec record.TrackingRecord, deviceHash string, now time.Time) record.TrackingRecord {
	if deviceHash == "" {
		return rec
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.sessions[deviceHash]
	if !ok || now.Sub(st.lastSeenAt) > SessionBoundary {
		t.nextSeq++
		st = &sessionState{
			id:        sessionID(deviceHash, t.nextSeq),
			startedAt: now,
			pages:     make(map[string]struct{}),
		}
		t.sessions[deviceHash] = st
	}

	st.hitNum++
	st.lastSeenAt = now
	if rec.RequestPath != "" {
		st.pages[rec.RequestPath] = struct{}{}
	}

	rec = rec.AppendEnrichment(record.Srv("sessionId"), st.id)
	rec = rec.AppendEnrichment(record.Srv("sessionHitNum"), strconv.Itoa(st.hitNum))
	rec = rec.AppendEnrichment(record.Srv("sessionDurationSec"), strconv.FormatInt(int64(now.Sub(st.startedAt).Seconds()), 10))
	rec = rec.AppendEnrichment(record.Srv("sessionPages"), strconv.Itoa(len(st.pages)))
	return rec
}

func sessionID(deviceHash string, seq uint64) string {
	prefix := deviceHash
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	return prefix + "-" + strconv.FormatUint(seq, 36)
}

// Sweep drops sessions that have been inactive for longer than
// SessionBoundary, bounding memory growth.
func (t *SessionTracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	dropped := 0
	for key, st := range t.sessions {
		if now.Sub(st.lastSeenAt) > SessionBoundary {
			delete(t.sessions, key)
			dropped++
		}
	}
	return dropped
}
