package enrich

import (
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/signalcove/pixelwatch/internal/record"
)

// ReplayGridPX and ReplayTimeBucket quantize a mouse path before hashing,
// so near-identical paths replayed by automation collide to the same
// hash even with jittered pixel/timing noise (§4.3.1 row 13).
const (
	ReplayGridPX    = 10
	ReplayTimeBucket = 100 * time.Millisecond
)

type replaySeen struct {
	fingerprint string
	seenAt      time.Time
}

// ReplayTracker retains recently seen quantized mouse-path hashes and
// flags a replay when the same hash reappears under a different
// fingerprint within the retention window.
type ReplayTracker struct {
	mu        sync.Mutex
	retention time.Duration
	hashes    map[uint32]replaySeen
}

// NewReplayTracker builds a tracker retaining hashes for retention
// (configured via Worker.ReplayRetentionMinutes).
func NewReplayTracker(retention time.Duration) *ReplayTracker {
	return &ReplayTracker{retention: retention, hashes: make(map[uint32]replaySeen)}
}

// Replay runs step 13: quantize mousePath, hash it with FNV-1a, and check
// for a prior occurrence under a different fingerprint.
func (t *ReplayTracker) Replay(rec record.TrackingRecord, fingerprint string, now time.Time) record.TrackingRecord {
	mousePath, ok := record.LookupParam(rec.QueryString, "mousePath")
	if !ok || mousePath == "" {
		return rec
	}

	hash := hashQuantizedPath(mousePath)

	t.mu.Lock()
	prior, existed := t.hashes[hash]
	if !existed || now.Sub(prior.seenAt) > t.retention {
		t.hashes[hash] = replaySeen{fingerprint: fingerprint, seenAt: now}
		t.mu.Unlock()
		return rec
	}
	t.hashes[hash] = replaySeen{fingerprint: fingerprint, seenAt: now}
	t.mu.Unlock()

	if prior.fingerprint != fingerprint {
		rec = rec.AppendEnrichment(record.Srv("replayDetected"), "1")
		rec = rec.AppendEnrichment(record.Srv("replayMatchFP"), prior.fingerprint)
	}
	return rec
}

// hashQuantizedPath parses a "x,y,t|x,y,t|..." mouse path (§6.2: points
// pipe-delimited, fields within a point comma-delimited), snaps each
// point to a ReplayGridPX grid and ReplayTimeBucket time bucket, and
// returns its FNV-1a 32-bit hash.
func hashQuantizedPath(path string) uint32 {
	h := fnv.New32a()
	for _, point := range strings.Split(path, "|") {
		parts := strings.Split(point, ",")
		if len(parts) != 3 {
			continue
		}
		x, _ := strconv.Atoi(parts[0])
		y, _ := strconv.Atoi(parts[1])
		ms, _ := strconv.Atoi(parts[2])

		qx := x / ReplayGridPX
		qy := y / ReplayGridPX
		qt := (time.Duration(ms) * time.Millisecond) / ReplayTimeBucket

		h.Write([]byte(strconv.Itoa(qx) + "," + strconv.Itoa(qy) + "," + strconv.FormatInt(int64(qt), 10) + "|"))
	}
	return h.Sum32()
}

// Sweep drops hashes older than the retention window.
func (t *ReplayTracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	dropped := 0
	for hash, seen := range t.hashes {
		if now.Sub(seen.seenAt) > t.retention {
			delete(t.hashes, hash)
			dropped++
		}
	}
	return dropped
}
