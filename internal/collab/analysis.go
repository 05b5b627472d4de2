package collab

import (
	"sort"
	"sync"
	"time"

	"storyforge/internal/models"
)

// AnalysisKey correlates critique requests with their asynchronous results.
// Each (target, critic) pair has at most one request in flight; different
// critics on the same target proceed independently.
type AnalysisKey struct {
	TargetID   string
	CriticType string
}

// AnalysisError is the recorded failure for a key, kept until the next
// request for that key begins.
type AnalysisError struct {
	Message string
	Code    models.AnalysisErrorCode
}

type pendingAnalysis struct {
	seq         uint64
	requestedAt time.Time
}

// analysisTracker owns the pending-request map and the result history.
// Pending entries survive disconnects: the server keeps working while the
// channel is down, and a late completion after reconnect still clears the
// right key.
type analysisTracker struct {
	mu      sync.RWMutex
	seq     uint64
	pending map[AnalysisKey]pendingAnalysis
	errors  map[AnalysisKey]AnalysisError
	results map[string]models.AIAnalysis
	latest  map[AnalysisKey]string
}

func newAnalysisTracker() *analysisTracker {
	return &analysisTracker{
		pending: make(map[AnalysisKey]pendingAnalysis),
		errors:  make(map[AnalysisKey]AnalysisError),
		results: make(map[string]models.AIAnalysis),
		latest:  make(map[AnalysisKey]string),
	}
}

// begin marks a key pending. A second request for an already pending key is
// rejected; completed or failed keys accept a fresh request immediately.
func (t *analysisTracker) begin(key AnalysisKey) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[key]; ok {
		return 0, ErrAnalysisInProgress
	}
	t.seq++
	t.pending[key] = pendingAnalysis{seq: t.seq, requestedAt: time.Now()}
	delete(t.errors, key)
	return t.seq, nil
}

// rollback removes a pending entry if it still belongs to the given request,
// used when the send fails after begin succeeded.
func (t *analysisTracker) rollback(key AnalysisKey, seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.pending[key]; ok && p.seq == seq {
		delete(t.pending, key)
	}
}

// complete records a finished critique. The result always enters the
// history, even when no request is pending for the key (a late completion
// from a previous session); only the matching key's pending flag is cleared.
func (t *analysisTracker) complete(a models.AIAnalysis) {
	key := AnalysisKey{TargetID: a.TargetID, CriticType: a.CriticType}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results[a.ID] = a
	t.latest[key] = a.ID
	delete(t.pending, key)
	delete(t.errors, key)
}

// fail records a failure for a key. Failures with no matching pending
// request are dropped; they belong to a request this engine never made.
func (t *analysisTracker) fail(key AnalysisKey, msg string, code models.AnalysisErrorCode) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[key]; !ok {
		return false
	}
	delete(t.pending, key)
	t.errors[key] = AnalysisError{Message: msg, Code: code}
	return true
}

// expire times out a still-pending request. The seq guard keeps a stale
// timer from expiring a newer request for the same key.
func (t *analysisTracker) expire(key AnalysisKey, seq uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[key]
	if !ok || p.seq != seq {
		return false
	}
	delete(t.pending, key)
	t.errors[key] = AnalysisError{Message: "no response from server", Code: models.CodeNoResponse}
	return true
}

// isPending reports whether a request is in flight for the key.
func (t *analysisTracker) isPending(key AnalysisKey) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.pending[key]
	return ok
}

// pendingFor returns the critic types with a request in flight for a target.
func (t *analysisTracker) pendingFor(targetID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for key := range t.pending {
		if key.TargetID == targetID {
			out = append(out, key.CriticType)
		}
	}
	sort.Strings(out)
	return out
}

// lastError returns the recorded failure for a key, if any.
func (t *analysisTracker) lastError(key AnalysisKey) (AnalysisError, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.errors[key]
	return e, ok
}

// latestResult returns the most recent completed critique for a key.
func (t *analysisTracker) latestResult(key AnalysisKey) (models.AIAnalysis, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.latest[key]
	if !ok {
		return models.AIAnalysis{}, false
	}
	a, ok := t.results[id]
	return a, ok
}

// resultsFor returns all recorded critiques for a target, newest first.
// KSUIDs sort chronologically, so ID order is creation order.
func (t *analysisTracker) resultsFor(targetID string) []models.AIAnalysis {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []models.AIAnalysis
	for _, a := range t.results {
		if a.TargetID == targetID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (t *analysisTracker) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = make(map[AnalysisKey]pendingAnalysis)
	t.errors = make(map[AnalysisKey]AnalysisError)
	t.results = make(map[string]models.AIAnalysis)
	t.latest = make(map[AnalysisKey]string)
}
