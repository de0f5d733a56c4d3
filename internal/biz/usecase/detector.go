package usecase

import (
	"sync"

	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/domain"
)

// ChangeDetector decides whether a new message likely arrived by
// comparing successive fingerprints of the content surface. It only
// fires when the distance to the stored baseline exceeds the threshold,
// which de-noises polling against rendering jitter.
type ChangeDetector struct {
	threshold int

	mu       sync.Mutex
	baseline domain.Fingerprint
	primed   bool
}

// NewChangeDetector creates a detector with the given distance threshold.
func NewChangeDetector(threshold int) *ChangeDetector {
	return &ChangeDetector{threshold: threshold}
}

// Observe compares fp against the baseline. The first call only stores
// the baseline and returns false. Later calls return true iff the
// distance exceeds the threshold, replacing the baseline in that case;
// otherwise the baseline is left untouched.
func (d *ChangeDetector) Observe(fp domain.Fingerprint) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.primed {
		d.baseline = fp
		d.primed = true
		return false
	}

	if d.baseline.Distance(fp) > d.threshold {
		d.baseline = fp
		return true
	}
	return false
}

// Rebase unconditionally replaces the baseline. The dispatch loop calls
// this after an action settles so the system's own emitted content is
// not re-detected as new incoming content.
func (d *ChangeDetector) Rebase(fp domain.Fingerprint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.baseline = fp
	d.primed = true
}
