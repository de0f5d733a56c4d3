package domain

import "math/bits"

// Fingerprint is a 64-bit perceptual hash of the content surface.
// The extractor computes it; the detector only compares distances,
// so rendering noise (anti-aliasing, clock digits) is absorbed by
// the distance threshold rather than by the hash itself.
type Fingerprint uint64

// Distance returns the Hamming distance between two fingerprints.
func (f Fingerprint) Distance(other Fingerprint) int {
	return bits.OnesCount64(uint64(f ^ other))
}
