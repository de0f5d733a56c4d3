package repo

import (
	"context"

	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/domain"
)

// ContentSource is the message surface being watched. It has no event
// API; the dispatch loop polls Sample and, when the detector fires,
// pulls the newest message with ExtractLatest.
//
// A source is a serialized resource: only the dispatch loop may call
// it, and never concurrently.
type ContentSource interface {
	// Connect acquires the source. Called once before polling starts.
	Connect(ctx context.Context) error

	// Sample returns a fingerprint of the current surface state.
	Sample(ctx context.Context) (domain.Fingerprint, error)

	// ExtractLatest returns the most recent message on the surface.
	ExtractLatest(ctx context.Context) (*domain.Message, error)

	// Close releases the source.
	Close() error
}
