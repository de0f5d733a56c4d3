package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/domain"
	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/repo"
	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/usecase"
)

// LoopState is the dispatch loop's current phase.
type LoopState int

const (
	StateDisconnected LoopState = iota
	StateConnecting
	StatePolling
	StateExtracting
	StateDispatching
	StateBackoff
	StateStopped
)

func (s LoopState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StatePolling:
		return "polling"
	case StateExtracting:
		return "extracting"
	case StateDispatching:
		return "dispatching"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DispatchConfig tunes the loop.
type DispatchConfig struct {
	PollInterval time.Duration

	// Backoff after transient errors: sleep min(ErrorBase * n,
	// ErrorCeiling) where n is the consecutive-error count.
	ErrorBase    time.Duration
	ErrorCeiling time.Duration

	// MaxConsecutiveErrors stops the loop for good once reached.
	MaxConsecutiveErrors int

	// ConnectMaxRetries bounds the initial source acquisition.
	ConnectMaxRetries uint64
}

// DispatchLoop is the single sequential control flow that owns the
// content source. It polls through the change detector, extracts on
// detection, and hands messages to the worker pool; it never blocks on
// action execution beyond enqueueing.
type DispatchLoop struct {
	source   repo.ContentSource
	detector *usecase.ChangeDetector
	dedup    *usecase.ReplyDedup
	pool     *WorkerPool
	cfg      DispatchConfig

	mu          sync.Mutex
	state       LoopState
	consecutive int

	// held is an extracted message that missed the queue. The detector
	// baseline has already moved past it, so it is retried on later
	// cycles rather than re-extracted. Loop goroutine only.
	held *domain.Message
}

// NewDispatchLoop wires the loop. The pool must be started separately.
func NewDispatchLoop(source repo.ContentSource, detector *usecase.ChangeDetector, dedup *usecase.ReplyDedup, pool *WorkerPool, cfg DispatchConfig) *DispatchLoop {
	return &DispatchLoop{
		source:   source,
		detector: detector,
		dedup:    dedup,
		pool:     pool,
		cfg:      cfg,
		state:    StateDisconnected,
	}
}

// State returns the loop's current phase, for the status surface.
func (l *DispatchLoop) State() LoopState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// ConsecutiveErrors returns the current transient-error streak.
func (l *DispatchLoop) ConsecutiveErrors() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.consecutive
}

func (l *DispatchLoop) setState(s LoopState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Run drives the loop until ctx is cancelled or the error cap is hit.
// The only unconditionally fatal path is connect exhaustion; both
// fatal paths return an error wrapping domain.ErrFatal, reported
// exactly once.
func (l *DispatchLoop) Run(ctx context.Context) error {
	if err := l.connect(ctx); err != nil {
		l.setState(StateStopped)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Printf("[Dispatch] FATAL: could not acquire content source: %v\n", err)
		return fmt.Errorf("%w: connect: %v", domain.ErrFatal, err)
	}
	defer l.source.Close()

	l.setState(StatePolling)
	fmt.Printf("[Dispatch] Polling every %v\n", l.cfg.PollInterval)

	timer := time.NewTimer(l.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return ctx.Err()

		case <-l.pool.Settled():
			// A dispatched action finished; rebase so our own reply is
			// not mistaken for new incoming content.
			l.rebase(ctx)

		case <-timer.C:
			if err := l.pollOnce(ctx); err != nil {
				if errors.Is(err, domain.ErrFatal) {
					l.shutdown()
					return err
				}
				if err := l.backoff(ctx); err != nil {
					l.shutdown()
					return err
				}
			}
			timer.Reset(l.cfg.PollInterval)
		}
	}
}

// connect acquires the source with capped exponential backoff.
func (l *DispatchLoop) connect(ctx context.Context) error {
	l.setState(StateConnecting)
	fmt.Println("[Dispatch] Connecting to content source...")

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), l.cfg.ConnectMaxRetries), ctx)
	return backoff.Retry(func() error {
		if err := l.source.Connect(ctx); err != nil {
			fmt.Printf("[Dispatch] Connect attempt failed: %v\n", err)
			return err
		}
		return nil
	}, policy)
}

// pollOnce runs one sample, detect, extract, enqueue cycle.
func (l *DispatchLoop) pollOnce(ctx context.Context) error {
	l.setState(StatePolling)

	if l.held != nil {
		if err := l.dispatch(l.held); err != nil {
			return err
		}
		l.held = nil
	}

	fp, err := l.source.Sample(ctx)
	if err != nil {
		// Sampling failure is a detection error, never "unchanged".
		return fmt.Errorf("%w: sample: %v", domain.ErrDetection, err)
	}

	if !l.detector.Observe(fp) {
		l.resetErrors()
		return nil
	}

	l.setState(StateExtracting)
	msg, err := l.source.ExtractLatest(ctx)
	if err != nil {
		// Unreadable content: refresh the baseline so the same frame
		// does not re-trigger every poll, and enqueue nothing.
		fmt.Printf("[Dispatch] Extraction failed: %v\n", err)
		l.rebase(ctx)
		l.resetErrors()
		return nil
	}

	if l.dedup.Seen(msg) {
		fmt.Printf("[Dispatch] Duplicate message from %s within window, skipping\n", msg.Sender)
		l.resetErrors()
		return nil
	}

	l.setState(StateDispatching)
	if err := l.dispatch(msg); err != nil {
		return err
	}
	l.resetErrors()
	return nil
}

// dispatch hands one message to the pool. A full queue holds the
// message for the next cycle instead of dropping it.
func (l *DispatchLoop) dispatch(msg *domain.Message) error {
	if err := l.pool.Enqueue(msg); err != nil {
		l.held = msg
		return fmt.Errorf("enqueue: %w", err)
	}
	l.dedup.Mark(msg)
	fmt.Printf("[Dispatch] Dispatched message from %s (%s)\n", msg.Sender, msg.Type)
	return nil
}

// rebase refreshes the detector baseline from a fresh sample. Runs in
// the loop goroutine only; the source is not shareable.
func (l *DispatchLoop) rebase(ctx context.Context) {
	fp, err := l.source.Sample(ctx)
	if err != nil {
		fmt.Printf("[Dispatch] Rebase sample failed: %v\n", err)
		return
	}
	l.detector.Rebase(fp)
}

func (l *DispatchLoop) resetErrors() {
	l.mu.Lock()
	l.consecutive = 0
	l.mu.Unlock()
}

// backoff handles one transient error: bump the streak, stop for good
// at the cap, otherwise sleep min(ErrorBase * n, ErrorCeiling).
func (l *DispatchLoop) backoff(ctx context.Context) error {
	l.mu.Lock()
	l.consecutive++
	n := l.consecutive
	l.state = StateBackoff
	l.mu.Unlock()

	if n >= l.cfg.MaxConsecutiveErrors {
		fmt.Printf("[Dispatch] FATAL: %d consecutive errors, giving up\n", n)
		return fmt.Errorf("%w: %d consecutive errors", domain.ErrFatal, n)
	}

	wait := l.cfg.ErrorBase * time.Duration(n)
	if wait > l.cfg.ErrorCeiling {
		wait = l.cfg.ErrorCeiling
	}
	fmt.Printf("[Dispatch] Transient error %d/%d, backing off %v\n", n, l.cfg.MaxConsecutiveErrors, wait)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// shutdown lets in-flight tasks settle under their hard limit.
func (l *DispatchLoop) shutdown() {
	fmt.Println("[Dispatch] Stopping, waiting for in-flight tasks...")
	l.pool.Stop()
	l.setState(StateStopped)
	fmt.Println("[Dispatch] Stopped")
}
