package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/domain"
	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/usecase"
)

// Task is one detected message queued for rule matching and execution.
type Task struct {
	ID         string
	Message    *domain.Message
	Attempt    int
	EnqueuedAt time.Time
}

// ResultKind classifies a task attempt.
type ResultKind int

const (
	ResultOk ResultKind = iota
	ResultRetryable
	ResultFatal
)

// Result is the explicit outcome of one task attempt; the retry policy
// acts on it instead of on raised errors.
type Result struct {
	Kind ResultKind
	Err  error
}

// RetryPolicy is the task queue's re-enqueue schedule.
type RetryPolicy struct {
	MaxRetries   int
	BaseDelay    time.Duration
	DelayCeiling time.Duration
}

// Delay returns the wait before the given attempt (1-based).
// Schedule: min(BaseDelay * attempt, DelayCeiling).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay * time.Duration(attempt)
	if d > p.DelayCeiling {
		return p.DelayCeiling
	}
	return d
}

// WorkerPoolConfig bounds the pool.
type WorkerPoolConfig struct {
	Workers   int
	QueueSize int
	Retry     RetryPolicy
	SoftLimit time.Duration
	HardLimit time.Duration
}

// unprocessedRuleName is the pseudo-rule name under which tasks still
// queued at shutdown are recorded.
const unprocessedRuleName = "unprocessed"

// WorkerPool pulls tasks off a bounded queue, runs the rule engine and
// executor against them, and re-enqueues failures per the retry
// policy. Retries of one task are sequential: a task is only ever
// re-enqueued after its previous attempt finished.
type WorkerPool struct {
	engine   *usecase.RuleEngine
	executor *usecase.ActionExecutor
	log      *usecase.ExecutionLog
	cfg      WorkerPoolConfig

	tasks   chan *Task
	pending atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards stopped; timers.Add only happens while holding mu with
	// stopped false, so Stop's timers.Wait never races a late Add.
	mu      sync.Mutex
	stopped bool
	timers  sync.WaitGroup

	// settled receives a signal whenever a task finishes for good, so
	// the dispatch loop can rebase the change detector.
	settled chan struct{}
}

// NewWorkerPool creates a stopped pool.
func NewWorkerPool(engine *usecase.RuleEngine, executor *usecase.ActionExecutor, log *usecase.ExecutionLog, cfg WorkerPoolConfig) *WorkerPool {
	return &WorkerPool{
		engine:   engine,
		executor: executor,
		log:      log,
		cfg:      cfg,
		tasks:    make(chan *Task, cfg.QueueSize),
		settled:  make(chan struct{}, cfg.QueueSize),
	}
}

// Settled exposes the completion signal channel.
func (p *WorkerPool) Settled() <-chan struct{} {
	return p.settled
}

// Pending returns the number of tasks not yet settled.
func (p *WorkerPool) Pending() int64 {
	return p.pending.Load()
}

// Start launches the workers.
func (p *WorkerPool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	fmt.Printf("[Worker] Started %d workers (queue %d)\n", p.cfg.Workers, p.cfg.QueueSize)
}

// Stop closes intake and waits for in-flight attempts to finish under
// their hard limit. Tasks still queued are recorded as unprocessed;
// pending retry timers are released without another attempt.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.timers.Wait()
	p.wg.Wait()
	// A retry timer may have re-enqueued after the workers already
	// drained; nothing can write to the queue anymore, so settle any
	// straggler here.
	p.drain()
	fmt.Println("[Worker] Stopped")
}

// Enqueue accepts a message for asynchronous processing. Returns an
// error when the queue is full rather than blocking the caller.
func (p *WorkerPool) Enqueue(msg *domain.Message) error {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return fmt.Errorf("worker pool stopped")
	}

	task := &Task{
		ID:         uuid.NewString(),
		Message:    msg,
		Attempt:    1,
		EnqueuedAt: time.Now(),
	}
	select {
	case p.tasks <- task:
		p.pending.Add(1)
		return nil
	default:
		return fmt.Errorf("task queue full (%d)", p.cfg.QueueSize)
	}
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for {
		// Shutdown takes priority over further intake.
		select {
		case <-p.ctx.Done():
			p.drain()
			return
		default:
		}
		select {
		case <-p.ctx.Done():
			p.drain()
			return
		case task := <-p.tasks:
			p.runTask(task)
		}
	}
}

// drain settles tasks still queued at shutdown. Each gets a record
// under the unprocessed pseudo-rule so it does not vanish without a
// trace.
func (p *WorkerPool) drain() {
	for {
		select {
		case task := <-p.tasks:
			rec := usecase.NewRecord(unprocessedRuleName, task.Message)
			rec.ErrorMessage = "shutdown before processing"
			p.log.Record(context.Background(), rec)
			fmt.Printf("[Worker] Task %s still queued at shutdown, recorded as unprocessed\n", task.ID)
			p.finish(task)
		default:
			return
		}
	}
}

func (p *WorkerPool) runTask(task *Task) {
	// The attempt context is independent of the pool lifecycle: an
	// attempt already running when Stop is called finishes under its
	// hard limit instead of being aborted mid-send.
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.HardLimit)
	defer cancel()

	start := time.Now()
	res := p.process(ctx, task)
	if elapsed := time.Since(start); elapsed > p.cfg.SoftLimit {
		fmt.Printf("[Worker] Task %s attempt %d ran %v, past the soft limit %v\n",
			task.ID, task.Attempt, elapsed.Round(time.Millisecond), p.cfg.SoftLimit)
	}

	switch res.Kind {
	case ResultOk:
		p.finish(task)

	case ResultRetryable:
		if task.Attempt >= p.cfg.Retry.MaxRetries {
			fmt.Printf("[Worker] Task %s permanently failed after %d attempts: %v\n", task.ID, task.Attempt, res.Err)
			p.finish(task)
			return
		}
		p.mu.Lock()
		if p.stopped {
			p.mu.Unlock()
			fmt.Printf("[Worker] Task %s failed and the pool is stopping, not retrying: %v\n", task.ID, res.Err)
			p.finish(task)
			return
		}
		p.timers.Add(1)
		p.mu.Unlock()

		delay := p.cfg.Retry.Delay(task.Attempt)
		fmt.Printf("[Worker] Task %s attempt %d failed, retrying in %v: %v\n", task.ID, task.Attempt, delay, res.Err)
		go func() {
			defer p.timers.Done()
			select {
			case <-p.ctx.Done():
				p.finish(task)
			case <-time.After(delay):
				next := *task
				next.Attempt++
				select {
				case p.tasks <- &next:
				case <-p.ctx.Done():
					p.finish(task)
				}
			}
		}()

	case ResultFatal:
		fmt.Printf("[Worker] Task %s failed without retry: %v\n", task.ID, res.Err)
		p.finish(task)
	}
}

// finish marks a task settled for good and signals the dispatch loop.
func (p *WorkerPool) finish(task *Task) {
	p.pending.Add(-1)
	p.log.MessageSettled()
	select {
	case p.settled <- struct{}{}:
	default:
	}
}

// process evaluates the task's message against the rule set and runs
// every matching rule. One record per (rule, message) evaluation.
func (p *WorkerPool) process(ctx context.Context, task *Task) Result {
	msg := task.Message
	match := p.engine.Match(msg, time.Now())

	// Per-rule condition failures are recorded but never retried: the
	// rule file is wrong, not the channel.
	for _, re := range match.Errors {
		rec := usecase.NewRecord(re.RuleName, msg)
		rec.ErrorMessage = re.Err.Error()
		p.log.Record(ctx, rec)
		fmt.Printf("[Worker] Rule %s evaluation failed: %v\n", re.RuleName, re.Err)
	}

	rules := match.Rules
	if len(rules) == 0 && !match.Blocked {
		if fb := p.engine.Fallback(); fb != nil {
			fmt.Println("[Worker] No rule matched, using default reply")
			rules = []*domain.RuleDefinition{fb}
		}
	}
	if len(rules) == 0 {
		return Result{Kind: ResultOk}
	}

	var retryable []error
	for _, rule := range rules {
		rec := usecase.NewRecord(rule.Name, msg)
		rec.Matched = true
		rec.Executed = true

		outcome, err := p.executor.Execute(ctx, &rule.Action, msg)
		if err != nil {
			rec.Success = false
			rec.ErrorMessage = err.Error()
			if !errors.Is(err, domain.ErrConfiguration) {
				retryable = append(retryable, fmt.Errorf("rule %s: %w", rule.Name, err))
			}
		} else {
			rec.Success = outcome.Success
			rec.Result = outcome.Detail
		}
		p.log.Record(ctx, rec)
	}

	if len(retryable) > 0 {
		return Result{Kind: ResultRetryable, Err: errors.Join(retryable...)}
	}
	return Result{Kind: ResultOk}
}
