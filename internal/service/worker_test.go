package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/domain"
	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/repo"
	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/usecase"
)

// Mock implementations

type stubRuleSource struct {
	doc *domain.RuleDocument
}

func (s *stubRuleSource) Load(ctx context.Context) (*domain.RuleDocument, error) {
	return s.doc, nil
}

// flakySender fails the first failures sends, then succeeds.
type flakySender struct {
	mu       sync.Mutex
	failures int
	sent     []string
}

func (s *flakySender) Send(ctx context.Context, target, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("temporarily unavailable")
	}
	s.sent = append(s.sent, text)
	return nil
}

func (s *flakySender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// slowSender blocks each send for delay, signalling when a send starts.
type slowSender struct {
	mu      sync.Mutex
	delay   time.Duration
	started chan struct{}
	sent    []string
}

func (s *slowSender) Send(ctx context.Context, target, text string) error {
	select {
	case s.started <- struct{}{}:
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.delay):
	}
	s.mu.Lock()
	s.sent = append(s.sent, text)
	s.mu.Unlock()
	return nil
}

func (s *slowSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// captureSink collects appended records for inspection.
type captureSink struct {
	mu      sync.Mutex
	records []*domain.ExecutionRecord
}

func (c *captureSink) AppendRecord(ctx context.Context, rec *domain.ExecutionRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	return nil
}

func (c *captureSink) UpsertStats(ctx context.Context, ruleName string, success bool) error {
	return nil
}

func (c *captureSink) LoadStats(ctx context.Context) (map[string]domain.RuleStats, error) {
	return nil, nil
}

func (c *captureSink) Close() error { return nil }

func (c *captureSink) byRule(name string) []*domain.ExecutionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*domain.ExecutionRecord
	for _, rec := range c.records {
		if rec.RuleName == name {
			out = append(out, rec)
		}
	}
	return out
}

func newTestPool(t *testing.T, doc *domain.RuleDocument, sender repo.ChannelSender, retry RetryPolicy) (*WorkerPool, *usecase.ExecutionLog) {
	t.Helper()

	store := usecase.NewRuleStore(&stubRuleSource{doc: doc})
	require.NoError(t, store.Load(context.Background()))

	engine := usecase.NewRuleEngine(store)
	executor := usecase.NewActionExecutor(map[string]repo.ChannelSender{"wechat": sender}, nil)
	execLog := usecase.NewExecutionLog(nil)

	pool := NewWorkerPool(engine, executor, execLog, WorkerPoolConfig{
		Workers:   2,
		QueueSize: 16,
		Retry:     retry,
		SoftLimit: time.Second,
		HardLimit: 2 * time.Second,
	})
	return pool, execLog
}

func containsDoc(name, needle, reply string) *domain.RuleDocument {
	return &domain.RuleDocument{Rules: []domain.RuleSpec{{
		Name:    name,
		Enabled: true,
		If:      domain.ConditionSpec{ContentContains: needle},
		Then:    domain.ActionSpec{Action: "auto_reply", Message: reply},
	}}}
}

func wechatMsg(sender, content string) *domain.Message {
	return &domain.Message{
		Platform:   "wechat",
		Sender:     sender,
		Content:    content,
		Type:       domain.MessageTypeText,
		ObservedAt: time.Now(),
	}
}

func TestRetryPolicyDelaySchedule(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, BaseDelay: time.Minute, DelayCeiling: 3 * time.Minute}

	assert.Equal(t, time.Minute, p.Delay(1))
	assert.Equal(t, 2*time.Minute, p.Delay(2))
	assert.Equal(t, 3*time.Minute, p.Delay(3))
	assert.Equal(t, 3*time.Minute, p.Delay(4), "capped at the ceiling")
}

func TestPoolExecutesMatchingRule(t *testing.T) {
	sender := &flakySender{}
	pool, execLog := newTestPool(t, containsDoc("price", "价格", "请查看官网报价"), sender,
		RetryPolicy{MaxRetries: 3, BaseDelay: 10 * time.Millisecond, DelayCeiling: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	require.NoError(t, pool.Enqueue(wechatMsg("客户A", "请问价格多少")))

	require.Eventually(t, func() bool { return sender.sentCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	st, ok := execLog.StatsFor("price")
	require.True(t, ok)
	assert.Equal(t, int64(1), st.TriggerCount)
	assert.Equal(t, int64(1), st.SuccessCount)
	assert.Equal(t, int64(1), execLog.TotalProcessed())
	assert.Zero(t, pool.Pending())
}

func TestPoolTwoMatchingRulesTwoRecords(t *testing.T) {
	doc := &domain.RuleDocument{Rules: []domain.RuleSpec{
		{
			Name: "reply", Priority: 5, Enabled: true,
			If:   domain.ConditionSpec{ContentContains: "订单"},
			Then: domain.ActionSpec{Action: "auto_reply", Message: "收到"},
		},
		{
			Name: "forward", Priority: 1, Enabled: true,
			If:   domain.ConditionSpec{ContentContains: "订单"},
			Then: domain.ActionSpec{Action: "forward", Target: "老板"},
		},
	}}
	sender := &flakySender{}
	pool, execLog := newTestPool(t, doc, sender,
		RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, DelayCeiling: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	require.NoError(t, pool.Enqueue(wechatMsg("客户A", "订单有问题")))

	// Both rules execute independently, each with its own record.
	require.Eventually(t, func() bool { return sender.sentCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	replyStats, _ := execLog.StatsFor("reply")
	forwardStats, _ := execLog.StatsFor("forward")
	assert.Equal(t, int64(1), replyStats.TriggerCount)
	assert.Equal(t, int64(1), forwardStats.TriggerCount)
}

func TestPoolRetriesUntilSuccess(t *testing.T) {
	sender := &flakySender{failures: 2}
	pool, execLog := newTestPool(t, containsDoc("greet", "hi", "hello"), sender,
		RetryPolicy{MaxRetries: 5, BaseDelay: 10 * time.Millisecond, DelayCeiling: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	require.NoError(t, pool.Enqueue(wechatMsg("a", "hi")))

	require.Eventually(t, func() bool { return sender.sentCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Two failed attempts then one success, all recorded.
	st, _ := execLog.StatsFor("greet")
	assert.Equal(t, int64(3), st.TriggerCount)
	assert.Equal(t, int64(1), st.SuccessCount)
	assert.Equal(t, int64(2), st.FailureCount)
}

func TestPoolExhaustsRetriesAndSettles(t *testing.T) {
	sender := &flakySender{failures: 1000}
	pool, execLog := newTestPool(t, containsDoc("greet", "hi", "hello"), sender,
		RetryPolicy{MaxRetries: 2, BaseDelay: 5 * time.Millisecond, DelayCeiling: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	require.NoError(t, pool.Enqueue(wechatMsg("a", "hi")))

	// Attempt at max retries never re-enqueues again.
	require.Eventually(t, func() bool { return execLog.TotalProcessed() == 1 }, 2*time.Second, 10*time.Millisecond)

	st, _ := execLog.StatsFor("greet")
	assert.Equal(t, int64(2), st.TriggerCount, "exactly MaxRetries attempts")
	assert.Equal(t, int64(2), st.FailureCount)
	assert.Zero(t, pool.Pending())
	assert.Zero(t, sender.sentCount())
}

func TestPoolConfigurationErrorIsNotRetried(t *testing.T) {
	// Template with an unknown placeholder: a configuration error,
	// executing it again would not help.
	doc := &domain.RuleDocument{Rules: []domain.RuleSpec{{
		Name:    "bad-template",
		Enabled: true,
		If:      domain.ConditionSpec{ContentContains: "hi"},
		Then:    domain.ActionSpec{Action: "auto_reply", Template: "order {orderid}"},
	}}}
	sender := &flakySender{}
	pool, execLog := newTestPool(t, doc, sender,
		RetryPolicy{MaxRetries: 5, BaseDelay: time.Millisecond, DelayCeiling: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	require.NoError(t, pool.Enqueue(wechatMsg("a", "hi")))
	require.Eventually(t, func() bool { return execLog.TotalProcessed() == 1 }, 2*time.Second, 10*time.Millisecond)

	st, _ := execLog.StatsFor("bad-template")
	assert.Equal(t, int64(1), st.TriggerCount, "single attempt, no retry")
}

func TestPoolDefaultReplyWhenNothingMatches(t *testing.T) {
	doc := containsDoc("price", "价格", "报价")
	doc.DefaultReply = &domain.DefaultReplySpec{Enabled: true, Message: "稍后回复您"}
	sender := &flakySender{}
	pool, execLog := newTestPool(t, doc, sender,
		RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, DelayCeiling: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	require.NoError(t, pool.Enqueue(wechatMsg("路人", "随便聊聊")))

	require.Eventually(t, func() bool { return sender.sentCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	sender.mu.Lock()
	assert.Equal(t, "稍后回复您", sender.sent[0])
	sender.mu.Unlock()

	st, ok := execLog.StatsFor(usecase.DefaultRuleName)
	require.True(t, ok)
	assert.Equal(t, int64(1), st.TriggerCount)
}

func TestStopLetsInFlightAttemptFinish(t *testing.T) {
	sender := &slowSender{delay: 200 * time.Millisecond, started: make(chan struct{}, 1)}
	pool, execLog := newTestPool(t, containsDoc("greet", "hi", "hello"), sender,
		RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, DelayCeiling: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	require.NoError(t, pool.Enqueue(wechatMsg("a", "hi")))
	select {
	case <-sender.started:
	case <-time.After(2 * time.Second):
		t.Fatal("send never started")
	}

	// Stop while the send is mid-flight: the attempt must run to
	// completion under its hard limit, not be aborted.
	pool.Stop()

	assert.Equal(t, 1, sender.sentCount(), "in-flight reply was delivered")
	st, _ := execLog.StatsFor("greet")
	assert.Equal(t, int64(1), st.SuccessCount)
	assert.Equal(t, int64(0), st.FailureCount)
	assert.Zero(t, pool.Pending())
}

func TestStopRecordsQueuedTasksAsUnprocessed(t *testing.T) {
	sender := &slowSender{delay: 200 * time.Millisecond, started: make(chan struct{}, 1)}
	sink := &captureSink{}

	store := usecase.NewRuleStore(&stubRuleSource{doc: containsDoc("greet", "hi", "hello")})
	require.NoError(t, store.Load(context.Background()))
	execLog := usecase.NewExecutionLog(sink)

	pool := NewWorkerPool(
		usecase.NewRuleEngine(store),
		usecase.NewActionExecutor(map[string]repo.ChannelSender{"wechat": sender}, nil),
		execLog,
		WorkerPoolConfig{
			Workers:   1,
			QueueSize: 8,
			Retry:     RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, DelayCeiling: time.Millisecond},
			SoftLimit: time.Second,
			HardLimit: 2 * time.Second,
		},
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	require.NoError(t, pool.Enqueue(wechatMsg("a", "hi 1")))
	require.NoError(t, pool.Enqueue(wechatMsg("b", "hi 2")))
	require.NoError(t, pool.Enqueue(wechatMsg("c", "hi 3")))
	select {
	case <-sender.started:
	case <-time.After(2 * time.Second):
		t.Fatal("send never started")
	}

	pool.Stop()

	// The running task finished; the two still queued were settled
	// with a record each, not silently dropped.
	assert.Equal(t, 1, sender.sentCount())
	dropped := sink.byRule("unprocessed")
	require.Len(t, dropped, 2)
	for _, rec := range dropped {
		assert.False(t, rec.Executed)
		assert.NotEmpty(t, rec.ErrorMessage)
	}
	assert.Equal(t, int64(3), execLog.TotalProcessed())
	assert.Zero(t, pool.Pending())

	assert.Error(t, pool.Enqueue(wechatMsg("d", "hi 4")), "intake closed after stop")
}

func TestStopDuringRetryDelaySettlesWithoutRetry(t *testing.T) {
	sender := &flakySender{failures: 1000}
	pool, execLog := newTestPool(t, containsDoc("greet", "hi", "hello"), sender,
		RetryPolicy{MaxRetries: 5, BaseDelay: 500 * time.Millisecond, DelayCeiling: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	require.NoError(t, pool.Enqueue(wechatMsg("a", "hi")))
	require.Eventually(t, func() bool {
		st, _ := execLog.StatsFor("greet")
		return st.FailureCount == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Stop lands inside the retry delay; the task settles without
	// another attempt and Stop returns without waiting out the delay.
	pool.Stop()

	st, _ := execLog.StatsFor("greet")
	assert.Equal(t, int64(1), st.TriggerCount, "no attempt after stop")
	assert.Zero(t, pool.Pending())
}

func TestPoolQueueFull(t *testing.T) {
	sender := &flakySender{}
	store := usecase.NewRuleStore(&stubRuleSource{doc: containsDoc("r", "x", "y")})
	require.NoError(t, store.Load(context.Background()))
	pool := NewWorkerPool(
		usecase.NewRuleEngine(store),
		usecase.NewActionExecutor(map[string]repo.ChannelSender{"wechat": sender}, nil),
		usecase.NewExecutionLog(nil),
		WorkerPoolConfig{Workers: 1, QueueSize: 1, Retry: RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, DelayCeiling: time.Millisecond}, SoftLimit: time.Second, HardLimit: time.Second},
	)
	// Not started: the queue fills up.
	require.NoError(t, pool.Enqueue(wechatMsg("a", "1")))
	assert.Error(t, pool.Enqueue(wechatMsg("a", "2")))
}
