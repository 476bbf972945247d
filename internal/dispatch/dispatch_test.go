package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/notify-dispatch/internal/confirm"
	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"github.com/kursadbilgin/notify-dispatch/internal/provider"
	"github.com/kursadbilgin/notify-dispatch/internal/queue"
	"github.com/kursadbilgin/notify-dispatch/internal/workerpool"
)

type fakePools struct {
	mu       sync.Mutex
	attempts int
	channels []domain.Channel
	jobs     []workerpool.Job
	submit   func(attempt int, ch domain.Channel) error
}

func (f *fakePools) Submit(ch domain.Channel, job workerpool.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.submit != nil {
		if err := f.submit(f.attempts, ch); err != nil {
			return err
		}
	}
	f.channels = append(f.channels, ch)
	f.jobs = append(f.jobs, job)
	return nil
}

type confirmCall struct {
	delivery          domain.Delivery
	providerMessageID string
	cause             error
}

type fakeConfirmer struct {
	mu    sync.Mutex
	calls []confirmCall
}

func (f *fakeConfirmer) ConfirmSend(_ context.Context, d domain.Delivery, providerMessageID string, cause error) domain.DeliveryOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, confirmCall{delivery: d, providerMessageID: providerMessageID, cause: cause})
	return domain.NewOutcome(d, providerMessageID, cause)
}

func (f *fakeConfirmer) snapshot() []confirmCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]confirmCall(nil), f.calls...)
}

type fakeAccounts struct {
	resolve func(ch domain.Channel, name string) (*domain.Account, error)
}

func (f *fakeAccounts) Resolve(_ context.Context, ch domain.Channel, name string) (*domain.Account, error) {
	if f.resolve != nil {
		return f.resolve(ch, name)
	}
	return &domain.Account{Channel: ch, Name: name}, nil
}

type fakeThrottle struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (f *fakeThrottle) Allow(context.Context, string) (bool, error) { return true, nil }

func (f *fakeThrottle) Wait(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return f.err
}

type delayedCall struct {
	batch domain.SendBatch
	delay time.Duration
}

type fakeDelayedPublisher struct {
	mu    sync.Mutex
	calls []delayedCall
}

func (f *fakeDelayedPublisher) PublishDelayed(_ context.Context, batch domain.SendBatch, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, delayedCall{batch: batch, delay: delay})
	return nil
}

type discardLogs struct{}

func (discardLogs) Append(context.Context, *domain.DeliveryLog) error { return nil }

func newBatch(ch domain.Channel, tasks int) domain.SendBatch {
	batch := domain.SendBatch{Channel: ch, TemplateID: 3, Sender: "ops"}
	for i := 0; i < tasks; i++ {
		batch.Tasks = append(batch.Tasks, domain.SendTask{
			MessageID:       "msg-1",
			TaskID:          fmt.Sprintf("task-%d", i+1),
			Recipients:      []string{fmt.Sprintf("device-%d", i+1)},
			TemplateContent: "hello",
			Attempt:         1,
		})
	}
	return batch
}

func newSendEnvelope(t *testing.T, batch domain.SendBatch) queue.Envelope {
	t.Helper()

	env, err := queue.NewSendEnvelope(batch)
	if err != nil {
		t.Fatalf("NewSendEnvelope() error = %v", err)
	}
	return env
}

func newTestExecutor(t *testing.T, sender provider.Sender, confirmer Confirmer) *Executor {
	t.Helper()

	executor, err := NewExecutor(&fakeAccounts{}, sender, confirmer, nil)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	return executor
}

func TestOnMessageSubmitsEveryTaskToBatchChannel(t *testing.T) {
	t.Parallel()

	pools := &fakePools{}
	confirmer := &fakeConfirmer{}
	executor := newTestExecutor(t, provider.SenderFunc(func(context.Context, domain.Account, domain.Delivery) (string, error) {
		return "ok", nil
	}), confirmer)

	consumer, err := NewConsumer(pools, executor, confirmer, nil)
	if err != nil {
		t.Fatalf("NewConsumer() error = %v", err)
	}

	if err := consumer.OnMessage(context.Background(), newSendEnvelope(t, newBatch(domain.ChannelSMS, 4))); err != nil {
		t.Fatalf("OnMessage() error = %v", err)
	}

	if len(pools.channels) != 4 {
		t.Fatalf("submits = %d, want 4", len(pools.channels))
	}
	for i, ch := range pools.channels {
		if ch != domain.ChannelSMS {
			t.Fatalf("submit %d channel = %s, want sms", i, ch)
		}
	}
	if calls := confirmer.snapshot(); len(calls) != 0 {
		t.Fatalf("confirm calls before jobs ran = %d, want 0", len(calls))
	}

	for _, job := range pools.jobs {
		job(context.Background())
	}
	calls := confirmer.snapshot()
	if len(calls) != 4 {
		t.Fatalf("confirm calls = %d, want 4", len(calls))
	}
	seen := make(map[string]bool)
	for _, call := range calls {
		if call.cause != nil || call.providerMessageID != "ok" {
			t.Fatalf("confirm call = %+v, want success", call)
		}
		seen[call.delivery.Task.TaskID] = true
	}
	if len(seen) != 4 {
		t.Fatalf("distinct confirmed tasks = %d, want 4", len(seen))
	}
}

func TestOnMessageSaturatedPoolRepublishesEveryTask(t *testing.T) {
	t.Parallel()

	pools := &fakePools{submit: func(int, domain.Channel) error { return workerpool.ErrPoolSaturated }}
	publisher := &fakeDelayedPublisher{}
	confirmer, err := confirm.NewConfirmer(discardLogs{}, publisher, confirm.Policy{MaxRetries: 3}, nil)
	if err != nil {
		t.Fatalf("NewConfirmer() error = %v", err)
	}

	var sends int
	executor := newTestExecutor(t, provider.SenderFunc(func(context.Context, domain.Account, domain.Delivery) (string, error) {
		sends++
		return "", nil
	}), confirmer)
	consumer, err := NewConsumer(pools, executor, confirmer, nil)
	if err != nil {
		t.Fatalf("NewConsumer() error = %v", err)
	}

	if err := consumer.OnMessage(context.Background(), newSendEnvelope(t, newBatch(domain.ChannelPush, 3))); err != nil {
		t.Fatalf("OnMessage() error = %v", err)
	}

	if sends != 0 {
		t.Fatalf("sender calls = %d, want 0", sends)
	}
	if pools.attempts != 3 {
		t.Fatalf("submit attempts = %d, want 3", pools.attempts)
	}
	if len(publisher.calls) != 3 {
		t.Fatalf("PublishDelayed calls = %d, want 3", len(publisher.calls))
	}
	for i, call := range publisher.calls {
		if call.batch.Channel != domain.ChannelPush {
			t.Fatalf("republish %d channel = %s, want push", i, call.batch.Channel)
		}
		if len(call.batch.Tasks) != 1 {
			t.Fatalf("republish %d tasks = %d, want 1", i, len(call.batch.Tasks))
		}
		task := call.batch.Tasks[0]
		if task.Attempt != 2 {
			t.Fatalf("republish %d attempt = %d, want 2", i, task.Attempt)
		}
		if task.TaskID != fmt.Sprintf("task-%d", i+1) {
			t.Fatalf("republish %d taskId = %q", i, task.TaskID)
		}
	}
}

func TestOnMessageSaturationFailsOnlyTheRejectedTask(t *testing.T) {
	t.Parallel()

	pools := &fakePools{submit: func(attempt int, _ domain.Channel) error {
		if attempt == 2 {
			return workerpool.ErrPoolSaturated
		}
		return nil
	}}
	confirmer := &fakeConfirmer{}
	executor := newTestExecutor(t, provider.SenderFunc(func(_ context.Context, _ domain.Account, d domain.Delivery) (string, error) {
		return "sent-" + d.Task.TaskID, nil
	}), confirmer)
	consumer, err := NewConsumer(pools, executor, confirmer, nil)
	if err != nil {
		t.Fatalf("NewConsumer() error = %v", err)
	}

	if err := consumer.OnMessage(context.Background(), newSendEnvelope(t, newBatch(domain.ChannelPush, 3))); err != nil {
		t.Fatalf("OnMessage() error = %v", err)
	}

	if pools.attempts != 3 {
		t.Fatalf("submit attempts = %d, want 3", pools.attempts)
	}
	if len(pools.jobs) != 2 {
		t.Fatalf("queued jobs = %d, want 2", len(pools.jobs))
	}

	calls := confirmer.snapshot()
	if len(calls) != 1 {
		t.Fatalf("immediate confirm calls = %d, want 1", len(calls))
	}
	rejected := calls[0]
	if rejected.delivery.Task.TaskID != "task-2" {
		t.Fatalf("rejected task = %q, want task-2", rejected.delivery.Task.TaskID)
	}
	if !errors.Is(rejected.cause, workerpool.ErrPoolSaturated) || rejected.cause.Error() != "pool saturated" {
		t.Fatalf("rejected cause = %v, want pool saturated", rejected.cause)
	}

	for _, job := range pools.jobs {
		job(context.Background())
	}
	calls = confirmer.snapshot()
	if len(calls) != 3 {
		t.Fatalf("confirm calls = %d, want 3", len(calls))
	}
	for _, call := range calls[1:] {
		id := call.delivery.Task.TaskID
		if id == "task-2" || call.cause != nil || call.providerMessageID != "sent-"+id {
			t.Fatalf("confirm call = %+v, want success for task-1 or task-3", call)
		}
	}
	if calls[1].delivery.Task.TaskID == calls[2].delivery.Task.TaskID {
		t.Fatalf("task %q confirmed twice", calls[1].delivery.Task.TaskID)
	}
}

func TestOnMessageRejectsMalformedBatch(t *testing.T) {
	t.Parallel()

	pools := &fakePools{}
	confirmer := &fakeConfirmer{}
	consumer, err := NewConsumer(pools, newTestExecutor(t, provider.SenderFunc(nil), confirmer), confirmer, nil)
	if err != nil {
		t.Fatalf("NewConsumer() error = %v", err)
	}

	envelopes := []queue.Envelope{
		{Kind: queue.KindSend, MessageID: "m", Body: []byte("{not json")},
		{Kind: queue.KindSend, MessageID: "m", Body: []byte(`{"channel":50,"tasks":[]}`)},
		{Kind: queue.Kind("PING"), MessageID: "m"},
	}
	for i, env := range envelopes {
		err := consumer.OnMessage(context.Background(), env)
		if !errors.Is(err, queue.ErrMalformedMessage) {
			t.Fatalf("OnMessage(%d) error = %v, want ErrMalformedMessage", i, err)
		}
	}
	if len(pools.channels) != 0 {
		t.Fatalf("submits = %d, want 0", len(pools.channels))
	}
	if len(confirmer.snapshot()) != 0 {
		t.Fatal("malformed envelopes must not be confirmed")
	}
}

func TestOnMessageRoutesRecall(t *testing.T) {
	t.Parallel()

	confirmer := &fakeConfirmer{}
	consumer, err := NewConsumer(&fakePools{}, newTestExecutor(t, provider.SenderFunc(nil), confirmer), confirmer, nil)
	if err != nil {
		t.Fatalf("NewConsumer() error = %v", err)
	}

	var recalled string
	consumer.SetRecallHandler(func(_ context.Context, messageID string) error {
		recalled = messageID
		return nil
	})

	env, err := queue.NewRecallEnvelope("msg-9")
	if err != nil {
		t.Fatalf("NewRecallEnvelope() error = %v", err)
	}
	if err := consumer.OnMessage(context.Background(), env); err != nil {
		t.Fatalf("OnMessage() error = %v", err)
	}
	if recalled != "msg-9" {
		t.Fatalf("recalled = %q, want msg-9", recalled)
	}
}

func TestDefaultRecallHandlerOnlyLogs(t *testing.T) {
	t.Parallel()

	pools := &fakePools{}
	confirmer := &fakeConfirmer{}
	consumer, err := NewConsumer(pools, newTestExecutor(t, provider.SenderFunc(nil), confirmer), confirmer, nil)
	if err != nil {
		t.Fatalf("NewConsumer() error = %v", err)
	}

	env, err := queue.NewRecallEnvelope("msg-1")
	if err != nil {
		t.Fatalf("NewRecallEnvelope() error = %v", err)
	}
	if err := consumer.OnMessage(context.Background(), env); err != nil {
		t.Fatalf("OnMessage() error = %v", err)
	}
	if len(pools.channels) != 0 || len(confirmer.snapshot()) != 0 {
		t.Fatal("recall must not dispatch or confirm anything")
	}
}

func TestOnMessageThroughRealPools(t *testing.T) {
	t.Parallel()

	confirmer := &fakeConfirmer{}
	executor := newTestExecutor(t, provider.SenderFunc(func(_ context.Context, _ domain.Account, d domain.Delivery) (string, error) {
		return "p-" + d.Task.TaskID, nil
	}), confirmer)

	set, err := workerpool.NewSet(staticChannels{domain.ChannelEmail}, nil, workerpool.Options{Workers: 2, QueueDepth: 8}, nil)
	if err != nil {
		t.Fatalf("NewSet() error = %v", err)
	}
	set.Start(context.Background())

	consumer, err := NewConsumer(set, executor, confirmer, nil)
	if err != nil {
		t.Fatalf("NewConsumer() error = %v", err)
	}
	if err := consumer.OnMessage(context.Background(), newSendEnvelope(t, newBatch(domain.ChannelEmail, 5))); err != nil {
		t.Fatalf("OnMessage() error = %v", err)
	}

	set.Close()

	calls := confirmer.snapshot()
	if len(calls) != 5 {
		t.Fatalf("confirm calls = %d, want 5", len(calls))
	}
	for _, call := range calls {
		if call.providerMessageID != "p-"+call.delivery.Task.TaskID {
			t.Fatalf("providerMessageID = %q for task %s", call.providerMessageID, call.delivery.Task.TaskID)
		}
	}
}

type staticChannels []domain.Channel

func (s staticChannels) ChannelsOf() []domain.Channel { return s }

func (s staticChannels) NameOf(ch domain.Channel) string { return ch.String() }

func TestExecuteFallsBackToEmptyAccount(t *testing.T) {
	t.Parallel()

	confirmer := &fakeConfirmer{}
	var got domain.Account
	executor, err := NewExecutor(
		&fakeAccounts{resolve: func(domain.Channel, string) (*domain.Account, error) { return nil, domain.ErrNotFound }},
		provider.SenderFunc(func(_ context.Context, account domain.Account, _ domain.Delivery) (string, error) {
			got = account
			return "id", nil
		}),
		confirmer,
		nil,
	)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	d := newBatch(domain.ChannelPush, 1).Deliveries()[0]
	outcome := executor.Execute(context.Background(), d)
	if !outcome.Success {
		t.Fatalf("outcome.Success = false, cause = %v", outcome.FailureCause)
	}
	if got.Channel != domain.ChannelPush || got.Name != "ops" {
		t.Fatalf("account = %+v, want fallback for push/ops", got)
	}
}

func TestExecuteConfirmsResolverFailure(t *testing.T) {
	t.Parallel()

	confirmer := &fakeConfirmer{}
	dbErr := errors.New("db down")
	executor, err := NewExecutor(
		&fakeAccounts{resolve: func(domain.Channel, string) (*domain.Account, error) { return nil, dbErr }},
		provider.SenderFunc(func(context.Context, domain.Account, domain.Delivery) (string, error) {
			t.Fatal("sender must not be called")
			return "", nil
		}),
		confirmer,
		nil,
	)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	executor.Execute(context.Background(), newBatch(domain.ChannelPush, 1).Deliveries()[0])

	calls := confirmer.snapshot()
	if len(calls) != 1 || !errors.Is(calls[0].cause, dbErr) {
		t.Fatalf("confirm calls = %+v, want one with db error", calls)
	}
}

func TestExecuteRecoversSenderPanic(t *testing.T) {
	t.Parallel()

	confirmer := &fakeConfirmer{}
	executor := newTestExecutor(t, provider.SenderFunc(func(context.Context, domain.Account, domain.Delivery) (string, error) {
		panic("boom")
	}), confirmer)

	outcome := executor.Execute(context.Background(), newBatch(domain.ChannelSMS, 1).Deliveries()[0])
	if outcome.Success {
		t.Fatal("outcome.Success = true, want false")
	}
	if !errors.Is(outcome.FailureCause, domain.ErrUnrecoverable) {
		t.Fatalf("cause = %v, want ErrUnrecoverable", outcome.FailureCause)
	}
	if len(confirmer.snapshot()) != 1 {
		t.Fatalf("confirm calls = %d, want 1", len(confirmer.snapshot()))
	}
}

func TestExecuteWaitsOnThrottle(t *testing.T) {
	t.Parallel()

	confirmer := &fakeConfirmer{}
	throttle := &fakeThrottle{}
	executor := newTestExecutor(t, provider.SenderFunc(func(context.Context, domain.Account, domain.Delivery) (string, error) {
		return "id", nil
	}), confirmer)
	executor.SetThrottle(throttle)

	executor.Execute(context.Background(), newBatch(domain.ChannelPush, 1).Deliveries()[0])
	if len(throttle.keys) != 1 || throttle.keys[0] != "provider:push" {
		t.Fatalf("throttle keys = %v, want [provider:push]", throttle.keys)
	}

	throttle.err = context.DeadlineExceeded
	outcome := executor.Execute(context.Background(), newBatch(domain.ChannelPush, 1).Deliveries()[0])
	if !errors.Is(outcome.FailureCause, context.DeadlineExceeded) {
		t.Fatalf("cause = %v, want DeadlineExceeded", outcome.FailureCause)
	}
}

func TestNewConsumerValidatesDependencies(t *testing.T) {
	t.Parallel()

	confirmer := &fakeConfirmer{}
	executor := newTestExecutor(t, provider.SenderFunc(nil), confirmer)

	if _, err := NewConsumer(nil, executor, confirmer, nil); err == nil {
		t.Fatal("NewConsumer(nil pools) error = nil")
	}
	if _, err := NewConsumer(&fakePools{}, nil, confirmer, nil); err == nil {
		t.Fatal("NewConsumer(nil jobs) error = nil")
	}
	if _, err := NewConsumer(&fakePools{}, executor, nil, nil); err == nil {
		t.Fatal("NewConsumer(nil confirmer) error = nil")
	}
}
