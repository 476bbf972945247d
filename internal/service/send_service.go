package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"github.com/kursadbilgin/notify-dispatch/internal/keyresolver"
	"github.com/kursadbilgin/notify-dispatch/internal/pipeline"
	"github.com/kursadbilgin/notify-dispatch/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	methodSend          = "send"
	methodSendScheduled = "sendScheduled"
)

// RecallPublisher places recall requests on the broker.
type RecallPublisher interface {
	PublishRecall(ctx context.Context, messageID string) error
}

// Guards are the optional request guards applied before a chain runs. A
// nil store or limiter disables that guard.
type Guards struct {
	Idempotency    ratelimit.IdempotencyStore
	IdempotencyKey keyresolver.Resolver
	RateLimiter    ratelimit.RateLimiter
	RateLimitKey   keyresolver.Resolver
}

// SendService is the synchronous entry point: guards, then the send or
// scheduled chain.
type SendService struct {
	runner    *pipeline.Runner
	send      pipeline.Chain
	scheduled pipeline.Chain
	recall    RecallPublisher
	guards    Guards
	logger    *zap.Logger
}

func NewSendService(
	runner *pipeline.Runner,
	send pipeline.Chain,
	scheduled pipeline.Chain,
	recall RecallPublisher,
	logger *zap.Logger,
) (*SendService, error) {
	if runner == nil {
		return nil, fmt.Errorf("pipeline runner is required")
	}
	if len(send.Stages) == 0 {
		return nil, fmt.Errorf("send chain has no stages")
	}
	if recall == nil {
		return nil, fmt.Errorf("recall publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SendService{
		runner:    runner,
		send:      send,
		scheduled: scheduled,
		recall:    recall,
		logger:    logger,
	}, nil
}

func (s *SendService) SetGuards(guards Guards) error {
	if guards.Idempotency != nil && guards.IdempotencyKey == nil {
		return fmt.Errorf("idempotency key resolver is required")
	}
	if guards.RateLimiter != nil && guards.RateLimitKey == nil {
		return fmt.Errorf("rate limit key resolver is required")
	}
	s.guards = guards
	return nil
}

// Send runs the send chain for req.
func (s *SendService) Send(ctx context.Context, caller domain.Caller, req domain.SendRequest) domain.Result {
	if ctx == nil {
		ctx = context.Background()
	}

	inv := keyresolver.Invocation{
		Method:   methodSend,
		Args:     []any{req},
		ArgNames: []string{"request"},
		Caller:   caller,
	}
	return s.guarded(ctx, inv, func() domain.Result {
		pc := s.runner.Run(ctx, s.send, pipeline.NewProcessContext(req, caller))
		return pc.Result
	})
}

// SendScheduled runs the stored scheduled send id through the scheduled chain.
func (s *SendService) SendScheduled(ctx context.Context, caller domain.Caller, id int64) domain.Result {
	if ctx == nil {
		ctx = context.Background()
	}

	inv := keyresolver.Invocation{
		Method:   methodSendScheduled,
		Args:     []any{id},
		ArgNames: []string{"id"},
		Caller:   caller,
	}
	return s.guarded(ctx, inv, func() domain.Result {
		return s.runScheduled(ctx, caller, id)
	})
}

// FireScheduled runs a scheduled send without the request guards. A cron
// schedule legitimately repeats the same call.
func (s *SendService) FireScheduled(ctx context.Context, caller domain.Caller, id int64) domain.Result {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.runScheduled(ctx, caller, id)
}

func (s *SendService) runScheduled(ctx context.Context, caller domain.Caller, id int64) domain.Result {
	if len(s.scheduled.Stages) == 0 {
		return domain.Fail(domain.CodeInternal, "scheduled sends are not configured")
	}

	pc := pipeline.NewProcessContext(domain.SendRequest{}, caller)
	pc.ScheduledID = id
	return s.runner.Run(ctx, s.scheduled, pc).Result
}

// Recall publishes a recall request for messageID.
func (s *SendService) Recall(ctx context.Context, messageID string) domain.Result {
	if ctx == nil {
		ctx = context.Background()
	}

	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return domain.Fail(domain.CodeMessageIDRequired, "")
	}

	if err := s.recall.PublishRecall(ctx, messageID); err != nil {
		s.logger.Error("failed to publish recall",
			zap.String("messageId", messageID),
			zap.Error(err),
		)
		return domain.Fail(domain.CodeQueuePublishFailed, "")
	}

	return domain.OK(map[string]string{"messageId": messageID})
}

func (s *SendService) guarded(ctx context.Context, inv keyresolver.Invocation, run func() domain.Result) domain.Result {
	if s.guards.RateLimiter != nil {
		if result, ok := s.checkRateLimit(ctx, inv); !ok {
			return result
		}
	}

	var claimedKey string
	if s.guards.Idempotency != nil {
		key, result, ok := s.claim(ctx, inv)
		if !ok {
			return result
		}
		claimedKey = key
	}

	result := run()

	// A rejected request may be resubmitted.
	if !result.Success && claimedKey != "" {
		if err := s.guards.Idempotency.Release(ctx, claimedKey); err != nil {
			s.logger.Warn("failed to release idempotency key",
				zap.String("method", inv.Method),
				zap.Error(err),
			)
		}
	}

	return result
}

func (s *SendService) checkRateLimit(ctx context.Context, inv keyresolver.Invocation) (domain.Result, bool) {
	key, err := s.guards.RateLimitKey.Resolve(inv)
	if err != nil {
		s.logger.Error("failed to resolve rate limit key", zap.String("method", inv.Method), zap.Error(err))
		return domain.Fail(domain.CodeInternal, "failed to resolve rate limit key"), false
	}

	allowed, err := s.guards.RateLimiter.Allow(ctx, key)
	if err != nil {
		s.logger.Error("rate limit check failed", zap.String("method", inv.Method), zap.Error(err))
		return domain.Fail(domain.CodeInternal, "rate limit check failed"), false
	}
	if !allowed {
		s.logger.Info("request rate limited",
			zap.String("method", inv.Method),
			zap.String("userId", inv.Caller.UserID),
		)
		return domain.Fail(domain.CodeTooManyRequests, ""), false
	}

	return domain.Result{}, true
}

func (s *SendService) claim(ctx context.Context, inv keyresolver.Invocation) (string, domain.Result, bool) {
	key, err := s.guards.IdempotencyKey.Resolve(inv)
	if err != nil {
		s.logger.Error("failed to resolve idempotency key", zap.String("method", inv.Method), zap.Error(err))
		return "", domain.Fail(domain.CodeInternal, "failed to resolve idempotency key"), false
	}

	claimed, err := s.guards.Idempotency.Claim(ctx, key)
	if err != nil {
		s.logger.Error("idempotency check failed", zap.String("method", inv.Method), zap.Error(err))
		return "", domain.Fail(domain.CodeInternal, "idempotency check failed"), false
	}
	if !claimed {
		s.logger.Info("repeated request rejected",
			zap.String("method", inv.Method),
			zap.String("userId", inv.Caller.UserID),
		)
		return "", domain.Fail(domain.CodeRepeatedRequest, ""), false
	}

	return key, domain.Result{}, true
}
