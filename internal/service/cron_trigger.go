package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"github.com/kursadbilgin/notify-dispatch/internal/observability"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	defaultCronRefreshInterval = time.Minute
	cronCallerID               = "scheduler"
)

// ScheduledLister lists the scheduled sends that should be registered.
type ScheduledLister interface {
	ListActive(ctx context.Context) ([]domain.ScheduledSend, error)
}

// ScheduledFirer runs one stored scheduled send.
type ScheduledFirer interface {
	FireScheduled(ctx context.Context, caller domain.Caller, id int64) domain.Result
}

type cronEntry struct {
	spec    string
	entryID cron.EntryID
}

// CronTrigger keeps one cron entry per active scheduled send and re-reads
// the table every refresh interval.
type CronTrigger struct {
	schedules ScheduledLister
	firer     ScheduledFirer
	parser    cron.Parser
	cron      *cron.Cron
	interval  time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	entries map[int64]cronEntry
}

func NewCronTrigger(
	schedules ScheduledLister,
	firer ScheduledFirer,
	interval time.Duration,
	logger *zap.Logger,
) (*CronTrigger, error) {
	if schedules == nil {
		return nil, fmt.Errorf("scheduled send lister is required")
	}
	if firer == nil {
		return nil, fmt.Errorf("scheduled send firer is required")
	}
	if interval <= 0 {
		interval = defaultCronRefreshInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &CronTrigger{
		schedules: schedules,
		firer:     firer,
		parser:    parser,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.SkipIfStillRunning(observability.NewCronLogger(logger))),
		),
		interval: interval,
		logger:   logger,
		entries:  make(map[int64]cronEntry),
	}, nil
}

// Start registers the active schedules and runs until ctx is cancelled.
func (t *CronTrigger) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := t.Sync(ctx); err != nil && ctx.Err() == nil {
		t.logger.Error("cron trigger initial sync failed", zap.Error(err))
	}

	t.cron.Start()
	defer func() {
		<-t.cron.Stop().Done()
	}()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := t.Sync(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				t.logger.Error("cron trigger sync failed", zap.Error(err))
			}
		}
	}
}

// Sync reconciles registered entries with the active rows: new rows are
// added, changed specs re-registered, inactive rows removed.
func (t *CronTrigger) Sync(ctx context.Context) error {
	schedules, err := t.schedules.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active scheduled sends: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	active := make(map[int64]struct{}, len(schedules))
	for _, schedule := range schedules {
		active[schedule.ID] = struct{}{}
		spec := strings.TrimSpace(schedule.CronSpec)

		if existing, ok := t.entries[schedule.ID]; ok {
			if existing.spec == spec {
				continue
			}
			t.cron.Remove(existing.entryID)
			delete(t.entries, schedule.ID)
		}

		cronSchedule, err := t.parser.Parse(spec)
		if err != nil {
			t.logger.Warn("skipping scheduled send with invalid cron spec",
				zap.Int64("scheduledId", schedule.ID),
				zap.String("cronSpec", spec),
				zap.Error(err),
			)
			continue
		}

		id := schedule.ID
		entryID := t.cron.Schedule(cronSchedule, cron.FuncJob(func() {
			t.fire(ctx, id)
		}))
		t.entries[id] = cronEntry{spec: spec, entryID: entryID}
		t.logger.Info("scheduled send registered",
			zap.Int64("scheduledId", id),
			zap.String("cronSpec", spec),
		)
	}

	for id, entry := range t.entries {
		if _, ok := active[id]; ok {
			continue
		}
		t.cron.Remove(entry.entryID)
		delete(t.entries, id)
		t.logger.Info("scheduled send unregistered", zap.Int64("scheduledId", id))
	}

	return nil
}

// Registered returns the number of schedules currently registered.
func (t *CronTrigger) Registered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *CronTrigger) fire(ctx context.Context, id int64) {
	if ctx.Err() != nil {
		return
	}

	result := t.firer.FireScheduled(ctx, domain.Caller{UserID: cronCallerID}, id)
	if !result.Success {
		t.logger.Warn("scheduled send rejected",
			zap.Int64("scheduledId", id),
			zap.String("errorCode", string(result.Code)),
			zap.String("errorMessage", result.Message),
		)
		return
	}
	t.logger.Info("scheduled send fired", zap.Int64("scheduledId", id))
}
