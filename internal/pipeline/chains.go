package pipeline

import (
	"context"
	"errors"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
)

const (
	SendChainName      = "send"
	ScheduledChainName = "scheduled"
)

// SendDeps are the collaborators of the send chain.
type SendDeps struct {
	Templates TemplateReader
	Channels  ChannelInfo
	Publisher BatchPublisher
}

// NewSendChain builds permission -> precheck -> classify -> receiver ->
// placeholder -> type mapping -> enqueue.
func NewSendChain(deps SendDeps) Chain {
	return NewChain(SendChainName,
		NewPermissionStage(deps.Templates, deps.Channels),
		PrecheckStage{},
		ClassifyStage{},
		NewReceiverStage(),
		NewPlaceholderStage(deps.Channels),
		TypeMappingStage{},
		NewEnqueueStage(deps.Publisher),
	)
}

// ScheduledReader loads stored scheduled sends.
type ScheduledReader interface {
	GetByID(ctx context.Context, id int64) (*domain.ScheduledSend, error)
}

// ScheduledStage loads a stored schedule into the context and re-enters the
// send chain with it.
type ScheduledStage struct {
	schedules ScheduledReader
	runner    *Runner
	send      Chain
}

func NewScheduledStage(schedules ScheduledReader, runner *Runner, send Chain) *ScheduledStage {
	return &ScheduledStage{schedules: schedules, runner: runner, send: send}
}

func (s *ScheduledStage) Name() string { return "loadScheduled" }

func (s *ScheduledStage) Process(ctx context.Context, pc *ProcessContext) {
	scheduled, err := s.schedules.GetByID(ctx, pc.ScheduledID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			pc.Break(domain.CodeScheduledSendNotFound, "")
			return
		}
		pc.Break(domain.CodeScheduledSendLoadFailed, err.Error())
		return
	}
	if !scheduled.Active {
		pc.Break(domain.CodeScheduledSendNotFound, "scheduled send is inactive")
		return
	}

	pc.Request = scheduled.Request()
	s.runner.runStages(ctx, s.send, pc)
}

func NewScheduledChain(schedules ScheduledReader, runner *Runner, send Chain) Chain {
	return NewChain(ScheduledChainName, NewScheduledStage(schedules, runner, send))
}
