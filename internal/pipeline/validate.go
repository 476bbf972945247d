package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kursadbilgin/notify-dispatch/internal/domain"
)

// TemplateReader loads templates for the permission check.
type TemplateReader interface {
	GetByID(ctx context.Context, id int64) (*domain.Template, error)
}

// ChannelInfo is the read-only view of the channel registry stages need.
type ChannelInfo interface {
	Contains(ch domain.Channel) bool
	NeedsRawContent(ch domain.Channel) bool
}

// PermissionStage checks the template exists, is approved and belongs to a
// registered channel matching the request.
type PermissionStage struct {
	templates TemplateReader
	channels  ChannelInfo
}

func NewPermissionStage(templates TemplateReader, channels ChannelInfo) *PermissionStage {
	return &PermissionStage{templates: templates, channels: channels}
}

func (s *PermissionStage) Name() string { return "permission" }

func (s *PermissionStage) Process(ctx context.Context, pc *ProcessContext) {
	req := pc.Request
	if req.TemplateID <= 0 {
		pc.Break(domain.CodeTemplateIDRequired, "")
		return
	}
	if !s.channels.Contains(req.Channel) {
		pc.Break(domain.CodeChannelNotSupported, fmt.Sprintf("channel %d is not registered", req.Channel))
		return
	}

	tpl, err := s.templates.GetByID(ctx, req.TemplateID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			pc.Break(domain.CodeTemplateNotFound, "")
			return
		}
		pc.Break(domain.CodeTemplateLookupFailed, err.Error())
		return
	}
	if !tpl.Approved() {
		pc.Break(domain.CodeTemplateNotApproved, "")
		return
	}
	if tpl.Channel != req.Channel {
		pc.Break(domain.CodeChannelMismatch, "")
		return
	}

	pc.Template = tpl
}

// PrecheckStage validates required fields and the shape of the variables.
type PrecheckStage struct{}

func (PrecheckStage) Name() string { return "precheck" }

func (PrecheckStage) Process(_ context.Context, pc *ProcessContext) {
	req := pc.Request

	if len(nonEmpty(req.Receivers)) == 0 {
		pc.Break(domain.CodeReceiverEmpty, "")
		return
	}

	pc.Sender = strings.TrimSpace(req.Sender)
	if pc.Sender == "" {
		pc.Sender = pc.Caller.UserID
	}

	switch {
	case req.VariableCount < 0:
		pc.Break(domain.CodeBadRequest, fmt.Sprintf("variableCount must not be negative, got %d", req.VariableCount))
		return
	case req.VariableCount > 0 && len(req.Variables) == 0:
		pc.Break(domain.CodePlaceholderNeedsValue, "")
		return
	case req.VariableCount == 0 && len(req.Variables) > 0:
		pc.Break(domain.CodeNoNeedToAssignPlaceholder, "")
		return
	}

	for _, vars := range req.Variables {
		if len(vars) < req.VariableCount {
			pc.Break(domain.CodePlaceholderDataEmpty, fmt.Sprintf("expected %d placeholder values, got %d", req.VariableCount, len(vars)))
			return
		}
		for key, value := range vars {
			if strings.TrimSpace(value) == "" {
				pc.Break(domain.CodePlaceholderDataEmpty, fmt.Sprintf("placeholder %q has no value", key))
				return
			}
		}
	}

	if len(req.Variables) > 1 && len(req.Variables) != len(req.Receivers) {
		pc.Break(domain.CodeReceiverVariableMismatch, "")
	}
}

// ClassifyStage deduplicates receivers and groups those sharing identical
// variables so each group becomes one task. A single variable mapping
// applies to every receiver; otherwise mappings pair with receivers by index.
type ClassifyStage struct{}

func (ClassifyStage) Name() string { return "classify" }

func (ClassifyStage) Process(_ context.Context, pc *ProcessContext) {
	req := pc.Request
	seen := make(map[string]struct{}, len(req.Receivers))
	index := make(map[string]int)
	var groups []RecipientGroup

	for i, raw := range req.Receivers {
		receiver := strings.TrimSpace(raw)
		if receiver == "" {
			continue
		}
		if _, dup := seen[receiver]; dup {
			continue
		}
		seen[receiver] = struct{}{}

		var vars map[string]string
		switch len(req.Variables) {
		case 0:
		case 1:
			vars = req.Variables[0]
		default:
			vars = req.Variables[i]
		}

		key, err := canonicalKey(vars)
		if err != nil {
			pc.Break(domain.CodePlaceholderResolution, err.Error())
			return
		}

		if at, ok := index[key]; ok {
			groups[at].Recipients = append(groups[at].Recipients, receiver)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, RecipientGroup{Recipients: []string{receiver}, Variables: vars})
	}

	pc.Groups = groups
}

// ReceiverStage checks receiver formats for channels with a known address
// syntax: e-mail addresses for email, E.164 numbers for SMS.
type ReceiverStage struct {
	validate *validator.Validate
	rules    map[domain.Channel]string
}

func NewReceiverStage() *ReceiverStage {
	return &ReceiverStage{
		validate: validator.New(),
		rules: map[domain.Channel]string{
			domain.ChannelEmail: "required,email",
			domain.ChannelSMS:   "required,e164",
		},
	}
}

func (s *ReceiverStage) Name() string { return "receiver" }

func (s *ReceiverStage) Process(_ context.Context, pc *ProcessContext) {
	rule, ok := s.rules[pc.Request.Channel]
	if !ok {
		return
	}

	var illegal []string
	for _, group := range pc.Groups {
		for _, receiver := range group.Recipients {
			if err := s.validate.Var(receiver, rule); err != nil {
				illegal = append(illegal, receiver)
			}
		}
	}

	if len(illegal) > 0 {
		pc.Break(domain.CodeIllegalRecipient, "illegal recipients: "+strings.Join(illegal, ","))
	}
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func canonicalKey(vars map[string]string) (string, error) {
	if len(vars) == 0 {
		return "", nil
	}
	encoded, err := json.Marshal(vars)
	if err != nil {
		return "", fmt.Errorf("failed to encode variables: %w", err)
	}
	return string(encoded), nil
}
