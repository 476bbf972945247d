package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"github.com/kursadbilgin/notify-dispatch/internal/keyresolver"
)

var placeholderPattern = regexp.MustCompile(`\$\{([^{}]+)\}`)

// Render substitutes ${name} tokens from vars. Tokens without a value are
// left in place and reported in missing.
func Render(content string, vars map[string]string) (rendered string, missing []string) {
	rendered = placeholderPattern.ReplaceAllStringFunc(content, func(token string) string {
		name := strings.TrimSpace(token[2 : len(token)-1])
		if value, ok := vars[name]; ok {
			return value
		}
		missing = append(missing, name)
		return token
	})
	return rendered, missing
}

// PlaceholderStage turns recipient groups into send tasks. Channels that need
// raw content keep the template byte-identical and carry the variables
// separately; all others get the variables merged into the content.
type PlaceholderStage struct {
	channels ChannelInfo
	newID    func() string
}

func NewPlaceholderStage(channels ChannelInfo) *PlaceholderStage {
	return &PlaceholderStage{channels: channels, newID: uuid.NewString}
}

func (s *PlaceholderStage) Name() string { return "placeholder" }

func (s *PlaceholderStage) Process(_ context.Context, pc *ProcessContext) {
	if pc.Template == nil {
		pc.Break(domain.CodeTemplateNotFound, "")
		return
	}

	raw := s.channels.NeedsRawContent(pc.Request.Channel)
	pc.MessageID = s.newID()
	tasks := make([]domain.SendTask, 0, len(pc.Groups))

	for _, group := range pc.Groups {
		task := domain.SendTask{
			MessageID:  pc.MessageID,
			TaskID:     s.newID(),
			Recipients: append([]string(nil), group.Recipients...),
			Attempt:    1,
		}

		if raw {
			task.TemplateContent = pc.Template.Content
			task.Variables = copyVars(group.Variables)
		} else {
			content, missing := Render(pc.Template.Content, group.Variables)
			if len(missing) > 0 {
				pc.Break(domain.CodePlaceholderResolution, "missing values for: "+strings.Join(missing, ","))
				return
			}
			task.TemplateContent = content
		}

		task.DedupKey = dedupKey(pc.Request.TemplateID, pc.Request.Channel, task)
		tasks = append(tasks, task)
	}

	pc.Tasks = tasks
}

// TypeMappingStage rewrites numeric sendType codes in robot payloads to the
// message type names the robot webhooks expect.
type TypeMappingStage struct{}

var robotSendTypes = map[string]string{
	"10": "text",
	"20": "link",
	"30": "markdown",
	"40": "actionCard",
	"50": "feedCard",
}

func (TypeMappingStage) Name() string { return "typeMapping" }

func (TypeMappingStage) Process(_ context.Context, pc *ProcessContext) {
	if !pc.Request.Channel.IsRobot() {
		return
	}

	for i := range pc.Tasks {
		mapped, err := mapRobotPayload(pc.Tasks[i].TemplateContent)
		if err != nil {
			pc.Break(domain.CodePayloadMappingFailed, err.Error())
			return
		}
		pc.Tasks[i].TemplateContent = mapped
	}
}

func mapRobotPayload(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return content, nil
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return content, nil
	}

	rawType, ok := payload["sendType"]
	if !ok {
		return content, nil
	}

	var code string
	switch v := rawType.(type) {
	case float64:
		if v != math.Trunc(v) {
			return "", fmt.Errorf("sendType %v is not an integer", v)
		}
		code = strconv.Itoa(int(v))
	case string:
		code = strings.TrimSpace(v)
	default:
		return "", fmt.Errorf("sendType has unsupported type %T", rawType)
	}

	name, ok := robotSendTypes[code]
	if !ok {
		for _, known := range robotSendTypes {
			if known == code {
				return content, nil
			}
		}
		return "", fmt.Errorf("unknown sendType %q", code)
	}

	payload["sendType"] = name
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode robot payload: %w", err)
	}
	return string(encoded), nil
}

// BatchPublisher is the queue side effect of the send chain.
type BatchPublisher interface {
	PublishSend(ctx context.Context, batch domain.SendBatch) error
}

// EnqueueStage publishes the batch. Dry runs stop here with success.
type EnqueueStage struct {
	publisher BatchPublisher
}

func NewEnqueueStage(publisher BatchPublisher) *EnqueueStage {
	return &EnqueueStage{publisher: publisher}
}

func (s *EnqueueStage) Name() string { return "enqueue" }

func (s *EnqueueStage) Process(ctx context.Context, pc *ProcessContext) {
	receipt := domain.SendReceipt{MessageID: pc.MessageID, TaskIDs: make([]string, 0, len(pc.Tasks))}
	for _, task := range pc.Tasks {
		receipt.TaskIDs = append(receipt.TaskIDs, task.TaskID)
	}

	if pc.Request.DryRun {
		receipt.DryRun = true
		pc.Succeed(receipt)
		return
	}

	batch := domain.SendBatch{
		Channel:    pc.Request.Channel,
		TemplateID: pc.Request.TemplateID,
		Sender:     pc.Sender,
		Tasks:      pc.Tasks,
	}
	if err := s.publisher.PublishSend(ctx, batch); err != nil {
		pc.Break(domain.CodeQueuePublishFailed, err.Error())
		return
	}

	pc.Result = domain.OK(receipt)
}

func copyVars(vars map[string]string) map[string]string {
	if len(vars) == 0 {
		return nil
	}
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}

func dedupKey(templateID int64, ch domain.Channel, task domain.SendTask) string {
	recipients := append([]string(nil), task.Recipients...)
	sort.Strings(recipients)

	keys := make([]string, 0, len(task.Variables))
	for k := range task.Variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+task.Variables[k])
	}

	return keyresolver.Digest(
		strconv.FormatInt(templateID, 10),
		strconv.Itoa(int(ch)),
		strings.Join(recipients, ","),
		task.TemplateContent,
		strings.Join(pairs, "&"),
	)
}
