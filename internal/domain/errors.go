package domain

import "errors"

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	// ErrUnrecoverable marks failures that must never be retried, such as a
	// batch that cannot be serialized.
	ErrUnrecoverable = errors.New("unrecoverable")
)

// ErrorCode identifies why a send request was rejected.
type ErrorCode string

const (
	CodeOK                        ErrorCode = "OK"
	CodeTemplateIDRequired        ErrorCode = "TEMPLATE_ID_IS_NULL"
	CodeTemplateNotFound          ErrorCode = "TEMPLATE_NOT_FOUND"
	CodeTemplateNotApproved       ErrorCode = "TEMPLATE_NOT_APPROVED"
	CodeTemplateLookupFailed      ErrorCode = "TEMPLATE_LOOKUP_FAILED"
	CodeChannelNotSupported       ErrorCode = "CHANNEL_NOT_SUPPORTED"
	CodeChannelMismatch           ErrorCode = "TEMPLATE_CHANNEL_MISMATCH"
	CodeReceiverEmpty             ErrorCode = "RECEIVER_EMPTY"
	CodePlaceholderNeedsValue     ErrorCode = "PLACEHOLDER_NEEDS_VALUE"
	CodePlaceholderDataEmpty      ErrorCode = "PLACEHOLDER_DATA_EMPTY"
	CodeNoNeedToAssignPlaceholder ErrorCode = "NO_NEED_TO_ASSIGN_PLACEHOLDER"
	CodeReceiverVariableMismatch  ErrorCode = "RECEIVER_AND_PLACEHOLDER_DATA_COUNT_MISMATCH"
	CodeIllegalRecipient          ErrorCode = "ILLEGAL_RECIPIENT"
	CodePlaceholderResolution     ErrorCode = "PLACEHOLDER_RESOLUTION_FAILURE"
	CodePayloadMappingFailed      ErrorCode = "PAYLOAD_MAPPING_FAILURE"
	CodeQueuePublishFailed        ErrorCode = "MQ_SEND_EXCEPTION"
	CodeRepeatedRequest           ErrorCode = "REPEATED_REQUESTS"
	CodeTooManyRequests           ErrorCode = "TOO_MANY_REQUESTS"
	CodeScheduledSendNotFound     ErrorCode = "SCHEDULED_SEND_NOT_FOUND"
	CodeScheduledSendLoadFailed   ErrorCode = "CONTEXT_BROKEN"
	CodeMessageIDRequired         ErrorCode = "MESSAGE_ID_IS_NULL"
	CodeBadRequest                ErrorCode = "BAD_REQUEST"
	CodeInternal                  ErrorCode = "INTERNAL_ERROR"
)

var codeMessages = map[ErrorCode]string{
	CodeOK:                        "ok",
	CodeTemplateIDRequired:        "template id is required",
	CodeTemplateNotFound:          "template not found",
	CodeTemplateNotApproved:       "template is not approved",
	CodeTemplateLookupFailed:      "template lookup failed",
	CodeChannelNotSupported:       "channel is not supported",
	CodeChannelMismatch:           "template does not belong to the requested channel",
	CodeReceiverEmpty:             "receivers are required",
	CodePlaceholderNeedsValue:     "template placeholders need values",
	CodePlaceholderDataEmpty:      "placeholder data is incomplete",
	CodeNoNeedToAssignPlaceholder: "template has no placeholders to assign",
	CodeReceiverVariableMismatch:  "receiver count does not match placeholder data count",
	CodeIllegalRecipient:          "illegal recipients",
	CodePlaceholderResolution:     "placeholder resolution failed",
	CodePayloadMappingFailed:      "payload type mapping failed",
	CodeQueuePublishFailed:        "failed to queue message",
	CodeRepeatedRequest:           "repeated request",
	CodeTooManyRequests:           "too many requests",
	CodeScheduledSendNotFound:     "scheduled send not found",
	CodeScheduledSendLoadFailed:   "failed to load scheduled send",
	CodeMessageIDRequired:         "message id is required",
	CodeBadRequest:                "bad request",
	CodeInternal:                  "internal error",
}

// Message returns the default human readable text for the code.
func (c ErrorCode) Message() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return string(c)
}
