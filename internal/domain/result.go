package domain

import "strings"

// Result is the structured response returned for every send request.
type Result struct {
	Success bool      `json:"success"`
	Code    ErrorCode `json:"errorCode"`
	Message string    `json:"errorMessage"`
	Data    any       `json:"data,omitempty"`
}

func OK(data any) Result {
	return Result{Success: true, Code: CodeOK, Message: CodeOK.Message(), Data: data}
}

// Fail builds a rejection. An empty detail falls back to the code's default text.
func Fail(code ErrorCode, detail string) Result {
	msg := strings.TrimSpace(detail)
	if msg == "" {
		msg = code.Message()
	}
	return Result{Code: code, Message: msg}
}

// SendReceipt is returned once a request has been queued.
type SendReceipt struct {
	MessageID string   `json:"messageId"`
	TaskIDs   []string `json:"taskIds"`
	DryRun    bool     `json:"dryRun,omitempty"`
}
