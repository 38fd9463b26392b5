package service

import "fmt"

// RequestResult is the status and message answered to a webhook delivery
type RequestResult struct {
	StatusCode int    `json:"status"`
	Message    string `json:"message"`
}

// NewRequestResult builds a RequestResult
func NewRequestResult(statusCode int, format string, args ...interface{}) RequestResult {
	return RequestResult{StatusCode: statusCode, Message: fmt.Sprintf(format, args...)}
}

func (r RequestResult) String() string {
	return fmt.Sprintf("%d %s", r.StatusCode, r.Message)
}
