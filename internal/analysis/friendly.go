package analysis

import (
	"context"
	"errors"
	"strings"

	"github.com/thebtf/devark/internal/llm"
)

// User-facing failure messages.
const (
	MsgNotConfigured = "LLM provider not configured"
	MsgNetwork       = "Network error — check your connection"
	MsgQuota         = "API quota exceeded"
	MsgParse         = "Could not understand the provider response"
	MsgTimeout       = "The provider took too long to respond"
	MsgGeneric       = "Prompt analysis failed"
)

// FriendlyMessage maps an error to a short message for notifications.
func FriendlyMessage(err error) string {
	if err == nil {
		return ""
	}
	var pe *llm.ParseError
	switch {
	case errors.Is(err, ErrEmptyPrompt), errors.Is(err, ErrPromptTooShort), errors.Is(err, ErrPromptTooLong):
		return err.Error()
	case errors.Is(err, llm.ErrProviderUnavailable):
		return MsgNotConfigured
	case errors.Is(err, context.DeadlineExceeded):
		return MsgTimeout
	case errors.As(err, &pe):
		return MsgParse
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "api key", "not configured", "unauthorized", "401", "permission denied"):
		return MsgNotConfigured
	case containsAny(msg, "quota", "429", "rate limit", "resource exhausted"):
		return MsgQuota
	case containsAny(msg, "network", "connection refused", "no such host", "dial tcp", "connection reset", "eof", "timeout"):
		return MsgNetwork
	}
	return MsgGeneric
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
