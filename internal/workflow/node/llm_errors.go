package node

import (
	"context"
	"errors"
	"net"
	"strings"
)

func IsResponseFormatUnsupportedError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "response_format"):
		return true
	case strings.Contains(msg, "json_schema"):
		return true
	case strings.Contains(msg, "unknown parameter") && strings.Contains(msg, "response"):
		return true
	case strings.Contains(msg, "invalid") && strings.Contains(msg, "response"):
		return true
	default:
		return false
	}
}

// IsTransientLLMError 网络、限流、超时与服务端 5xx 视为可重试
func IsTransientLLMError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range transientMarkers {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

var transientMarkers = []string{
	"429",
	"rate limit",
	"too many requests",
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"eof",
	"500",
	"502",
	"503",
	"504",
	"overloaded",
	"temporarily unavailable",
}
