package fetch

import (
	"context"
	"errors"
	"io"
	"net"
	"slices"
	"strings"
	"syscall"
)

// DefaultRetryableStatuses — HTTP-статусы временных отказов.
var DefaultRetryableStatuses = []int{408, 429, 500, 502, 503, 504}

// DefaultTransientPatterns — фрагменты сообщений сетевых ошибок, считающихся временными.
var DefaultTransientPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"i/o timeout",
	"tls handshake timeout",
	"server closed idle connection",
	"unexpected eof",
}

// Classifier решает, стоит ли повторять попытку.
type Classifier struct {
	statuses []int
	patterns []string
}

// NewClassifier создаёт Classifier. Пустые списки заменяются значениями по умолчанию.
func NewClassifier(statuses []int, patterns []string) *Classifier {
	if len(statuses) == 0 {
		statuses = DefaultRetryableStatuses
	}
	if len(patterns) == 0 {
		patterns = DefaultTransientPatterns
	}

	lowered := make([]string, 0, len(patterns))
	for _, p := range patterns {
		lowered = append(lowered, strings.ToLower(p))
	}

	return &Classifier{
		statuses: slices.Clone(statuses),
		patterns: lowered,
	}
}

// IsRetryableStatus проверяет, входит ли статус в набор временных.
func (c *Classifier) IsRetryableStatus(code int) bool {
	return slices.Contains(c.statuses, code)
}

// IsTransient проверяет, является ли ошибка транспорта временной.
func (c *Classifier) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range c.patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
