package domain

import (
	"math"
	"time"
)

// RetryPolicy — политика повторных попыток для одного логического HTTP-вызова.
type RetryPolicy struct {
	// MaxRetries — количество повторов после первой попытки.
	// Всего попыток: MaxRetries + 1.
	MaxRetries int `json:"max_retries" mapstructure:"max_retries"`

	// BaseDelay — задержка перед первым повтором.
	BaseDelay time.Duration `json:"base_delay" mapstructure:"base_delay"`

	// BackoffMultiplier — множитель задержки для каждого следующего повтора.
	BackoffMultiplier float64 `json:"backoff_multiplier" mapstructure:"backoff_multiplier"`

	// MaxDelay — верхняя граница задержки.
	MaxDelay time.Duration `json:"max_delay" mapstructure:"max_delay"`
}

// DefaultRetryPolicy возвращает политику по умолчанию: 3 повтора, 1s → 2s → 4s, не больше 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		BaseDelay:         time.Second,
		BackoffMultiplier: 2,
		MaxDelay:          10 * time.Second,
	}
}

// MaxAttempts возвращает общее число попыток (минимум 1).
func (p RetryPolicy) MaxAttempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Delay вычисляет задержку перед повтором с индексом retryIndex (начиная с 0):
//
//	delay = min(BaseDelay * BackoffMultiplier^retryIndex, MaxDelay)
func (p RetryPolicy) Delay(retryIndex int) time.Duration {
	if retryIndex < 0 {
		retryIndex = 0
	}

	multiplier := p.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}

	delay := float64(p.BaseDelay) * math.Pow(multiplier, float64(retryIndex))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// WithDefaults дополняет незаданные поля значениями DefaultRetryPolicy.
// MaxRetries = 0 считается осознанным выбором (без повторов) и не меняется.
func (p RetryPolicy) WithDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.BackoffMultiplier <= 0 {
		p.BackoffMultiplier = def.BackoffMultiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	return p
}
