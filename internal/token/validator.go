package token

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shaiso/marketagent/internal/domain"
)

// DefaultExpiringSoonThreshold — порог проактивного обновления токена.
const DefaultExpiringSoonThreshold = 5 * time.Minute

// Claims — декодированный payload токена.
//
// Обязательные поля: user_id (или sub) и exp (epoch seconds). Опционально role.
type Claims = jwt.MapClaims

// Validator — офлайн-проверка структуры и срока действия токена.
// Подпись не проверяется.
type Validator struct {
	parser *jwt.Parser
	now    func() time.Time
}

// Option настраивает Validator.
type Option func(*Validator)

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// NewValidator создаёт Validator.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		parser: jwt.NewParser(jwt.WithPaddingAllowed()),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// HasValidStructure проверяет, что токен состоит ровно из трёх сегментов.
func (v *Validator) HasValidStructure(token string) bool {
	return len(strings.Split(token, ".")) == 3
}

// DecodePayload декодирует средний сегмент токена и разбирает JSON.
func (v *Validator) DecodePayload(token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, &domain.TokenError{Reason: MsgInvalidFormat}
	}

	raw, err := v.decodeSegment(parts[1])
	if err != nil {
		return nil, &domain.TokenError{Reason: MsgInvalidPayload, Cause: err}
	}

	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, &domain.TokenError{Reason: MsgInvalidPayload, Cause: err}
	}
	if claims == nil {
		return nil, &domain.TokenError{Reason: MsgInvalidPayload, Cause: fmt.Errorf("payload is not a JSON object")}
	}
	return claims, nil
}

// decodeSegment принимает base64url (стандарт JWT) и, как запасной вариант,
// стандартный base64, который выдают некоторые клиенты.
func (v *Validator) decodeSegment(seg string) ([]byte, error) {
	raw, err := v.parser.DecodeSegment(seg)
	if err == nil {
		return raw, nil
	}
	if std, stdErr := base64.StdEncoding.DecodeString(seg); stdErr == nil {
		return std, nil
	}
	if std, stdErr := base64.RawStdEncoding.DecodeString(seg); stdErr == nil {
		return std, nil
	}
	return nil, err
}

// Validate проверяет токен и возвращает payload без изменений.
//
// Порядок: структура → декодирование → user_id и exp → exp строго больше текущего времени.
func (v *Validator) Validate(token string) (Claims, error) {
	if token == "" {
		return nil, &domain.TokenError{Reason: MsgMissingToken}
	}
	if !v.HasValidStructure(token) {
		return nil, &domain.TokenError{Reason: MsgInvalidFormat}
	}

	claims, err := v.DecodePayload(token)
	if err != nil {
		return nil, err
	}

	if UserID(claims) == "" {
		return nil, &domain.TokenError{Reason: MsgMissingClaims}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, &domain.TokenError{Reason: MsgMissingClaims, Cause: err}
	}

	if !exp.After(v.now()) {
		return nil, &domain.TokenError{Reason: MsgExpired, Expired: true}
	}

	return claims, nil
}

// ValidateSafe — то же, что Validate, но возвращает nil вместо ошибки.
func (v *Validator) ValidateSafe(token string) Claims {
	claims, err := v.Validate(token)
	if err != nil {
		return nil
	}
	return claims
}

// IsNotExpired проверяет, что exp строго в будущем.
func (v *Validator) IsNotExpired(claims Claims) bool {
	exp, ok := expiration(claims)
	return ok && exp.After(v.now())
}

// TimeUntilExpiration возвращает оставшееся время с точностью до секунды (не меньше 0).
func (v *Validator) TimeUntilExpiration(claims Claims) time.Duration {
	exp, ok := expiration(claims)
	if !ok {
		return 0
	}
	remaining := exp.Sub(v.now())
	if remaining <= 0 {
		return 0
	}
	return remaining.Truncate(time.Second)
}

// IsExpiringSoon возвращает true, если токен ещё действует, но истечёт раньше threshold.
// threshold <= 0 означает DefaultExpiringSoonThreshold.
func (v *Validator) IsExpiringSoon(claims Claims, threshold time.Duration) bool {
	if threshold <= 0 {
		threshold = DefaultExpiringSoonThreshold
	}
	remaining := v.TimeUntilExpiration(claims)
	return remaining > 0 && remaining < threshold
}

// FormatTimeRemaining форматирует оставшееся время:
// "12m 5s" меньше часа, "3h" от часа и больше, "Expiré" после истечения.
func (v *Validator) FormatTimeRemaining(claims Claims) string {
	remaining := v.TimeUntilExpiration(claims)
	if remaining <= 0 {
		return MsgExpiredShort
	}
	if remaining < time.Hour {
		minutes := int(remaining / time.Minute)
		seconds := int((remaining % time.Minute) / time.Second)
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%dh", int(remaining/time.Hour))
}

// UserID извлекает идентификатор пользователя: user_id, иначе sub.
func UserID(claims Claims) string {
	for _, key := range []string{"user_id", "sub"} {
		switch val := claims[key].(type) {
		case string:
			if val != "" {
				return val
			}
		case float64:
			return fmt.Sprintf("%.0f", val)
		case json.Number:
			return val.String()
		}
	}
	return ""
}

// Role возвращает роль пользователя (может быть пустой).
func Role(claims Claims) string {
	role, _ := claims["role"].(string)
	return role
}

func expiration(claims Claims) (time.Time, bool) {
	if claims == nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
