package guard

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"

	"github.com/shaiso/marketagent/internal/domain"
)

// Validator — предполётная проверка Instruction.
//
// Validator не имеет состояния и побочных эффектов: это предикат над значением
// Instruction. Безопасен для конкурентного использования.
type Validator struct {
	policy Policy
}

// New создаёт Validator с заданной политикой.
func New(policy Policy) *Validator {
	return &Validator{policy: policy}
}

// NewDefault создаёт Validator с DefaultPolicy.
func NewDefault() *Validator {
	return New(DefaultPolicy())
}

// Policy возвращает копию действующей политики.
func (v *Validator) Policy() Policy {
	return v.policy
}

// Validate проверяет Instruction и возвращает *domain.ValidationError
// для первого нарушенного правила.
func (v *Validator) Validate(inst domain.Instruction) error {
	u, err := v.checkURL(inst.URL)
	if err != nil {
		return err
	}
	if err := v.checkProtocol(u); err != nil {
		return err
	}
	if err := v.checkDomain(u); err != nil {
		return err
	}
	if err := v.checkMethod(inst); err != nil {
		return err
	}

	body := inst.BodyText()
	if err := v.checkBodySize(body); err != nil {
		return err
	}
	if err := v.checkBodyContent(body); err != nil {
		return err
	}
	if err := v.checkHeaders(inst.Headers); err != nil {
		return err
	}
	return v.checkFiles(inst.Files)
}

// ValidateSafe — то же, что Validate, свёрнутое в bool.
func (v *Validator) ValidateSafe(inst domain.Instruction) bool {
	return v.Validate(inst) == nil
}

func (v *Validator) checkURL(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, reject(RuleURL, MsgMissingURL)
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" || u.Hostname() == "" {
		return nil, reject(RuleURL, MsgInvalidURL)
	}
	return u, nil
}

func (v *Validator) checkProtocol(u *url.URL) error {
	// url.Parse уже приводит схему к нижнему регистру
	if u.Scheme != DefaultAllowedScheme {
		return reject(RuleProtocol, fmt.Sprintf("%s: %s", MsgProtocol, u.Scheme))
	}
	return nil
}

func (v *Validator) checkDomain(u *url.URL) error {
	if u.User != nil {
		// user@host маскирует настоящий хост
		return reject(RuleDomain, fmt.Sprintf("%s: %s", MsgDomain, u.Host))
	}
	host := u.Hostname()
	if !v.policy.IsDomainAllowed(host) {
		return reject(RuleDomain, fmt.Sprintf("%s: %s", MsgDomain, host))
	}
	return nil
}

func (v *Validator) checkMethod(inst domain.Instruction) error {
	method := inst.EffectiveMethod()
	if !v.policy.IsMethodAllowed(method) {
		return reject(RuleMethod, fmt.Sprintf("%s: %s", MsgMethod, method))
	}
	return nil
}

func (v *Validator) checkBodySize(body string) error {
	if len(body) > v.policy.MaxBodyBytes {
		return reject(RuleBodySize, MsgBodyTooLarge)
	}
	return nil
}

func (v *Validator) checkBodyContent(body string) error {
	if body == "" {
		return nil
	}
	if v.policy.MatchSuspicious(body) != nil {
		return reject(RuleBodyContent, MsgSuspiciousBody)
	}
	return nil
}

func (v *Validator) checkHeaders(headers map[string]string) error {
	if len(headers) > v.policy.MaxHeaders {
		return reject(RuleHeaders, MsgTooManyHeaders)
	}
	// сортировка ради стабильного сообщения при нескольких нарушениях
	for _, name := range slices.Sorted(maps.Keys(headers)) {
		value := headers[name]
		if len(name) > v.policy.MaxHeaderName {
			return reject(RuleHeaders, MsgHeaderNameLong)
		}
		if len(value) > v.policy.MaxHeaderValue {
			return reject(RuleHeaders, MsgHeaderValueLong)
		}
	}
	return nil
}

func (v *Validator) checkFiles(files []domain.FileAttachment) error {
	if len(files) > v.policy.MaxFiles {
		return reject(RuleFiles, MsgTooManyFiles)
	}
	for _, f := range files {
		if !f.IsComplete() {
			return reject(RuleFiles, MsgInvalidFileEntry)
		}
	}
	return nil
}

func reject(rule, reason string) error {
	return &domain.ValidationError{Rule: rule, Reason: reason}
}
