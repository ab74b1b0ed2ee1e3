package guard

import (
	"fmt"
	"regexp"
	"strings"
)

// Значения по умолчанию.
const (
	DefaultMaxBodyBytes   = 1 << 20 // 1 MiB
	DefaultMaxHeaders     = 50
	DefaultMaxHeaderName  = 256
	DefaultMaxHeaderValue = 8192
	DefaultMaxFiles       = 10
	DefaultAllowedScheme  = "https"
	caseInsensitive       = `(?i)`
)

// DefaultAllowedDomains — известные маркетплейсы, с которыми работает агент.
var DefaultAllowedDomains = []string{
	"vinted.fr",
	"vinted.com",
	"vinted.be",
	"vinted.es",
	"vinted.it",
	"vinted.de",
	"vinted.nl",
	"leboncoin.fr",
	"ebay.fr",
	"ebay.com",
	"etsy.com",
	"depop.com",
	"vestiairecollective.com",
}

// DefaultAllowedMethods — методы чтения и записи. CONNECT, TRACE и прочие
// туннелирующие/диагностические методы запрещены.
var DefaultAllowedMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE"}

// DefaultSuspiciousPatterns — эвристика подозрительного содержимого тела.
var DefaultSuspiciousPatterns = []string{
	`\beval\s*\(`,
	`\bnew\s+Function\s*\(`,
	`<\s*script\b`,
	`javascript\s*:`,
	`document\s*\.\s*cookie`,
}

// Policy — набор данных, по которым Validator принимает решение.
type Policy struct {
	// AllowedDomains — разрешённые домены. Поддомены разрешаются автоматически.
	AllowedDomains []string

	// AllowedMethods — разрешённые HTTP-методы (верхний регистр).
	AllowedMethods []string

	// SuspiciousPatterns — скомпилированные шаблоны подозрительного содержимого.
	SuspiciousPatterns []*regexp.Regexp

	MaxBodyBytes   int
	MaxHeaders     int
	MaxHeaderName  int
	MaxHeaderValue int
	MaxFiles       int
}

// DefaultPolicy возвращает политику по умолчанию.
func DefaultPolicy() Policy {
	patterns, _ := CompilePatterns(DefaultSuspiciousPatterns)
	return Policy{
		AllowedDomains:     append([]string(nil), DefaultAllowedDomains...),
		AllowedMethods:     append([]string(nil), DefaultAllowedMethods...),
		SuspiciousPatterns: patterns,
		MaxBodyBytes:       DefaultMaxBodyBytes,
		MaxHeaders:         DefaultMaxHeaders,
		MaxHeaderName:      DefaultMaxHeaderName,
		MaxHeaderValue:     DefaultMaxHeaderValue,
		MaxFiles:           DefaultMaxFiles,
	}
}

// CompilePatterns компилирует шаблоны без учёта регистра.
func CompilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(caseInsensitive + p)
		if err != nil {
			return nil, fmt.Errorf("compile suspicious pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// PolicyConfig — внешнее (конфигурационное) представление Policy.
// Пустые поля заменяются значениями по умолчанию.
type PolicyConfig struct {
	AllowedDomains     []string `mapstructure:"allowed_domains"`
	AllowedMethods     []string `mapstructure:"allowed_methods"`
	SuspiciousPatterns []string `mapstructure:"suspicious_patterns"`
	MaxBodyBytes       int      `mapstructure:"max_body_bytes"`
	MaxHeaders         int      `mapstructure:"max_headers"`
	MaxHeaderName      int      `mapstructure:"max_header_name"`
	MaxHeaderValue     int      `mapstructure:"max_header_value"`
	MaxFiles           int      `mapstructure:"max_files"`
}

// NewPolicy собирает Policy из конфигурации.
func NewPolicy(cfg PolicyConfig) (Policy, error) {
	p := DefaultPolicy()

	if len(cfg.AllowedDomains) > 0 {
		p.AllowedDomains = normalizeDomains(cfg.AllowedDomains)
	}
	if len(cfg.AllowedMethods) > 0 {
		p.AllowedMethods = make([]string, 0, len(cfg.AllowedMethods))
		for _, m := range cfg.AllowedMethods {
			p.AllowedMethods = append(p.AllowedMethods, strings.ToUpper(strings.TrimSpace(m)))
		}
	}
	if len(cfg.SuspiciousPatterns) > 0 {
		patterns, err := CompilePatterns(cfg.SuspiciousPatterns)
		if err != nil {
			return Policy{}, err
		}
		p.SuspiciousPatterns = patterns
	}
	if cfg.MaxBodyBytes > 0 {
		p.MaxBodyBytes = cfg.MaxBodyBytes
	}
	if cfg.MaxHeaders > 0 {
		p.MaxHeaders = cfg.MaxHeaders
	}
	if cfg.MaxHeaderName > 0 {
		p.MaxHeaderName = cfg.MaxHeaderName
	}
	if cfg.MaxHeaderValue > 0 {
		p.MaxHeaderValue = cfg.MaxHeaderValue
	}
	if cfg.MaxFiles > 0 {
		p.MaxFiles = cfg.MaxFiles
	}

	return p, nil
}

// IsDomainAllowed проверяет хост: точное совпадение или поддомен разрешённого домена.
// "evilvinted.fr" не является поддоменом "vinted.fr".
func (p Policy) IsDomainAllowed(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return false
	}
	for _, domain := range p.AllowedDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// IsMethodAllowed проверяет метод (ожидается верхний регистр).
func (p Policy) IsMethodAllowed(method string) bool {
	for _, m := range p.AllowedMethods {
		if m == method {
			return true
		}
	}
	return false
}

// MatchSuspicious возвращает первый сработавший шаблон или nil.
func (p Policy) MatchSuspicious(text string) *regexp.Regexp {
	for _, re := range p.SuspiciousPatterns {
		if re.MatchString(text) {
			return re
		}
	}
	return nil
}

func normalizeDomains(domains []string) []string {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d)), ".")
		d = strings.TrimPrefix(d, "*.")
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}
