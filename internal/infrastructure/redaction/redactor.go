// Package redaction scrubs secrets from plugin output and audit summaries.
package redaction

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
)

const redacted = "[REDACTED]"

// Redactor is read-only after construction and safe for concurrent use.
type Redactor struct {
	patterns []*regexp.Regexp
	hashMode bool
	salt     string

	// nil when gitleaks is disabled or failed to load
	gitleaksDetector *detect.Detector
}

// Config holds the configuration for the Redactor.
type Config struct {
	// Patterns are extra regular expressions to redact.
	Patterns []string `yaml:"patterns,omitempty"`
	// HashMode replaces secrets with a short HMAC instead of [REDACTED] so
	// repeated values can still be correlated.
	HashMode bool `yaml:"hash_mode,omitempty"`
	// Salt keys the HMAC.
	Salt string `yaml:"salt,omitempty"`
	// DisableGitleaks limits detection to the regex patterns.
	DisableGitleaks bool `yaml:"disable_gitleaks,omitempty"`
}

// New creates a new Redactor with the given configuration.
func New(cfg Config) (*Redactor, error) {
	r := &Redactor{
		hashMode: cfg.HashMode,
		salt:     cfg.Salt,
		patterns: make([]*regexp.Regexp, 0, len(cfg.Patterns)+len(defaultPatterns)),
	}

	if !cfg.DisableGitleaks {
		detector, err := newGitleaksDetector()
		if err != nil {
			slog.Warn("gitleaks detector unavailable, using regex patterns only", "error", err)
		} else {
			r.gitleaksDetector = detector
		}
	}

	for _, p := range append(append([]string(nil), defaultPatterns...), cfg.Patterns...) {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to compile redaction pattern %s: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}

	return r, nil
}

// newGitleaksDetector loads the gitleaks default rule set.
func newGitleaksDetector() (*detect.Detector, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(strings.NewReader(config.DefaultConfig)); err != nil {
		return nil, fmt.Errorf("failed to read gitleaks config: %w", err)
	}

	var vc config.ViperConfig
	if err := v.Unmarshal(&vc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gitleaks config: %w", err)
	}

	cfg, err := vc.Translate()
	if err != nil {
		return nil, fmt.Errorf("failed to translate gitleaks config: %w", err)
	}

	return detect.NewDetector(cfg), nil
}

// ScrubString replaces secrets in input. A nil Redactor returns input unchanged.
func (r *Redactor) ScrubString(input string) string {
	if r == nil || input == "" {
		return input
	}

	result := input
	if r.gitleaksDetector != nil {
		for _, finding := range r.gitleaksDetector.Detect(detect.Fragment{Raw: result}) {
			if finding.Secret == "" {
				continue
			}
			result = strings.ReplaceAll(result, finding.Secret, r.replacement(finding.Secret))
		}
	}

	for _, re := range r.patterns {
		result = re.ReplaceAllStringFunc(result, r.replacement)
	}
	return result
}

// ScrubURL renders u for an audit summary: user info is dropped and query
// values are replaced, since tokens commonly travel there.
func (r *Redactor) ScrubURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.User = nil
	c.Fragment = ""
	if c.RawQuery != "" {
		q := c.Query()
		for k := range q {
			q[k] = []string{"_"}
		}
		c.RawQuery = q.Encode()
	}
	return r.ScrubString(c.String())
}

func (r *Redactor) replacement(secret string) string {
	if !r.hashMode {
		return redacted
	}
	mac := hmac.New(sha256.New, []byte(r.salt))
	mac.Write([]byte(secret))
	return fmt.Sprintf("[hmac:%s]", hex.EncodeToString(mac.Sum(nil))[:16])
}

// defaultPatterns catch common credentials even when gitleaks is disabled.
var defaultPatterns = []string{
	// AWS Access Key ID
	`\b((?:AKIA|ABIA|ACCA|ASIA)[0-9A-Z]{16})\b`,
	`-----BEGIN [A-Z ]+ PRIVATE KEY-----`,
	// GitHub token
	`gh[pousr]_[A-Za-z0-9_]{36,255}`,
	// Slack token
	`xox[baprs]-([0-9a-zA-Z]{10,48})?`,
	// Anthropic / OpenAI style API keys
	`sk-(?:ant-)?[A-Za-z0-9_-]{20,}`,
}
