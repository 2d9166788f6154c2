package logger

import (
	"io"
	"regexp"
	"strings"
	"sync"
)

const mask = "[REDACTED]"

// sensitiveKeys are param and field names whose values are always masked.
var sensitiveKeys = []string{
	"password", "passwd", "pwd",
	"secret", "token", "api_key", "apikey",
	"access_key", "private_key", "credentials",
}

// tokenPatterns match well-known credential formats wherever they appear.
var tokenPatterns = []string{
	`sk-(?:ant-)?[A-Za-z0-9_-]{20,}`,
	`gh[pousr]_[A-Za-z0-9]{36,}`,
	`AKIA[0-9A-Z]{16}`,
	`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----(?:.*?-----END [A-Z ]*PRIVATE KEY-----)?`,
}

type rule struct {
	re   *regexp.Regexp
	repl string
}

// Redactor masks credentials in log lines. Action params end up in logs as
// JSON objects or key=value pairs, so keyed rules keep the key and only
// replace the value.
type Redactor struct {
	mu    sync.RWMutex
	rules []rule
}

// NewRedactor creates a redactor with the default rules.
func NewRedactor() *Redactor {
	r := &Redactor{}
	for _, p := range tokenPatterns {
		r.rules = append(r.rules, rule{re: regexp.MustCompile(p), repl: mask})
	}

	keys := strings.Join(sensitiveKeys, "|")
	r.rules = append(r.rules,
		rule{
			re:   regexp.MustCompile(`(Bearer\s+)[A-Za-z0-9._~+/-]+=*`),
			repl: "${1}" + mask,
		},
		// "db_password":"value"
		rule{
			re:   regexp.MustCompile(`(?i)("(?:[a-z0-9_]*_)?(?:` + keys + `)"\s*:\s*")(?:[^"\\]|\\.)*(")`),
			repl: "${1}" + mask + "${2}",
		},
		// access_token=value, password: value
		rule{
			re:   regexp.MustCompile(`(?i)\b((?:[a-z0-9]+_)*(?:` + keys + `)\s*[=:]\s*)[^\s",}]+`),
			repl: "${1}" + mask,
		},
	)
	return r
}

// AddPattern masks every match of pattern.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.rules = append(r.rules, rule{re: re, repl: mask})
	r.mu.Unlock()
	return nil
}

// Redact returns s with every secret masked.
func (r *Redactor) Redact(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rl := range r.rules {
		s = rl.re.ReplaceAllString(s, rl.repl)
	}
	return s
}

// Wrap returns a writer that redacts each write before passing it to w.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success since callers do not know about the
// rewritten length.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(w.writer, w.redactor.Redact(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
