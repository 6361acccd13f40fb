package logger

import (
	"io"
	"regexp"
	"sync"
)

const redacted = "[REDACTED]"

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Redactor redacts sensitive information from logs
type Redactor struct {
	mu    sync.RWMutex
	rules []rule
}

// NewRedactor creates a new redactor with default patterns
func NewRedactor() *Redactor {
	return &Redactor{
		rules: []rule{
			// Handshake signatures and secrets in JSON fields keep their key
			{regexp.MustCompile(`"(signature|shared_secret|sharedSecret|secret)"\s*:\s*"[^"]*"`), `"$1":"` + redacted + `"`},

			// Bare HMAC-SHA256 hex digests
			{regexp.MustCompile(`\b[a-f0-9]{64}\b`), redacted},

			// Bearer tokens
			{regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`), redacted},

			// key=value secrets
			{regexp.MustCompile(`(secret|password|token)=[^\s&"]+`), "$1=" + redacted},
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.rules = append(r.rules, rule{pattern: re, replacement: redacted})
	r.mu.Unlock()
	return nil
}

// AddLiteral always redacts value wherever it appears
func (r *Redactor) AddLiteral(value string) {
	if value == "" {
		return
	}

	r.mu.Lock()
	r.rules = append(r.rules, rule{
		pattern:     regexp.MustCompile(regexp.QuoteMeta(value)),
		replacement: redacted,
	})
	r.mu.Unlock()
}

// Redact redacts sensitive information from a string
func (r *Redactor) Redact(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := s
	for _, rl := range r.rules {
		result = rl.pattern.ReplaceAllString(result, rl.replacement)
	}
	return result
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

// redactingWriter is an io.Writer that redacts sensitive information
type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write returns len(p) on success, whatever the redacted length
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
