package middleware

import (
	"context"
	"regexp"

	"github.com/sobrief/orchestrator/pkg/agentkind"
	"github.com/sobrief/orchestrator/pkg/state"
)

// DefaultRedactionPlaceholder is substituted for every PII match.
const DefaultRedactionPlaceholder = "[REDACTED]"

// phonePatterns mirrors the teacher-domain's security_middleware.py:
// a generic international pattern, a US-style grouping, and a Russian
// +7 mobile format, applied in that order.
var phonePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\+?\d{1,3}[-.\s]?\(?\d{1,4}\)?[-.\s]?\d{1,4}[-.\s]?\d{1,9}`),
	regexp.MustCompile(`\d{3}[-.\s]?\d{3}[-.\s]?\d{4}`),
	regexp.MustCompile(`\+7\s?\(?\d{3}\)?\s?\d{3}[-.\s]?\d{2}[-.\s]?\d{2}`),
}

var emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

// passportPattern matches the Russian internal passport format: a 4-digit
// series followed by a 6-digit number.
var passportPattern = regexp.MustCompile(`\d{4}\s?\d{6}`)

var ipPattern = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)

// Redactor masks personally identifying data out of free text before it
// reaches an LLM prompt or a logged event.
type Redactor struct {
	Replacement string
}

// NewRedactor creates a Redactor using the default placeholder.
func NewRedactor() *Redactor {
	return &Redactor{Replacement: DefaultRedactionPlaceholder}
}

// RedactText masks phone numbers, emails, passport numbers, and IP
// addresses in text. Idempotent: running it twice produces the same
// output as running it once, since the placeholder itself matches none of
// the patterns.
func (r *Redactor) RedactText(text string) string {
	if text == "" {
		return text
	}
	replacement := r.Replacement
	if replacement == "" {
		replacement = DefaultRedactionPlaceholder
	}

	result := text
	for _, p := range phonePatterns {
		result = p.ReplaceAllString(result, replacement)
	}
	result = emailPattern.ReplaceAllString(result, replacement)
	result = passportPattern.ReplaceAllString(result, replacement)
	result = ipPattern.ReplaceAllString(result, replacement)
	return result
}

// RedactValue recursively masks PII out of strings nested inside maps and
// slices, leaving other value types untouched. Mirrors the original
// security_middleware.py's redact_dict recursion over messages/metadata.
func (r *Redactor) RedactValue(v any) any {
	switch val := v.(type) {
	case string:
		return r.RedactText(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = r.RedactValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.RedactValue(item)
		}
		return out
	default:
		return v
	}
}

// PIIRedaction wraps a Runner so the agent's returned result has PII
// masked out of any inline string content before it is written back into
// shared state or emitted as an event.
func PIIRedaction(r *Redactor) Middleware {
	if r == nil {
		r = NewRedactor()
	}
	return func(next Runner) Runner {
		return func(ctx context.Context, kind agentkind.Kind, s *state.AnalysisState) (*state.ResultSlot, error) {
			slot, err := next(ctx, kind, s)
			if err != nil || slot == nil || slot.Inline == nil {
				return slot, err
			}
			redacted := r.RedactValue(slot.Inline).(map[string]any)
			out := *slot
			out.Inline = redacted
			return &out, nil
		}
	}
}
