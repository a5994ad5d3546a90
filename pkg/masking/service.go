package masking

import "regexp"

const redactedPlaintext = `"plain_text":"[REDACTED]"`

var plaintextFieldPattern = regexp.MustCompile(`"plain_text"\s*:\s*"(?:[^"\\]|\\.)*"`)

// PlaintextFieldMasker redacts a submit_crack request's recovered plaintext
// field from a JSON log line via a field-targeted regex rather than a full
// parse/re-serialize round trip, since the call site only ever has a JSON
// fragment, not a document it needs to reconstruct.
type PlaintextFieldMasker struct{}

// Name implements Masker.
func (PlaintextFieldMasker) Name() string { return "plaintext_field" }

// AppliesTo implements Masker.
func (PlaintextFieldMasker) AppliesTo(data string) bool {
	return plaintextFieldPattern.MatchString(data)
}

// Mask implements Masker.
func (PlaintextFieldMasker) Mask(data string) string {
	return plaintextFieldPattern.ReplaceAllString(data, redactedPlaintext)
}

// Service applies the registered code maskers, then the built-in regex
// sweep, to any string headed for a log line or error message.
type Service struct {
	maskers []Masker
}

// NewService builds a Service with the standard maskers registered.
func NewService() *Service {
	return &Service{maskers: []Masker{PlaintextFieldMasker{}}}
}

// Redact applies every registered masker, then the built-in pattern sweep.
func (s *Service) Redact(data string) string {
	masked := data
	for _, m := range s.maskers {
		if m.AppliesTo(masked) {
			masked = m.Mask(masked)
		}
	}
	for _, p := range builtinPatterns {
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}
	return masked
}
