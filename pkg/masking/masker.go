// Package masking redacts sensitive values — agent bearer tokens, recovered
// plaintexts — from anything that might reach a log line or error message.
// A Masker is a compiled-regex sweep; Service aggregates the built-in set.
package masking

// Masker is a code-based redactor for content with enough structure that a
// single regex can't safely target it.
type Masker interface {
	// Name identifies this masker for registration/lookup.
	Name() string
	// AppliesTo is a cheap pre-check (string contains, not parsing) for
	// whether Mask should run at all.
	AppliesTo(data string) bool
	// Mask returns the redacted content. Must be defensive: return the
	// original data on any parse/processing error.
	Mask(data string) string
}
