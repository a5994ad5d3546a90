package masking

import "regexp"

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// builtinPatterns are the always-on redaction sweep applied by Redact.
// Agent tokens must never reach a log
// line in full; cracked plaintexts are equally sensitive recovered secrets.
var builtinPatterns = []*CompiledPattern{
	{
		Name:        "agent_token",
		Regex:       regexp.MustCompile(`csa_[A-Za-z0-9-]+_[0-9a-f]+`),
		Replacement: "csa_[REDACTED]",
	},
}
