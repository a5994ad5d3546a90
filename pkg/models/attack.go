package models

import "time"

// AttackMode is the cracking mode of an Attack.
type AttackMode string

// Attack modes.
const (
	ModeDictionary AttackMode = "dictionary"
	ModeMask       AttackMode = "mask"
	ModeHybridDict AttackMode = "hybrid_dict"
	ModeHybridMask AttackMode = "hybrid_mask"
	ModeBruteForce AttackMode = "brute_force"
)

// AttackState is the Attack lifecycle state.
type AttackState string

// Attack lifecycle states.
const (
	AttackStatePending   AttackState = "pending"
	AttackStateRunning   AttackState = "running"
	AttackStateCompleted AttackState = "completed"
	AttackStateExhausted AttackState = "exhausted"
	AttackStateFailed    AttackState = "failed"
	AttackStatePaused    AttackState = "paused"
)

// IsTerminal reports whether an attack state is a final state for rollup
// purposes.
func (s AttackState) IsTerminal() bool {
	switch s {
	case AttackStateCompleted, AttackStateExhausted, AttackStateFailed:
		return true
	default:
		return false
	}
}

// AttackConfiguration is the cracking configuration for an Attack.
type AttackConfiguration struct {
	WordlistRefs   []string `json:"wordlist_refs,omitempty"`
	RuleRef        string   `json:"rule_ref,omitempty"`
	MaskList       []string `json:"mask_list,omitempty"`
	CustomCharsets []string `json:"custom_charsets,omitempty"`
	MinLength      int      `json:"min_length,omitempty"`
	MaxLength      int      `json:"max_length,omitempty"`
	Increment      bool     `json:"increment,omitempty"`
	WorkloadProfile int     `json:"workload_profile,omitempty"`
	Optimized      bool     `json:"optimized,omitempty"`
}

// Attack is a single cracking configuration within a Campaign.
type Attack struct {
	ID             string
	CampaignID     string
	Position       int // >= 1, unique within campaign
	Mode           AttackMode
	Config         AttackConfiguration
	HashType       int
	TotalKeyspace  uint64
	ComplexityScore float64
	State          AttackState
	Version        int64

	// ZapSerial is the monotonically increasing sequence used to generate
	// zap-list entries. Each crack recorded against this
	// attack's hash list is appended with the next serial.
	ZapSerial int64

	// LastReplan records the benchmark comparison that most recently
	// triggered a replan of this attack's tasks, or nil
	// if no abandon has ever forced a replan.
	LastReplan *ReplanAudit
}

// ReplanAudit is the triggering comparison behind an abandon-driven replan:
// the planning-time median hash speed for the attack's hash_type against
// the abandoning agent's own measured speed.
type ReplanAudit struct {
	At            time.Time `json:"at"`
	AgentID       string    `json:"agent_id"`
	OldMedian     float64   `json:"old_median"`
	NewAgentSpeed float64   `json:"new_agent_speed"`
	Reason        string    `json:"reason"`
}
