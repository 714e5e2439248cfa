package core

import "fmt"

// Verdict is the recommended next action for a finding.
// Verdicts are ordered: Monitor < Investigate < ImmediateAction.
type Verdict int

const (
	VerdictMonitor Verdict = iota
	VerdictInvestigate
	VerdictImmediateAction
)

// AllVerdicts returns verdicts in ascending order of urgency
var AllVerdicts = []Verdict{VerdictMonitor, VerdictInvestigate, VerdictImmediateAction}

// String returns the verdict label
func (v Verdict) String() string {
	switch v {
	case VerdictMonitor:
		return "Monitor"
	case VerdictInvestigate:
		return "Investigate"
	case VerdictImmediateAction:
		return "ImmediateAction"
	default:
		return "Unknown"
	}
}

// MarshalText renders the verdict by name in JSON/YAML output
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// ParseVerdict returns the verdict with the given label
func ParseVerdict(s string) (Verdict, error) {
	for _, v := range AllVerdicts {
		if v.String() == s {
			return v, nil
		}
	}
	return VerdictMonitor, fmt.Errorf("unknown verdict %q", s)
}

// UnmarshalText parses a verdict label
func (v *Verdict) UnmarshalText(text []byte) error {
	parsed, err := ParseVerdict(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
