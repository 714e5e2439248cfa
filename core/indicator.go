package core

// IndicatorKind represents the type of an indicator of compromise
type IndicatorKind string

const (
	IndicatorIP       IndicatorKind = "ip"
	IndicatorDomain   IndicatorKind = "domain"
	IndicatorFileHash IndicatorKind = "hash" // MD5, SHA1, SHA256
)

// AllIndicatorKinds lists the kinds the extractor can produce
var AllIndicatorKinds = []IndicatorKind{IndicatorIP, IndicatorDomain, IndicatorFileHash}

// IsValid checks if the indicator kind is known
func (k IndicatorKind) IsValid() bool {
	for _, valid := range AllIndicatorKinds {
		if k == valid {
			return true
		}
	}
	return false
}

// Indicator is a typed value extracted from a finding.
// FindingID and Field are back-references; identity is Kind+Value.
type Indicator struct {
	Kind      IndicatorKind `json:"kind"`
	Value     string        `json:"value"`
	FindingID string        `json:"finding_id"`
	Field     string        `json:"field,omitempty"`
}

// Key returns the identity used for set semantics and caching
func (i Indicator) Key() string {
	return IndicatorKey(i.Kind, i.Value)
}

// IndicatorKey builds the "kind:value" identity for an indicator
func IndicatorKey(kind IndicatorKind, value string) string {
	return string(kind) + ":" + value
}
