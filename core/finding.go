package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Finding severity bounds (cloud detectors report severity on a 0-10 scale)
const (
	MinSeverity = 0.0
	MaxSeverity = 10.0
)

var (
	// ErrInvalidFinding is returned when a finding fails structural validation
	ErrInvalidFinding = errors.New("invalid finding")
	// ErrDuplicateFinding is returned when two findings in one batch share an ID
	ErrDuplicateFinding = errors.New("duplicate finding id")
)

// findingValidator is shared; validator.Validate caches struct metadata and is safe for concurrent use
var findingValidator = validator.New()

// Finding is one raw alert from a detection source.
// Findings are read-only once constructed.
type Finding struct {
	ID        string                 `json:"id" yaml:"id" validate:"required"`
	Type      string                 `json:"type" yaml:"type" validate:"required"`
	Title     string                 `json:"title" yaml:"title"`
	Severity  float64                `json:"severity" yaml:"severity" validate:"gte=0,lte=10"`
	Fields    map[string]interface{} `json:"fields" yaml:"fields"`
	Timestamp time.Time              `json:"timestamp" yaml:"timestamp"`
}

// Validate checks the finding's struct constraints (ID and type present, severity in [0,10])
func (f *Finding) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil finding", ErrInvalidFinding)
	}
	if err := findingValidator.Struct(f); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidFinding, f.ID, err)
	}
	return nil
}

// Category returns the threat purpose portion of the type ("Recon" for "Recon:EC2/PortProbeUnprotectedPort")
func (f *Finding) Category() string {
	category, _, _ := strings.Cut(f.Type, ":")
	return category
}

// ResourceType returns "Category:Resource" ("Recon:EC2" for "Recon:EC2/PortProbeUnprotectedPort")
func (f *Finding) ResourceType() string {
	resource, _, _ := strings.Cut(f.Type, "/")
	return resource
}

// CheckUniqueIDs returns ErrDuplicateFinding if two findings share an identifier.
// Findings without an ID are skipped; Validate fails them individually.
func CheckUniqueIDs(findings []Finding) error {
	seen := make(map[string]int, len(findings))
	for i, f := range findings {
		if f.ID == "" {
			continue
		}
		if prev, ok := seen[f.ID]; ok {
			return fmt.Errorf("%w: %q at positions %d and %d", ErrDuplicateFinding, f.ID, prev, i)
		}
		seen[f.ID] = i
	}
	return nil
}
