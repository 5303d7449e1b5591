package domain

import (
	"errors"
	"fmt"
	"strings"
)

type Category string

const (
	CategoryFireSafety    Category = "fire_safety"
	CategoryElectrical    Category = "electrical"
	CategoryErgonomic     Category = "ergonomic"
	CategorySlipTripFall  Category = "slip_trip_fall"
	CategoryChemical      Category = "chemical"
	CategoryPPE           Category = "ppe"
	CategoryStructural    Category = "structural"
	CategoryHygiene       Category = "hygiene"
	CategoryEmergencyExit Category = "emergency_exit"
	CategoryGeneral       Category = "general"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryFireSafety, CategoryElectrical, CategoryErgonomic, CategorySlipTripFall,
		CategoryChemical, CategoryPPE, CategoryStructural, CategoryHygiene,
		CategoryEmergencyExit, CategoryGeneral:
		return true
	default:
		return false
	}
}

// Label is the human form used in reports, e.g. "slip trip fall".
func (c Category) Label() string {
	return strings.ReplaceAll(string(c), "_", " ")
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Severities lists every severity from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Rank orders severities; a higher rank is more severe. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

type Violation struct {
	ID                  int      `json:"id"`
	Category            Category `json:"category"`
	Severity            Severity `json:"severity"`
	Title               string   `json:"title"`
	Description         string   `json:"description"`
	Location            string   `json:"location"`
	Recommendation      string   `json:"recommendation"`
	RegulatoryReference *string  `json:"regulatory_reference"`
}

// AuditResult is the structured report produced by the vision model.
type AuditResult struct {
	OverallScore     int         `json:"overall_score"`
	Summary          string      `json:"summary"`
	IndustryDetected string      `json:"industry_detected"`
	Violations       []Violation `json:"violations"`
	CompliantAreas   []string    `json:"compliant_areas"`
	PriorityFixes    []string    `json:"priority_fixes"`
}

var ErrInvalidResult = errors.New("invalid_audit_result")

// Normalize validates an untrusted result in place. Missing lists become
// empty and blank regulatory references become nil.
func (r *AuditResult) Normalize() error {
	if r == nil {
		return ErrInvalidResult
	}
	if r.OverallScore < 0 || r.OverallScore > 100 {
		return fmt.Errorf("%w: overall_score %d out of range", ErrInvalidResult, r.OverallScore)
	}
	r.Summary = strings.TrimSpace(r.Summary)
	if r.Summary == "" {
		return fmt.Errorf("%w: empty summary", ErrInvalidResult)
	}
	r.IndustryDetected = strings.TrimSpace(r.IndustryDetected)
	if r.IndustryDetected == "" {
		r.IndustryDetected = "general"
	}

	if r.Violations == nil {
		r.Violations = []Violation{}
	}
	seen := make(map[int]struct{}, len(r.Violations))
	for i := range r.Violations {
		v := &r.Violations[i]
		if v.ID <= 0 {
			return fmt.Errorf("%w: violation %d has id %d", ErrInvalidResult, i, v.ID)
		}
		if _, dup := seen[v.ID]; dup {
			return fmt.Errorf("%w: duplicate violation id %d", ErrInvalidResult, v.ID)
		}
		seen[v.ID] = struct{}{}
		if !v.Category.Valid() {
			return fmt.Errorf("%w: unknown category %q", ErrInvalidResult, v.Category)
		}
		if !v.Severity.Valid() {
			return fmt.Errorf("%w: unknown severity %q", ErrInvalidResult, v.Severity)
		}
		if v.RegulatoryReference != nil && strings.TrimSpace(*v.RegulatoryReference) == "" {
			v.RegulatoryReference = nil
		}
	}

	if r.CompliantAreas == nil {
		r.CompliantAreas = []string{}
	}
	if r.PriorityFixes == nil {
		r.PriorityFixes = []string{}
	}
	return nil
}

// CountBySeverity returns the number of violations carrying severity s.
func (r *AuditResult) CountBySeverity(s Severity) int {
	if r == nil {
		return 0
	}
	n := 0
	for _, v := range r.Violations {
		if v.Severity == s {
			n++
		}
	}
	return n
}
