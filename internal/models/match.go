package models

import "github.com/google/uuid"

// MatchType classifies how an embedded patient identity was resolved
// against the clinical registry.
type MatchType string

const (
	MatchTypeExact   MatchType = "exact"
	MatchTypePartial MatchType = "partial"
	MatchTypeManual  MatchType = "manual"
)

// Fields a match can be based on, reported in MatchResult.MatchedBy.
const (
	MatchedByMRN         = "MRN"
	MatchedByName        = "Name"
	MatchedByDOB         = "DOB"
	MatchedByPreSelected = "pre-selected"
	MatchedByManual      = "manual-selection"
)

// MatchResult is the outcome of one matching attempt for one file.
// PatientID is uuid.Nil when no candidate matched and the caller must
// supply a manual selection before the file may proceed.
type MatchResult struct {
	MatchType  MatchType `json:"match_type"`
	Confidence float64   `json:"confidence"`
	MatchedBy  []string  `json:"matched_by"`
	PatientID  uuid.UUID `json:"patient_id,omitempty"`
}

// Resolved reports whether the match identifies a concrete patient.
func (m MatchResult) Resolved() bool {
	return m.PatientID != uuid.Nil
}
