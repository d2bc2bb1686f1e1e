package matcher

import (
	"strings"

	"github.com/google/uuid"
	"github.com/helixcare/imaging-gateway/internal/models"
)

// Identity is the patient identity embedded in an image file.
type Identity struct {
	PatientID        string
	PatientName      string
	PatientBirthDate string
}

// IdentityFromTags pulls the matching fields out of an extracted TagSet.
func IdentityFromTags(ts models.TagSet) Identity {
	return Identity{
		PatientID:        ts.Get(models.TagPatientID),
		PatientName:      ts.Get(models.TagPatientName),
		PatientBirthDate: ts.Get(models.TagPatientBirthDate),
	}
}

// Match resolves an embedded identity against a snapshot of the clinical
// registry. Tiers are tried in a fixed order and the first hit wins:
//
//  1. exact MRN equality (case-sensitive)       -> confidence 1.0
//  2. normalized name containment + exact DOB   -> confidence 0.8
//  3. normalized name containment alone         -> confidence 0.6
//  4. no match: manual selection required       -> confidence 0.0
//
// Within a tier, ties break to the first occurrence in the supplied
// snapshot. Callers must supply a stable-ordered snapshot so repeated
// calls with identical input return identical results.
func Match(id Identity, patients []models.Patient) models.MatchResult {
	if id.PatientID != "" {
		for _, p := range patients {
			if p.MRN == id.PatientID {
				return models.MatchResult{
					MatchType:  models.MatchTypeExact,
					Confidence: 1.0,
					MatchedBy:  []string{models.MatchedByMRN},
					PatientID:  p.ID,
				}
			}
		}
	}

	name := normalizeName(id.PatientName)
	if name != "" {
		if id.PatientBirthDate != "" {
			for _, p := range patients {
				if namesOverlap(name, registryName(p)) && id.PatientBirthDate == p.DateOfBirth {
					return models.MatchResult{
						MatchType:  models.MatchTypePartial,
						Confidence: 0.8,
						MatchedBy:  []string{models.MatchedByName, models.MatchedByDOB},
						PatientID:  p.ID,
					}
				}
			}
		}
		for _, p := range patients {
			if namesOverlap(name, registryName(p)) {
				return models.MatchResult{
					MatchType:  models.MatchTypePartial,
					Confidence: 0.6,
					MatchedBy:  []string{models.MatchedByName},
					PatientID:  p.ID,
				}
			}
		}
	}

	return models.MatchResult{
		MatchType:  models.MatchTypeManual,
		Confidence: 0.0,
		MatchedBy:  []string{},
		PatientID:  uuid.Nil,
	}
}

// PreBound is the short-circuit for batches already associated with a
// known clinical order: the order's patient is taken as-is.
func PreBound(patientID uuid.UUID) models.MatchResult {
	return models.MatchResult{
		MatchType:  models.MatchTypeExact,
		Confidence: 1.0,
		MatchedBy:  []string{models.MatchedByPreSelected},
		PatientID:  patientID,
	}
}

// ManualSelection records an explicit patient choice supplied by the
// caller after the tiers produced no match.
func ManualSelection(patientID uuid.UUID) models.MatchResult {
	return models.MatchResult{
		MatchType:  models.MatchTypeManual,
		Confidence: 1.0,
		MatchedBy:  []string{models.MatchedByManual},
		PatientID:  patientID,
	}
}

func registryName(p models.Patient) string {
	return normalizeName(p.FirstName + " " + p.LastName)
}

// normalizeName strips DICOM name-component separators, lowercases and
// collapses whitespace.
func normalizeName(s string) string {
	s = strings.NewReplacer("^", " ", ",", " ").Replace(s)
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// namesOverlap tests substring containment in either direction.
func namesOverlap(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
