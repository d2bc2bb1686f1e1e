package matcher

import (
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/helixcare/imaging-gateway/internal/models"
)

func snapshot() []models.Patient {
	return []models.Patient{
		{ID: uuid.MustParse("11111111-1111-1111-1111-111111111111"), MRN: "CLI-2026-00001", FirstName: "Jane", LastName: "Doe", DateOfBirth: "19840212"},
		{ID: uuid.MustParse("22222222-2222-2222-2222-222222222222"), MRN: "CLI-2026-00002", FirstName: "John", LastName: "Smith", DateOfBirth: "19751130"},
		{ID: uuid.MustParse("33333333-3333-3333-3333-333333333333"), MRN: "CLI-2026-00003", FirstName: "Maria", LastName: "Garcia", DateOfBirth: "19920705"},
	}
}

func TestMatchExactMRN(t *testing.T) {
	res := Match(Identity{PatientID: "CLI-2026-00001"}, snapshot())

	if res.MatchType != models.MatchTypeExact {
		t.Fatalf("MatchType: got %s, want exact", res.MatchType)
	}
	if res.Confidence != 1.0 {
		t.Errorf("Confidence: got %v, want 1.0", res.Confidence)
	}
	if !reflect.DeepEqual(res.MatchedBy, []string{models.MatchedByMRN}) {
		t.Errorf("MatchedBy: got %v", res.MatchedBy)
	}
	if res.PatientID != snapshot()[0].ID {
		t.Errorf("PatientID: got %s", res.PatientID)
	}
}

func TestMatchMRNIsCaseSensitive(t *testing.T) {
	res := Match(Identity{PatientID: "cli-2026-00001"}, snapshot())
	if res.MatchType == models.MatchTypeExact {
		t.Fatal("MRN comparison must be case-sensitive, got an exact match")
	}
}

func TestMatchNameAndDOB(t *testing.T) {
	res := Match(Identity{PatientName: "DOE^JANE", PatientBirthDate: "19840212"}, snapshot())

	if res.MatchType != models.MatchTypePartial {
		t.Fatalf("MatchType: got %s, want partial", res.MatchType)
	}
	if res.Confidence != 0.8 {
		t.Errorf("Confidence: got %v, want 0.8", res.Confidence)
	}
	if !reflect.DeepEqual(res.MatchedBy, []string{models.MatchedByName, models.MatchedByDOB}) {
		t.Errorf("MatchedBy: got %v", res.MatchedBy)
	}
}

func TestMatchNameOnlyWhenDOBDiffers(t *testing.T) {
	res := Match(Identity{PatientName: "DOE^JANE", PatientBirthDate: "19990101"}, snapshot())

	if res.MatchType != models.MatchTypePartial || res.Confidence != 0.6 {
		t.Fatalf("Got %s/%v, want partial/0.6", res.MatchType, res.Confidence)
	}
	if !reflect.DeepEqual(res.MatchedBy, []string{models.MatchedByName}) {
		t.Errorf("MatchedBy: got %v", res.MatchedBy)
	}
}

func TestMatchNameContainmentEitherDirection(t *testing.T) {
	// File carries a longer name than the registry record.
	res := Match(Identity{PatientName: "GARCIA^MARIA^ELENA"}, snapshot())
	if res.MatchType == models.MatchTypeManual {
		t.Fatal("Expected a name-tier match for GARCIA^MARIA^ELENA")
	}
	if res.PatientID != snapshot()[2].ID {
		t.Errorf("PatientID: got %s", res.PatientID)
	}
}

func TestMatchFallsBackToManual(t *testing.T) {
	res := Match(Identity{PatientName: "NOBODY^KNOWN"}, snapshot())

	if res.MatchType != models.MatchTypeManual {
		t.Fatalf("MatchType: got %s, want manual", res.MatchType)
	}
	if res.Confidence != 0.0 {
		t.Errorf("Confidence: got %v, want 0.0", res.Confidence)
	}
	if len(res.MatchedBy) != 0 {
		t.Errorf("MatchedBy: got %v, want empty", res.MatchedBy)
	}
	if res.Resolved() {
		t.Error("Manual fallback must not resolve a patient")
	}
}

func TestMatchEmptyIdentity(t *testing.T) {
	res := Match(Identity{}, snapshot())
	if res.MatchType != models.MatchTypeManual || res.Resolved() {
		t.Fatalf("Empty identity must fall through to manual, got %+v", res)
	}
}

func TestMatchDeterministic(t *testing.T) {
	id := Identity{PatientName: "SMITH^JOHN", PatientBirthDate: "19751130"}
	first := Match(id, snapshot())
	for i := 0; i < 10; i++ {
		if got := Match(id, snapshot()); !reflect.DeepEqual(got, first) {
			t.Fatalf("Run %d diverged: %+v vs %+v", i, got, first)
		}
	}
}

func TestMatchTieBreaksToFirstOccurrence(t *testing.T) {
	twins := []models.Patient{
		{ID: uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001"), MRN: "A-1", FirstName: "Alex", LastName: "Lee", DateOfBirth: "20000101"},
		{ID: uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000002"), MRN: "A-2", FirstName: "Alex", LastName: "Lee", DateOfBirth: "20000101"},
	}

	res := Match(Identity{PatientName: "LEE^ALEX", PatientBirthDate: "20000101"}, twins)
	if res.PatientID != twins[0].ID {
		t.Errorf("Tie must break to first occurrence, got %s", res.PatientID)
	}
}

func TestPreBound(t *testing.T) {
	pid := uuid.New()
	res := PreBound(pid)

	if res.MatchType != models.MatchTypeExact || res.Confidence != 1.0 {
		t.Fatalf("Got %s/%v", res.MatchType, res.Confidence)
	}
	if !reflect.DeepEqual(res.MatchedBy, []string{models.MatchedByPreSelected}) {
		t.Errorf("MatchedBy: got %v", res.MatchedBy)
	}
	if res.PatientID != pid {
		t.Errorf("PatientID: got %s", res.PatientID)
	}
}

func TestManualSelection(t *testing.T) {
	pid := uuid.New()
	res := ManualSelection(pid)

	if res.MatchType != models.MatchTypeManual || res.Confidence != 1.0 {
		t.Fatalf("Got %s/%v", res.MatchType, res.Confidence)
	}
	if !reflect.DeepEqual(res.MatchedBy, []string{models.MatchedByManual}) {
		t.Errorf("MatchedBy: got %v", res.MatchedBy)
	}
	if !res.Resolved() {
		t.Error("Manual selection must resolve the patient")
	}
}
