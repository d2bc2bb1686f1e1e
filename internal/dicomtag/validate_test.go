package dicomtag

import (
	"reflect"
	"testing"

	"github.com/helixcare/imaging-gateway/internal/models"
)

func TestValidateComplete(t *testing.T) {
	ts := make(models.TagSet)
	for _, name := range models.RequiredTags {
		ts[name] = "x"
	}

	res := Validate(ts)
	if !res.IsValid {
		t.Fatalf("Expected valid, missing: %v", res.MissingRequired)
	}
	if len(res.MissingRequired) != 0 {
		t.Errorf("Expected no missing fields, got %v", res.MissingRequired)
	}
}

func TestValidateMissingStudyUID(t *testing.T) {
	ts := make(models.TagSet)
	for _, name := range models.RequiredTags {
		ts[name] = "x"
	}
	delete(ts, models.TagStudyInstanceUID)

	res := Validate(ts)
	if res.IsValid {
		t.Fatal("Expected invalid result")
	}
	want := []string{models.TagStudyInstanceUID}
	if !reflect.DeepEqual(res.MissingRequired, want) {
		t.Errorf("MissingRequired: got %v, want %v", res.MissingRequired, want)
	}
}

func TestValidateReportsSchemaOrder(t *testing.T) {
	// Only Modality present; every other required field missing. The
	// report must follow schema order, not map iteration order.
	ts := models.TagSet{models.TagModality: "MR"}

	res := Validate(ts)
	want := []string{
		models.TagPatientID,
		models.TagPatientName,
		models.TagPatientBirthDate,
		models.TagStudyInstanceUID,
		models.TagStudyDate,
		models.TagAccessionNumber,
		models.TagSeriesInstanceUID,
		models.TagSOPInstanceUID,
	}
	if !reflect.DeepEqual(res.MissingRequired, want) {
		t.Errorf("MissingRequired: got %v, want %v", res.MissingRequired, want)
	}
}

func TestValidateEmptyValueCountsAsMissing(t *testing.T) {
	ts := make(models.TagSet)
	for _, name := range models.RequiredTags {
		ts[name] = "x"
	}
	ts[models.TagPatientID] = ""

	res := Validate(ts)
	if res.IsValid {
		t.Fatal("Empty required value must invalidate the set")
	}
	if len(res.MissingRequired) != 1 || res.MissingRequired[0] != models.TagPatientID {
		t.Errorf("MissingRequired: got %v", res.MissingRequired)
	}
}
