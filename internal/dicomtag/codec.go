package dicomtag

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/helixcare/imaging-gateway/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// ErrNotDICOM is returned when a byte stream is not a structurally valid
// DICOM container. Missing optional fields never trigger it.
var ErrNotDICOM = errors.New("not a valid DICOM file")

// ErrImmutableTag is returned when a modify request targets one of the
// identity fields (StudyInstanceUID, SeriesInstanceUID, SOPInstanceUID).
var ErrImmutableTag = errors.New("tag is immutable")

// fieldTags maps schema field names to their DICOM tags.
var fieldTags = map[string]tag.Tag{
	models.TagPatientID:         tag.PatientID,
	models.TagPatientName:       tag.PatientName,
	models.TagPatientBirthDate:  tag.PatientBirthDate,
	models.TagStudyInstanceUID:  tag.StudyInstanceUID,
	models.TagStudyDate:         tag.StudyDate,
	models.TagAccessionNumber:   tag.AccessionNumber,
	models.TagModality:          tag.Modality,
	models.TagSeriesInstanceUID: tag.SeriesInstanceUID,
	models.TagSOPInstanceUID:    tag.SOPInstanceUID,
	models.TagPatientSex:        tag.PatientSex,
	models.TagStudyTime:         tag.StudyTime,
	models.TagStudyDescription:  tag.StudyDescription,
	models.TagSeriesNumber:      tag.SeriesNumber,
	models.TagInstanceNumber:    tag.InstanceNumber,
	models.TagInstitutionName:   tag.InstitutionName,
}

var immutableFields = func() map[string]bool {
	m := make(map[string]bool, len(models.ImmutableTags))
	for _, f := range models.ImmutableTags {
		m[f] = true
	}
	return m
}()

// Extract parses raw file bytes and returns the schema fields present in
// the file. Absent optional fields are simply omitted from the result.
func Extract(data []byte) (models.TagSet, error) {
	ds, err := parse(data)
	if err != nil {
		return nil, err
	}

	ts := make(models.TagSet, len(fieldTags))
	for name, t := range fieldTags {
		el, err := ds.FindElementByTag(t)
		if err != nil {
			continue
		}
		if v := elementString(el); v != "" {
			ts[name] = v
		}
	}
	return ts, nil
}

// ExtractAll returns every readable tag in the file keyed by its DICOM
// keyword. Intended for inspection endpoints, not the pipeline.
func ExtractAll(data []byte) (map[string]string, error) {
	ds, err := parse(data)
	if err != nil {
		return nil, err
	}

	all := make(map[string]string)
	for _, el := range ds.Elements {
		info, err := tag.Find(el.Tag)
		if err != nil || info.Name == "" {
			continue
		}
		if el.Tag == tag.PixelData {
			continue
		}
		all[info.Name] = elementString(el)
	}
	return all, nil
}

// Modify applies field overrides to a file and returns the rewritten
// bytes. Identity fields are rejected with ErrImmutableTag; fields outside
// the schema are skipped. All untargeted fields and the pixel payload are
// carried through unchanged.
func Modify(data []byte, overrides map[string]string) ([]byte, error) {
	for name := range overrides {
		if immutableFields[name] {
			return nil, fmt.Errorf("%w: %s", ErrImmutableTag, name)
		}
	}

	ds, err := parse(data)
	if err != nil {
		return nil, err
	}

	for name, value := range overrides {
		t, ok := fieldTags[name]
		if !ok {
			log.Warn().Str("field", name).Msg("Override field not in tag schema, skipping")
			continue
		}
		el, err := dicom.NewElement(t, []string{value})
		if err != nil {
			return nil, fmt.Errorf("failed to build element for %s: %w", name, err)
		}
		replaced := false
		for i, existing := range ds.Elements {
			if existing.Tag == t {
				ds.Elements[i] = el
				replaced = true
				break
			}
		}
		if !replaced {
			ds.Elements = append(ds.Elements, el)
		}
	}

	// Keep elements in tag order so the rewritten file stays conformant
	// after appends.
	sort.SliceStable(ds.Elements, func(i, j int) bool {
		a, b := ds.Elements[i].Tag, ds.Elements[j].Tag
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		return a.Element < b.Element
	})

	var buf bytes.Buffer
	if err := dicom.Write(&buf, ds, dicom.SkipVRVerification()); err != nil {
		return nil, fmt.Errorf("failed to write modified file: %w", err)
	}
	return buf.Bytes(), nil
}

// FileInfo returns a preview summary of a parsed file.
func FileInfo(data []byte) (*models.FileInfo, error) {
	ds, err := parse(data)
	if err != nil {
		return nil, err
	}

	info := &models.FileInfo{
		FileSizeBytes: int64(len(data)),
		FileSizeMB:    float64(len(data)) / (1024 * 1024),
	}
	if el, err := ds.FindElementByTag(tag.Modality); err == nil {
		info.Modality = elementString(el)
	}
	if el, err := ds.FindElementByTag(tag.StudyInstanceUID); err == nil {
		info.StudyInstanceUID = elementString(el)
	}
	if el, err := ds.FindElementByTag(tag.SeriesInstanceUID); err == nil {
		info.SeriesInstanceUID = elementString(el)
	}
	if el, err := ds.FindElementByTag(tag.SOPInstanceUID); err == nil {
		info.SOPInstanceUID = elementString(el)
	}
	if el, err := ds.FindElementByTag(tag.PatientID); err == nil {
		info.PatientID = elementString(el)
	}
	if el, err := ds.FindElementByTag(tag.StudyDate); err == nil {
		info.StudyDate = elementString(el)
	}

	rows, rOK := intTag(ds, tag.Rows)
	cols, cOK := intTag(ds, tag.Columns)
	if rOK && cOK {
		info.ImageDimensions = fmt.Sprintf("%dx%d", cols, rows)
	}
	return info, nil
}

func parse(data []byte) (dicom.Dataset, error) {
	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil)
	if err != nil {
		return dicom.Dataset{}, fmt.Errorf("%w: %v", ErrNotDICOM, err)
	}
	return ds, nil
}

func elementString(el *dicom.Element) string {
	switch v := el.Value.GetValue().(type) {
	case []string:
		if len(v) > 0 {
			return strings.TrimSpace(strings.Join(v, "\\"))
		}
	case string:
		return strings.TrimSpace(v)
	case []int:
		parts := make([]string, len(v))
		for i, n := range v {
			parts[i] = strconv.Itoa(n)
		}
		return strings.Join(parts, "\\")
	}
	return ""
}

func intTag(ds dicom.Dataset, t tag.Tag) (int, bool) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return 0, false
	}
	switch v := el.Value.GetValue().(type) {
	case []int:
		if len(v) > 0 {
			return v[0], true
		}
	case []string:
		if len(v) > 0 {
			if n, err := strconv.Atoi(strings.TrimSpace(v[0])); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}
