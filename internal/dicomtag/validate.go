package dicomtag

import "github.com/helixcare/imaging-gateway/internal/models"

// Validate checks a TagSet against the required schema. Missing fields are
// reported in schema order, not input order. Validation is advisory for
// editing: an invalid file may still be modified to fill the gaps, it just
// may not enter an upload batch.
func Validate(ts models.TagSet) models.ValidationResult {
	var missing []string
	for _, name := range models.RequiredTags {
		if !ts.Has(name) {
			missing = append(missing, name)
		}
	}
	return models.ValidationResult{
		IsValid:         len(missing) == 0,
		MissingRequired: missing,
	}
}
