package viewer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/helixcare/imaging-gateway/internal/archive"
	"github.com/helixcare/imaging-gateway/internal/cache"
	"github.com/rs/zerolog/log"
)

// ErrComparisonNeedsTwo is returned when a comparison link is requested
// with fewer than two studies.
var ErrComparisonNeedsTwo = errors.New("comparison requires at least two studies")

const existenceTTL = 5 * time.Minute

// Resolver builds OHIF viewer deep links. Every link is verified against
// the archive before it is handed out: a link to a missing study is worse
// than an error.
type Resolver struct {
	baseURL string
	archive archive.Archive
	cache   cache.Cache
}

// NewResolver creates a viewer link resolver.
func NewResolver(baseURL string, arch archive.Archive, c cache.Cache) *Resolver {
	return &Resolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		archive: arch,
		cache:   c,
	}
}

// StudyLink returns the viewer URL for a single study. Returns
// archive.ErrStudyNotFound when the study does not exist.
func (r *Resolver) StudyLink(ctx context.Context, studyUID string) (string, error) {
	if err := r.checkExists(ctx, studyUID); err != nil {
		return "", err
	}
	return r.url(studyUID), nil
}

// ComparisonLink returns a viewer URL opening two or more studies side by
// side. Every study is verified; one missing study fails the whole link.
func (r *Resolver) ComparisonLink(ctx context.Context, studyUIDs []string) (string, error) {
	if len(studyUIDs) < 2 {
		return "", fmt.Errorf("%w: got %d", ErrComparisonNeedsTwo, len(studyUIDs))
	}
	for _, uid := range studyUIDs {
		if err := r.checkExists(ctx, uid); err != nil {
			return "", err
		}
	}
	return r.url(studyUIDs...), nil
}

// PatientLink returns a viewer URL opening every archive study for the
// given MRN. Unlike ComparisonLink a single study is acceptable here.
func (r *Resolver) PatientLink(ctx context.Context, mrn string) (string, error) {
	studies, err := r.archive.QueryPatientStudies(ctx, mrn)
	if err != nil {
		return "", err
	}
	if len(studies) == 0 {
		return "", fmt.Errorf("%w: no studies for patient", archive.ErrStudyNotFound)
	}

	uids := make([]string, 0, len(studies))
	for _, study := range studies {
		if study.MainTags.StudyInstanceUID != "" {
			uids = append(uids, study.MainTags.StudyInstanceUID)
		}
	}
	return r.url(uids...), nil
}

// checkExists verifies a study against the archive, with a short-lived
// cache so repeated link requests don't hammer the archive.
func (r *Resolver) checkExists(ctx context.Context, studyUID string) error {
	key := cache.CacheKey(cache.KindStudyExists, studyUID)
	if r.cache != nil {
		if _, err := r.cache.Get(ctx, key); err == nil {
			return nil
		}
	}

	if _, err := r.archive.GetStudy(ctx, studyUID); err != nil {
		return err
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, []byte("1"), existenceTTL); err != nil {
			log.Warn().Err(err).Str("study_uid", studyUID).Msg("Failed to cache study existence")
		}
	}
	return nil
}

func (r *Resolver) url(studyUIDs ...string) string {
	return fmt.Sprintf("%s/viewer?StudyInstanceUIDs=%s", r.baseURL, strings.Join(studyUIDs, ","))
}
