package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const uploadTimeout = 60 * time.Second

// Config holds connection settings for the archive.
type Config struct {
	BaseURL  string
	Username string
	Password string
}

// Client talks to the archive's REST API.
type Client struct {
	baseURL  string
	username string
	password string
	client   *http.Client
}

// NewClient creates an archive client.
func NewClient(cfg Config) *Client {
	return &Client{
		baseURL:  cfg.BaseURL,
		username: cfg.Username,
		password: cfg.Password,
		client: &http.Client{
			Timeout: uploadTimeout,
		},
	}
}

// UploadInstance transmits one file to the archive, then resolves the
// stored identity and the owning study's counters.
func (c *Client) UploadInstance(ctx context.Context, data []byte) (*IngestResult, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/instances", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.addAuth(req)
	req.Header.Set("Content-Type", "application/dicom")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("archive returned status %d: %s", resp.StatusCode, string(body))
	}

	var upload uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&upload); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	if upload.ParentStudy == "" {
		return nil, fmt.Errorf("archive did not resolve a study for the uploaded instance")
	}

	tags, err := c.instanceTags(ctx, upload.ID)
	if err != nil {
		return nil, err
	}
	stats, err := c.studyStatistics(ctx, upload.ParentStudy)
	if err != nil {
		return nil, err
	}

	result := &IngestResult{
		InstanceID:        upload.ID,
		ArchiveStudyID:    upload.ParentStudy,
		StudyInstanceUID:  tags["StudyInstanceUID"],
		SeriesInstanceUID: tags["SeriesInstanceUID"],
		SOPInstanceUID:    tags["SOPInstanceUID"],
		NumberOfSeries:    stats.CountSeries,
		NumberOfInstances: stats.CountInstances,
	}

	log.Debug().
		Str("instance_id", result.InstanceID).
		Str("study_uid", result.StudyInstanceUID).
		Int("instances", result.NumberOfInstances).
		Msg("Instance stored in archive")

	return result, nil
}

// GetStudy looks up a study by StudyInstanceUID.
func (c *Client) GetStudy(ctx context.Context, studyUID string) (*StudyDetails, error) {
	studies, err := c.find(ctx, map[string]string{"StudyInstanceUID": studyUID})
	if err != nil {
		return nil, err
	}
	if len(studies) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrStudyNotFound, studyUID)
	}
	return &studies[0], nil
}

// QueryPatientStudies returns all studies whose PatientID matches the MRN.
func (c *Client) QueryPatientStudies(ctx context.Context, mrn string) ([]StudyDetails, error) {
	return c.find(ctx, map[string]string{"PatientID": mrn})
}

// QueryByAccession finds the study carrying an accession number.
func (c *Client) QueryByAccession(ctx context.Context, accession string) (*StudyDetails, error) {
	studies, err := c.find(ctx, map[string]string{"AccessionNumber": accession})
	if err != nil {
		return nil, err
	}
	if len(studies) == 0 {
		return nil, fmt.Errorf("%w: accession %s", ErrStudyNotFound, accession)
	}
	return &studies[0], nil
}

// DeleteStudy removes a study by archive internal ID.
func (c *Client) DeleteStudy(ctx context.Context, archiveStudyID string) error {
	req, err := http.NewRequestWithContext(ctx, "DELETE", c.baseURL+"/studies/"+archiveStudyID, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.addAuth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete study: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrStudyNotFound, archiveStudyID)
	default:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("archive returned status %d: %s", resp.StatusCode, string(body))
	}
}

// GetThumbnail returns the study preview image.
func (c *Client) GetThumbnail(ctx context.Context, archiveStudyID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/studies/"+archiveStudyID+"/preview", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.addAuth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get thumbnail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrStudyNotFound, archiveStudyID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("archive returned status %d: %s", resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}

// Statistics returns archive-wide counters.
func (c *Client) Statistics(ctx context.Context) (*SystemStatistics, error) {
	var stats SystemStatistics
	if err := c.getJSON(ctx, "/statistics", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// HealthCheck verifies connectivity via the archive's system endpoint.
func (c *Client) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	var system struct {
		Version string `json:"Version"`
	}
	if err := c.getJSON(ctx, "/system", &system); err != nil {
		return &HealthStatus{Healthy: false, Error: err.Error()}, nil
	}
	return &HealthStatus{Healthy: true, Version: system.Version}, nil
}

func (c *Client) find(ctx context.Context, query map[string]string) ([]StudyDetails, error) {
	body, err := json.Marshal(findRequest{Level: "Study", Query: query, Expand: true})
	if err != nil {
		return nil, fmt.Errorf("failed to encode find request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/tools/find", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.addAuth(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute find: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("archive returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var studies []StudyDetails
	if err := json.NewDecoder(resp.Body).Decode(&studies); err != nil {
		return nil, fmt.Errorf("failed to decode find response: %w", err)
	}
	return studies, nil
}

func (c *Client) instanceTags(ctx context.Context, instanceID string) (map[string]string, error) {
	var tags map[string]string
	if err := c.getJSON(ctx, "/instances/"+instanceID+"/simplified-tags", &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

func (c *Client) studyStatistics(ctx context.Context, archiveStudyID string) (*studyStatistics, error) {
	var stats studyStatistics
	if err := c.getJSON(ctx, "/studies/"+archiveStudyID+"/statistics", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.addAuth(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("archive returned status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) addAuth(req *http.Request) {
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
}
