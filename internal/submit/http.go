// Package submit is the HTTP implementation of the coordinator's submit
// collaborator: one PATCH per field update, answered with the canonical
// record.
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"daily-work-tracker/internal/models"
)

// HTTPSubmitter PATCHes work item patches against the tracker API.
type HTTPSubmitter struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPSubmitter(baseURL string, timeout time.Duration) *HTTPSubmitter {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSubmitter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Submit sends the patch and decodes the server's canonical record.
func (s *HTTPSubmitter) Submit(ctx context.Context, recordID string, patch models.Patch) (models.WorkItem, error) {
	body, err := json.Marshal(patch)
	if err != nil {
		return models.WorkItem{}, fmt.Errorf("marshal patch: %w", err)
	}

	url := fmt.Sprintf("%s/workitems/%s", s.baseURL, recordID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		return models.WorkItem{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return models.WorkItem{}, fmt.Errorf("submit patch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.WorkItem{}, fmt.Errorf("submit patch: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var canonical models.WorkItem
	if err := json.NewDecoder(resp.Body).Decode(&canonical); err != nil {
		return models.WorkItem{}, fmt.Errorf("decode canonical record: %w", err)
	}
	return canonical, nil
}
