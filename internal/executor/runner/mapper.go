package runner

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/lei/config-hub/internal/executor"
)

// mapJobToReport converts a runner job response to a generic StatusReport
func mapJobToReport(job *jobResponse) *executor.StatusReport {
	report := &executor.StatusReport{
		Status:   job.Status,
		Progress: job.Progress,
		Error:    job.Error,
	}

	if job.Result != nil {
		report.Output = job.Result.Output
		report.Artifacts = job.Result.Artifacts
		report.Metrics = job.Result.Metrics
	}

	if t, err := time.Parse(time.RFC3339, job.CreatedAt); err == nil {
		report.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, job.UpdatedAt); err == nil {
		report.UpdatedAt = t
	}

	return report
}

// parseError converts HTTP error responses to executor errors
func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return executor.ErrJobNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return executor.ErrUnauthorized
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return executor.ErrServiceUnavailable
	default:
		var errResp struct {
			Error string `json:"error"`
		}

		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return &executor.ServiceError{
				Code:    resp.StatusCode,
				Message: errResp.Error,
			}
		}

		return &executor.ServiceError{
			Code:    resp.StatusCode,
			Message: string(body),
		}
	}
}
