package models

import "github.com/shyim/perfaudit/internal/scheduler"

type ErrorResponse struct {
	Error   string  `json:"error"`
	Details *string `json:"details,omitempty"`
}

// CheckResponse is the outcome of a diagnostic run over every site.
type CheckResponse struct {
	HasErrorInOutput bool     `json:"hasErrorInOutput"`
	LogOutput        []string `json:"logOutput"`
}

// NewCheckResponse joins the captured log lines of every site report.
func NewCheckResponse(reports []*scheduler.Report) CheckResponse {
	resp := CheckResponse{LogOutput: []string{}}
	for _, r := range reports {
		resp.LogOutput = append(resp.LogOutput, r.Lines...)
		if r.HasProblems || r.Error != "" {
			resp.HasErrorInOutput = true
		}
	}
	return resp
}

type AuditResponse struct {
	Report *scheduler.Report `json:"report"`
}

type TaskFlagResponse struct {
	Cleared bool `json:"cleared"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
