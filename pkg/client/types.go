package client

import "time"

// CreateResponse is the body of POST /environments/:target.
type CreateResponse struct {
	Success        bool   `json:"success"`
	ThemePath      string `json:"theme_path"`
	ScreenshotsDir string `json:"screenshots_dir"`
	CurrentRound   int    `json:"current_round"`
	FrontendURL    string `json:"frontend_url"`
	Status         string `json:"status,omitempty"`
	Message        string `json:"message"`
}

// CaptureResponse is the body of POST /environments/:target/screenshots.
type CaptureResponse struct {
	Success        bool     `json:"success"`
	RoundNumber    int      `json:"round_number"`
	Screenshots    []string `json:"screenshots"`
	ScreenshotsDir string   `json:"screenshots_dir"`
	Message        string   `json:"message"`
	RunID          string   `json:"run_id,omitempty"`
}

// DeleteResponse is the body of DELETE /themes/:target.
type DeleteResponse struct {
	Success   bool   `json:"success"`
	Deleted   bool   `json:"deleted"`
	ThemePath string `json:"theme_path"`
	Message   string `json:"message"`
}

// ServiceStatus is one entry of StatusResponse.Services.
type ServiceStatus struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	URL       string    `json:"url"`
	LastError string    `json:"last_error,omitempty"`
}

type StatusResponse struct {
	Running         bool            `json:"running"`
	BackendHealthy  bool            `json:"backend_healthy"`
	FrontendHealthy bool            `json:"frontend_healthy"`
	Services        []ServiceStatus `json:"services"`
}

// CaptureRun is one recorded capture from GET /captures.
type CaptureRun struct {
	ID         string    `json:"id"`
	Target     string    `json:"target"`
	Round      int       `json:"round"`
	Artifacts  int       `json:"artifacts"`
	Success    bool      `json:"success"`
	Message    string    `json:"message"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
