package server

// ScanRequest is the POST /api/scan body.
type ScanRequest struct {
	URL string `json:"url" example:"https://example.com"`
}

// ScanAccepted is returned when a scan is started or already in flight.
type ScanAccepted struct {
	Status     string `json:"status" example:"started"`
	URL        string `json:"url" example:"https://example.com"`
	Message    string `json:"message,omitempty"`
	MonitorURL string `json:"monitor_url,omitempty" example:"/api/scan/status/https://example.com"`
}

// DeleteResponse acknowledges a report deletion.
type DeleteResponse struct {
	Status  string `json:"status" example:"success"`
	Message string `json:"message"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WSEvent is one message on the scan log stream.
type WSEvent struct {
	Type   string `json:"type"` // "log" | "status" | "error"
	Line   string `json:"line,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}
