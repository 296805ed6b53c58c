package core

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Resource string `json:"resource"`
}

// ListFilesResult is the response of GET /files.
type ListFilesResult struct {
	Container string   `json:"container"`
	Keys      []string `json:"keys"`
}

type HealthStatus struct {
	Status string `json:"status"`
}
