package handlers

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"Something went wrong"`
	Details string `json:"details,omitempty" example:"page id must match [A-Za-z0-9_-]+"`
}

// HealthResponse is returned by the liveness check
type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}
