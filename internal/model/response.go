package model

import "time"

// ListResponse is the standard envelope for list endpoints, wrapping results
// in a "resource" array with metadata.
type ListResponse struct {
	Resource []CredentialMeta `json:"resource"`
	Meta     *ResponseMeta    `json:"meta,omitempty"`
}

// ResponseMeta contains count and timing information for list responses.
type ResponseMeta struct {
	Count  int     `json:"count"`
	TookMs float64 `json:"took_ms"`
}

// IssueResponse is the body returned by key creation. KeySecret is the raw
// key, shown once.
type IssueResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	KeyPrefix string    `json:"key_prefix"`
	CreatedAt time.Time `json:"created_at"`
	KeySecret string    `json:"key_secret"`
}

// IdentityResponse is the body returned for a verified API key.
type IdentityResponse struct {
	OwnerID string `json:"owner_id"`
	KeyID   string `json:"key_id"`
}

// ErrorResponse is the standard envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
type ErrorDetail struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}
