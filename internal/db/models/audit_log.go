package models

import "time"

// AuditLog records one successful state-changing request
type AuditLog struct {
	ID         string                 `json:"id"`
	UserID     *string                `json:"user_id,omitempty"`    // nil for API key callers
	APIKeyID   *string                `json:"api_key_id,omitempty"` // nil for bearer callers
	Action     string                 `json:"action"`               // "POST /api/v1/auth/tokens/invalidate"
	AuthMethod *string                `json:"auth_method,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"` // JSONB: route params, status
	IPAddress  *string                `json:"ip_address,omitempty"`
	RequestID  *string                `json:"request_id,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}
