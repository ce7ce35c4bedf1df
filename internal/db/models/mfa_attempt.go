package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// MfaStep is one entry of an attempt's ordered pipeline
type MfaStep struct {
	Name      VerificationMethod `json:"name"`
	Completed bool               `json:"completed"`
	Type      MethodType         `json:"type"`
	Enrolled  bool               `json:"enrolled"`
}

// MfaSteps is the JSONB step list of an attempt. Its order is fixed at creation.
type MfaSteps []MfaStep

// Value implements driver.Valuer
func (s MfaSteps) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner
func (s *MfaSteps) Scan(src interface{}) error {
	return scanJSON(src, s)
}

// AuthMetadata carries what the caller asked for at login so the final token
// can be minted once every step is complete.
type AuthMetadata struct {
	TokenName string `json:"token_name,omitempty"`
	AuthType  string `json:"auth_type,omitempty"`
	WithUser  bool   `json:"with_user,omitempty"`
}

// Value implements driver.Valuer
func (m AuthMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *AuthMetadata) Scan(src interface{}) error {
	return scanJSON(src, m)
}

// MfaAttempt tracks one login's progress through its verification steps
type MfaAttempt struct {
	ID           string       `db:"id"`
	UserID       string       `db:"user_id"`
	TokenHash    string       `db:"token_hash"`
	Steps        MfaSteps     `db:"steps"`
	AuthMetadata AuthMetadata `db:"auth_metadata"`
	ExpiresAt    time.Time    `db:"expires_at"`
	CreatedAt    time.Time    `db:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at"`
}

// CurrentStepIndex returns the index of the first incomplete step, or -1
func (a *MfaAttempt) CurrentStepIndex() int {
	for i, step := range a.Steps {
		if !step.Completed {
			return i
		}
	}
	return -1
}

// CurrentStep returns the first incomplete step, or nil when all are done
func (a *MfaAttempt) CurrentStep() *MfaStep {
	i := a.CurrentStepIndex()
	if i < 0 {
		return nil
	}
	step := a.Steps[i]
	return &step
}

// AllStepsCompleted reports whether the pipeline reached its terminal state
func (a *MfaAttempt) AllStepsCompleted() bool {
	return a.CurrentStepIndex() < 0
}

// IsExpired reports whether the attempt is past its deadline
func (a *MfaAttempt) IsExpired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("cannot scan %T into %T", src, dst)
	}
}
