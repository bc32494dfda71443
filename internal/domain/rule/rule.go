package rule

import (
	"encoding/json"
	"time"
)

// Match narrows which events a rule fires for. A nil field matches any
// value (wildcard); a non-nil field must equal the event's field exactly.
type Match struct {
	Source *string `json:"source,omitempty"`
	Type   *string `json:"type,omitempty"`
}

type Rule struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	Match     Match     `json:"match"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Action is one ordered step of a rule: what kind of job to create and the
// template config to render against the event context.
type Action struct {
	ID      string          `json:"id"`
	RuleID  string          `json:"ruleId"`
	Kind    string          `json:"kind"` // EMAIL | WEBHOOK
	Config  json.RawMessage `json:"config"`
	OrderNo int             `json:"orderNo"`
}

// WithActions bundles a rule and its ordered actions, the shape the admin
// API and the fan-out consumer both want.
type WithActions struct {
	Rule
	Actions []Action `json:"actions"`
}

type CreateRequest struct {
	Name    string          `json:"name" binding:"required"`
	Enabled bool            `json:"enabled"`
	Match   Match           `json:"match"`
	Actions []ActionRequest `json:"actions"`
}

type ActionRequest struct {
	Kind    string          `json:"kind" binding:"required,oneof=EMAIL WEBHOOK"`
	Config  json.RawMessage `json:"config" binding:"required"`
	OrderNo int             `json:"orderNo"`
}

type UpdateRequest struct {
	Name    *string         `json:"name,omitempty"`
	Enabled *bool           `json:"enabled,omitempty"`
	Match   *Match          `json:"match,omitempty"`
	Actions []ActionRequest `json:"actions,omitempty"`
}
