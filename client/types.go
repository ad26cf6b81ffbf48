package client

import (
	"encoding/json"
	"fmt"
)

// Object is a decoded JSON object returned by the server. Entities are opaque to the
// client; fields are passed through exactly as received.
type Object map[string]any

// ID returns the server-assigned identifier, reading "id" and then "_id".
func (o Object) ID() string {
	if id := o.String("id"); id != "" {
		return id
	}
	return o.String("_id")
}

// String returns the field rendered as a string, or "" when absent.
func (o Object) String(key string) string {
	switch v := o[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// AuthResponse is the body of a register, login or refresh call.
type AuthResponse struct {
	// AccessToken and RefreshToken are empty when the server did not issue a pair,
	// which is normal for register on servers that require an explicit login.
	AccessToken  string
	RefreshToken string
	Raw          Object
}

// CreateAgentRequest is the body of CreateAgent. Empty optional fields are not sent.
type CreateAgentRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// StoreMemoryRequest is the body of StoreMemory.
type StoreMemoryRequest struct {
	AgentID  string         `json:"agentId"`
	Type     string         `json:"type"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MemoryQuery filters GetMemory. Limit defaults to DefaultLimit; an empty Type is
// not sent.
type MemoryQuery struct {
	AgentID string
	Type    string
	Limit   int
}

// CreateSchemaRequest is the body of CreateSchema.
type CreateSchemaRequest struct {
	Name        string         `json:"name"`
	Schema      map[string]any `json:"schema"`
	Description string         `json:"description,omitempty"`
}

// AuditLogQuery filters AuditLogs. Zero values are not sent, except Limit which
// defaults to DefaultLimit.
type AuditLogQuery struct {
	Limit   int
	Offset  int
	AgentID string
	Action  string
}

// DefaultLimit bounds list calls when the caller gives no limit.
const DefaultLimit = 100
