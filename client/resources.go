package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// CreateAgent registers an agent.
func (c *Client) CreateAgent(ctx context.Context, req CreateAgentRequest) (Object, error) {
	return c.postObject(ctx, "/api/agents", req)
}

// ListAgents returns every agent visible to the session.
func (c *Client) ListAgents(ctx context.Context) ([]Object, error) {
	return c.getList(ctx, "/api/agents", nil)
}

// StoreMemory stores one memory record for an agent.
func (c *Client) StoreMemory(ctx context.Context, req StoreMemoryRequest) (Object, error) {
	return c.postObject(ctx, "/api/memory", req)
}

// GetMemory queries memory records for an agent. Results always come from the
// server; nothing is cached.
func (c *Client) GetMemory(ctx context.Context, q MemoryQuery) ([]Object, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	query := url.Values{}
	query.Set("agentId", q.AgentID)
	query.Set("limit", strconv.Itoa(limit))
	if q.Type != "" {
		query.Set("type", q.Type)
	}
	return c.getList(ctx, "/api/memory", query)
}

// GetMemoryByID fetches a single memory record.
func (c *Client) GetMemoryByID(ctx context.Context, id string) (Object, error) {
	return c.getObject(ctx, "/api/memory/"+escapeID(id), nil)
}

// DeleteMemory deletes a memory record and returns the server's acknowledgement.
func (c *Client) DeleteMemory(ctx context.Context, id string) (Object, error) {
	var out Object
	if err := c.do(ctx, request{method: http.MethodDelete, path: "/api/memory/" + escapeID(id)}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateSchema registers a named schema definition.
func (c *Client) CreateSchema(ctx context.Context, req CreateSchemaRequest) (Object, error) {
	return c.postObject(ctx, "/api/schemas", req)
}

// ListSchemas returns all schemas.
func (c *Client) ListSchemas(ctx context.Context) ([]Object, error) {
	return c.getList(ctx, "/api/schemas", nil)
}

// SchemaTemplates returns the server's built-in schema templates keyed by memory type.
func (c *Client) SchemaTemplates(ctx context.Context) (Object, error) {
	return c.getObject(ctx, "/api/schemas/templates", nil)
}

// AuditLogs lists audit log entries, newest first as ordered by the server.
func (c *Client) AuditLogs(ctx context.Context, q AuditLogQuery) ([]Object, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	if q.Offset > 0 {
		query.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.AgentID != "" {
		query.Set("agentId", q.AgentID)
	}
	if q.Action != "" {
		query.Set("action", q.Action)
	}
	return c.getList(ctx, "/api/audit-logs", query)
}

// AuditLog fetches a single audit log entry.
func (c *Client) AuditLog(ctx context.Context, id string) (Object, error) {
	return c.getObject(ctx, "/api/audit-logs/"+escapeID(id), nil)
}
