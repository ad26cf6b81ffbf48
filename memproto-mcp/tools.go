package main

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"memproto/client"
)

type mcpNoArgs struct{}

type mcpCreateAgentArgs struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

type mcpStoreMemoryArgs struct {
	AgentID  string         `json:"agent_id"`
	Type     string         `json:"type"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type mcpGetMemoryArgs struct {
	AgentID string  `json:"agent_id"`
	Type    *string `json:"type,omitempty"`
	Limit   *int    `json:"limit,omitempty"`
}

type mcpDeleteMemoryArgs struct {
	MemoryID string `json:"memory_id"`
}

func newServer(b *bridge) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "memproto-mcp",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "memproto_health",
		Description: "Check that the memory server is reachable",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args mcpNoArgs) (*mcp.CallToolResult, any, error) {
		var health client.Object
		err := b.call(ctx, "memproto_health", func() (err error) {
			health, err = b.cl.Health(ctx)
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		return jsonToolResult(health)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "memproto_list_agents",
		Description: "List the agents owned by the connected account",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args mcpNoArgs) (*mcp.CallToolResult, any, error) {
		var agents []client.Object
		err := b.call(ctx, "memproto_list_agents", func() (err error) {
			agents, err = b.cl.ListAgents(ctx)
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		return jsonToolResult(map[string]any{"agents": agents})
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "memproto_create_agent",
		Description: "Register a new agent",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args mcpCreateAgentArgs) (*mcp.CallToolResult, any, error) {
		name := strings.TrimSpace(args.Name)
		if name == "" {
			return nil, nil, errors.New("name is required")
		}
		in := client.CreateAgentRequest{
			Name:         name,
			Description:  strings.TrimSpace(args.Description),
			Capabilities: args.Capabilities,
		}
		var agent client.Object
		err := b.call(ctx, "memproto_create_agent", func() (err error) {
			agent, err = b.cl.CreateAgent(ctx, in)
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		return jsonToolResult(agent)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "memproto_store_memory",
		Description: "Store a memory record for an agent",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args mcpStoreMemoryArgs) (*mcp.CallToolResult, any, error) {
		agentID := strings.TrimSpace(args.AgentID)
		memType := strings.TrimSpace(args.Type)
		if agentID == "" || memType == "" || args.Content == "" {
			return nil, nil, errors.New("agent_id, type and content are required")
		}
		in := client.StoreMemoryRequest{
			AgentID:  agentID,
			Type:     memType,
			Content:  args.Content,
			Metadata: args.Metadata,
		}
		var memory client.Object
		err := b.call(ctx, "memproto_store_memory", func() (err error) {
			memory, err = b.cl.StoreMemory(ctx, in)
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		return jsonToolResult(memory)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "memproto_get_memory",
		Description: "Query an agent's memories, optionally by type",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args mcpGetMemoryArgs) (*mcp.CallToolResult, any, error) {
		q := client.MemoryQuery{AgentID: strings.TrimSpace(args.AgentID)}
		if q.AgentID == "" {
			return nil, nil, errors.New("agent_id is required")
		}
		if args.Type != nil {
			q.Type = strings.TrimSpace(*args.Type)
		}
		if args.Limit != nil {
			if *args.Limit <= 0 {
				return nil, nil, errors.New("invalid limit value")
			}
			q.Limit = *args.Limit
		}
		var memories []client.Object
		err := b.call(ctx, "memproto_get_memory", func() (err error) {
			memories, err = b.cl.GetMemory(ctx, q)
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		return jsonToolResult(map[string]any{"memories": memories})
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "memproto_delete_memory",
		Description: "Delete a memory record by id",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args mcpDeleteMemoryArgs) (*mcp.CallToolResult, any, error) {
		id := strings.TrimSpace(args.MemoryID)
		if id == "" {
			return nil, nil, errors.New("memory_id is required")
		}
		var res client.Object
		err := b.call(ctx, "memproto_delete_memory", func() (err error) {
			res, err = b.cl.DeleteMemory(ctx, id)
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		if res == nil {
			res = client.Object{"deleted": id}
		}
		return jsonToolResult(res)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "memproto_list_schemas",
		Description: "List the memory schemas defined by the connected account",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args mcpNoArgs) (*mcp.CallToolResult, any, error) {
		var schemas []client.Object
		err := b.call(ctx, "memproto_list_schemas", func() (err error) {
			schemas, err = b.cl.ListSchemas(ctx)
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		return jsonToolResult(map[string]any{"schemas": schemas})
	})

	return server
}

func jsonToolResult(v any) (*mcp.CallToolResult, any, error) {
	out, err := toJSONText(v)
	if err != nil {
		return nil, nil, err
	}
	return textToolResult(out), nil, nil
}

func textToolResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func toJSONText(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
