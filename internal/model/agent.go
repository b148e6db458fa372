package model

import "time"

// Agent is a workspace-owned conversational agent exposed through the
// public v1 API. The reply-generation backend is an external collaborator;
// the gateway only needs the agent's identity and ownership.
type Agent struct {
	ID          string    `json:"id" db:"id"`
	WorkspaceID string    `json:"-" db:"workspace_id"`
	Name        string    `json:"name" db:"name"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// KnowledgeDocument is a document attached to an agent's knowledge base.
type KnowledgeDocument struct {
	ID          string    `json:"id" db:"id"`
	AgentID     string    `json:"agent_id" db:"agent_id"`
	WorkspaceID string    `json:"-" db:"workspace_id"`
	Title       string    `json:"title" db:"title"`
	Content     string    `json:"content" db:"content"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// MCPToken authenticates MCP clients. Tokens use the same hash-only storage
// scheme as API keys but carry an "mcp-" prefix and no scopes; MCP tools
// are read-only.
type MCPToken struct {
	ID          string     `json:"id" db:"id"`
	WorkspaceID string     `json:"workspace_id" db:"workspace_id"`
	TokenHash   string     `json:"-" db:"token_hash"`
	Prefix      string     `json:"prefix" db:"prefix"`
	IsActive    bool       `json:"is_active" db:"is_active"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}
