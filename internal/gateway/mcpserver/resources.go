package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const resourceAgentState = "autonomy://agent/state"

func (s *MCPServer) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         resourceAgentState,
		Name:        "Agent State",
		Description: "Current stage, budget, and safety state for an agent (query by ?agent_id=)",
		MIMEType:    "application/json",
	}, s.handleAgentStateResource)
}

func (s *MCPServer) handleAgentStateResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := resourceAgentState
	if req != nil && req.Params != nil && req.Params.URI != "" {
		uri = req.Params.URI
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid resource uri: %w", err)
	}
	agentID := strings.TrimSpace(parsed.Query().Get("agent_id"))
	if agentID == "" {
		return nil, fmt.Errorf("agent_id query parameter is required")
	}
	if !s.orch.HasState(agentID) {
		return nil, fmt.Errorf("no state for agent %q", agentID)
	}

	state, err := s.orch.LoadState(agentID, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{URI: uri, MIMEType: "application/json", Text: string(data)},
		},
	}, nil
}
