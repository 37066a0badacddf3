// Package mcpserver exposes the orchestrator's stable API (spec.md §6)
// as MCP tools/resources, grounded on the teacher's
// internal/controlplane/mcpserver/server.go.
package mcpserver

import (
	"net/http"

	"github.com/go-logr/logr"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/driftloop/autonomy/internal/orchestrator"
)

// Version is injected from the daemon build metadata.
var Version = "dev"

// MCPServer exposes autonomy-engine orchestration as MCP tools/resources.
type MCPServer struct {
	server  *mcp.Server
	handler http.Handler
	orch    *orchestrator.Orchestrator
	log     logr.Logger
}

// New creates and wires the MCP server surface for the autonomy engine.
func New(orch *orchestrator.Orchestrator, log logr.Logger) *MCPServer {
	implVersion := Version
	if implVersion == "" {
		implVersion = "dev"
	}

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "autonomy",
		Version: implVersion,
	}, nil)

	m := &MCPServer{
		server: srv,
		orch:   orch,
		log:    log,
	}

	m.registerTools()
	m.registerResources()
	m.handler = mcp.NewSSEHandler(func(_ *http.Request) *mcp.Server {
		return m.server
	}, nil)

	return m
}

// Handler returns the HTTP SSE transport handler mounted at /mcp.
func (s *MCPServer) Handler() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	return s.handler
}
