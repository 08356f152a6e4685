package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

const jobsURI = "survey://jobs"

func (s *Server) registerResources() {
	// ── survey://jobs ──────────────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		jobsURI,
		"Aggregation Jobs",
		mcp.WithResourceDescription("Configured survey aggregation jobs"),
		mcp.WithMIMEType("application/json"),
	), s.handleJobsResource)
}

func (s *Server) handleJobsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonResource(ctx, jobsURI, s.jobSummaries())
}
