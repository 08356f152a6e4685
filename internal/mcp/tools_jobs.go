package mcpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"survey/internal/domain"
	"survey/internal/etl"
	"survey/internal/schema"
)

// jobSummary is the agent-facing view of a configured job.
type jobSummary struct {
	Name     string      `json:"name"`
	Mode     etl.JobMode `json:"mode"`
	Source   string      `json:"source"`
	Output   string      `json:"output"`
	Schedule string      `json:"schedule,omitempty"`
	Watch    string      `json:"watch,omitempty"`
	// RunningSince is set while a run of the job is in progress.
	RunningSince *time.Time `json:"runningSince,omitempty"`
}

// columnSummary describes one survey column.
type columnSummary struct {
	Position int    `json:"position"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
}

type schemaSummary struct {
	Job      string          `json:"job"`
	Title    string          `json:"title,omitempty"`
	Columns  []columnSummary `json:"columns"`
	Reserved []string        `json:"reserved"`
}

func (s *Server) registerJobTools() {
	s.mcp.AddTool(mcp.NewTool("list_jobs",
		mcp.WithDescription("List the configured survey aggregation jobs"),
	), s.handleListJobs)

	s.mcp.AddTool(mcp.NewTool("list_sources",
		mcp.WithDescription("List available response source types with their configuration fields"),
	), s.handleListSources)

	s.mcp.AddTool(mcp.NewTool("run_job",
		mcp.WithDescription("Run an aggregation job. Overwrites the job's Markdown, CSV and JSON outputs."),
		mcp.WithString("name", mcp.Description("Job name (use list_jobs to see them)"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleRunJob)

	s.mcp.AddTool(mcp.NewTool("describe_schema",
		mcp.WithDescription("Show the resolved question columns of a survey job, in output order"),
		mcp.WithString("name", mcp.Description("Job name"), mcp.Required()),
	), s.handleDescribeSchema)

	s.mcp.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List recent runs, newest first"),
		mcp.WithString("name", mcp.Description("Job name (optional, defaults to all jobs)")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 20)")),
	), s.handleListRuns)
}

func (s *Server) jobSummaries() []jobSummary {
	jobs := s.stitch.ListJobs()
	out := make([]jobSummary, len(jobs))
	for i, j := range jobs {
		out[i] = jobSummary{
			Name:     j.Name,
			Mode:     j.Mode,
			Source:   j.Source,
			Output:   j.Output,
			Schedule: j.Schedule,
			Watch:    j.Watch,
		}
		if since, ok := s.stitch.RunningSince(j.Name); ok {
			out[i].RunningSince = &since
		}
	}
	return out
}

func (s *Server) handleListJobs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.jobSummaries())
}

func (s *Server) handleListSources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.stitch.ListSources())
}

func (s *Server) handleRunJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := requireString(req, "name")
	if err != nil {
		return nil, err
	}
	result, err := s.stitch.RunJob(ctx, name)
	if err != nil {
		s.logger.Warn("run_job failed", zap.String("job", name), zap.Error(err))
		if result == nil {
			return nil, fmt.Errorf("run job: %w", err)
		}
	}
	return jsonResult(result)
}

func (s *Server) handleDescribeSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := requireString(req, "name")
	if err != nil {
		return nil, err
	}
	job, err := s.stitch.GetJob(name)
	if err != nil {
		return nil, err
	}
	if job.Mode == etl.ModeCorpus {
		return textResult(fmt.Sprintf("Job %s is a corpus job: its columns are discovered from the records at run time.", name)), nil
	}

	defs, title, err := job.Definitions()
	if err != nil {
		return nil, err
	}
	style, err := schema.ParseLabelStyle(string(job.Labels))
	if err != nil {
		return nil, err
	}
	labels := schema.Labels(defs, style)

	summary := schemaSummary{Job: name, Title: title, Reserved: append([]string(nil), domain.ReservedColumns...)}
	for i, d := range defs {
		summary.Columns = append(summary.Columns, columnSummary{
			Position: d.Position,
			Label:    labels[i],
			Type:     d.Type,
			Required: d.Required,
		})
	}
	return jsonResult(summary)
}

func (s *Server) handleListRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	limit := req.GetInt("limit", 20)
	runs, err := s.stitch.ListRuns(ctx, name, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		return textResult("No runs recorded."), nil
	}
	return jsonResult(runs)
}
