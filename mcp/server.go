package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sweetpotato0/veriflow/pkg/logging"
	"github.com/sweetpotato0/veriflow/rag/corrective"
	"github.com/sweetpotato0/veriflow/runner"
)

// ToolName is the name of the tool exposed to MCP clients.
const ToolName = "verified_answer"

// Version is advertised to MCP clients during initialization.
const Version = "0.1.0"

// Server exposes the verification loop as an MCP tool.
type Server struct {
	server *sdkmcp.Server
	runner *runner.Runner
	logger *slog.Logger
}

// AnswerArgs are the verified_answer tool arguments.
type AnswerArgs struct {
	Question      string `json:"question" jsonschema:"The question to answer from retrieved evidence"`
	MaxIterations int    `json:"max_iterations,omitempty" jsonschema:"Optional bound on retrieve/verify attempts"`
}

// AnswerOutput is the structured tool output.
type AnswerOutput struct {
	Status         string   `json:"status"`
	Verified       bool     `json:"verified"`
	IterationsUsed int      `json:"iterations_used"`
	Failure        string   `json:"failure,omitempty"`
	Sources        []string `json:"sources,omitempty"`
}

// NewServer registers the verified_answer tool backed by r.
func NewServer(r *runner.Runner) *Server {
	s := &Server{
		server: sdkmcp.NewServer(&sdkmcp.Implementation{
			Name:    "veriflow",
			Version: Version,
			Title:   "VeriFlow verified answers",
		}, nil),
		runner: r,
		logger: logging.WithComponent("mcp_server"),
	}

	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        ToolName,
		Description: "Answer a question from web or knowledge-base evidence. The answer is checked for grounding and the search query is refined until it is supported or the attempt bound is reached.",
	}, s.handleAnswer)

	return s
}

func (s *Server) handleAnswer(ctx context.Context, req *sdkmcp.CallToolRequest, a AnswerArgs) (*sdkmcp.CallToolResult, AnswerOutput, error) {
	question := strings.TrimSpace(a.Question)
	if question == "" {
		return nil, AnswerOutput{}, fmt.Errorf("question is required")
	}
	if a.MaxIterations < 0 {
		return nil, AnswerOutput{}, fmt.Errorf("max_iterations cannot be negative")
	}

	var opts []corrective.RunOption
	if a.MaxIterations > 0 {
		opts = append(opts, corrective.MaxIterations(a.MaxIterations))
	}

	res, err := s.runner.Ask(ctx, question, opts...)
	if res == nil {
		if err == nil {
			err = errors.New("no result")
		}
		return nil, AnswerOutput{}, err
	}
	if err != nil {
		s.logger.Warn("verified_answer failed", "session_id", res.SessionID, "failure", res.Failure, "error", err)
	}

	out := AnswerOutput{
		Status:         string(res.Status),
		Verified:       res.Verified,
		IterationsUsed: res.IterationsUsed,
		Failure:        string(res.Failure),
	}
	for _, item := range res.Evidence {
		out.Sources = append(out.Sources, item.Label())
	}

	text := res.Answer
	if err != nil {
		text = fmt.Sprintf("The question could not be answered (%s): %v", res.Failure, err)
	}
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: text}},
		IsError: err != nil,
	}, out, nil
}

// ServeStdio serves MCP over stdin/stdout until ctx is done or the client disconnects.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.logger.Info("mcp server listening on stdio")
	return s.server.Run(ctx, &sdkmcp.StdioTransport{})
}

// HTTPHandler returns the streamable HTTP handler for the server.
func (s *Server) HTTPHandler() http.Handler {
	return sdkmcp.NewStreamableHTTPHandler(func(*http.Request) *sdkmcp.Server {
		return s.server
	}, nil)
}

// Connect serves a single session over transport, e.g. in-memory transports in tests.
func (s *Server) Connect(ctx context.Context, transport sdkmcp.Transport) (*sdkmcp.ServerSession, error) {
	return s.server.Connect(ctx, transport, nil)
}
