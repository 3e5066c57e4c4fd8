package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sweetpotato0/veriflow/pkg/logging"
)

var (
	// ErrClientClosed is returned when the MCP client has been closed.
	ErrClientClosed = errors.New("mcp client closed")
)

// Option configures optional MCP client behaviour.
type Option func(*clientConfig)

type clientConfig struct {
	implementation    sdkmcp.Implementation
	logger            *slog.Logger
	args              []string
	env               []string
	dir               string
	keepAlive         time.Duration
	terminateTimeout  time.Duration
	httpClient        *http.Client
	streamableRetries *int
}

// WithLogger configures logging for the MCP client.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *clientConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithCommandArgs configures additional arguments when launching an stdio MCP server.
func WithCommandArgs(args ...string) Option {
	return func(cfg *clientConfig) {
		cfg.args = append(cfg.args, args...)
	}
}

// WithCommandEnv appends environment variables when launching an stdio MCP server.
func WithCommandEnv(env ...string) Option {
	return func(cfg *clientConfig) {
		cfg.env = append(cfg.env, env...)
	}
}

// WithCommandDir sets the working directory for the stdio MCP server process.
func WithCommandDir(dir string) Option {
	return func(cfg *clientConfig) {
		cfg.dir = dir
	}
}

// WithKeepAlive configures periodic ping requests to keep the session healthy.
func WithKeepAlive(interval time.Duration) Option {
	return func(cfg *clientConfig) {
		cfg.keepAlive = interval
	}
}

// WithTerminateTimeout sets how long to wait for graceful server shutdown before sending SIGTERM.
func WithTerminateTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) {
		cfg.terminateTimeout = d
	}
}

// WithHTTPClient supplies a custom HTTP client for the streamable transport.
func WithHTTPClient(client *http.Client) Option {
	return func(cfg *clientConfig) {
		cfg.httpClient = client
	}
}

// WithStreamableMaxRetries overrides the reconnect retry count of the streamable transport.
func WithStreamableMaxRetries(retries int) Option {
	return func(cfg *clientConfig) {
		cfg.streamableRetries = &retries
	}
}

// ToolError is returned when the MCP server reports an error response.
type ToolError struct {
	Name    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("mcp tool %s: %s", e.Name, e.Message)
}

// Client wraps the MCP SDK client session used to reach a remote search tool.
type Client struct {
	session *sdkmcp.ClientSession
	logger  *slog.Logger
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewStdioClient launches an MCP server command and connects over stdio.
func NewStdioClient(ctx context.Context, command string, opts ...Option) (*Client, error) {
	if command == "" {
		return nil, errors.New("mcp: command cannot be empty")
	}
	cfg := buildConfig(opts)

	cmd := exec.Command(command, cfg.args...)
	if cfg.dir != "" {
		cmd.Dir = cfg.dir
	}
	if len(cfg.env) > 0 {
		cmd.Env = append(os.Environ(), cfg.env...)
	}
	cmd.Stderr = logWriter{logger: cfg.logger}

	return connect(ctx, &sdkmcp.CommandTransport{
		Command:           cmd,
		TerminateDuration: cfg.terminateTimeout,
	}, cfg)
}

// NewStreamableClient connects to an MCP server over the streamable HTTP transport.
func NewStreamableClient(ctx context.Context, endpoint string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("mcp: endpoint cannot be empty")
	}
	cfg := buildConfig(opts)

	transport := &sdkmcp.StreamableClientTransport{Endpoint: endpoint}
	if cfg.httpClient != nil {
		transport.HTTPClient = cfg.httpClient
	}
	if cfg.streamableRetries != nil {
		transport.MaxRetries = *cfg.streamableRetries
	}
	return connect(ctx, transport, cfg)
}

// NewClient connects over an arbitrary transport.
func NewClient(ctx context.Context, transport sdkmcp.Transport, opts ...Option) (*Client, error) {
	return connect(ctx, transport, buildConfig(opts))
}

func connect(ctx context.Context, transport sdkmcp.Transport, cfg clientConfig) (*Client, error) {
	client := &Client{
		logger: cfg.logger,
		done:   make(chan struct{}),
	}

	sdkClient := sdkmcp.NewClient(&cfg.implementation, &sdkmcp.ClientOptions{
		LoggingMessageHandler: func(_ context.Context, req *sdkmcp.LoggingMessageRequest) {
			if req != nil && req.Params != nil {
				client.logger.Debug("mcp server log", "level", req.Params.Level, "data", req.Params.Data)
			}
		},
		KeepAlive: cfg.keepAlive,
	})

	session, err := sdkClient.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: connect failed: %w", err)
	}
	client.session = session

	go client.monitorSession()
	return client, nil
}

// CallTool invokes a remote MCP tool and returns the textual response.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if c.session == nil {
		return "", ErrClientClosed
	}

	result, err := c.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", err
	}

	message := normalizeContent(result.Content)
	if result.IsError {
		if message == "" {
			message = "tool returned error without message"
		}
		return "", &ToolError{Name: name, Message: message}
	}
	return message, nil
}

// HasTool reports whether the server exposes a tool called name.
func (c *Client) HasTool(ctx context.Context, name string) (bool, error) {
	if c.session == nil {
		return false, ErrClientClosed
	}
	params := &sdkmcp.ListToolsParams{}
	for {
		res, err := c.session.ListTools(ctx, params)
		if err != nil {
			return false, err
		}
		for _, tool := range res.Tools {
			if tool != nil && tool.Name == name {
				return true, nil
			}
		}
		if res.NextCursor == "" {
			return false, nil
		}
		params.Cursor = res.NextCursor
	}
}

// Close terminates the MCP client and underlying transport.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.session != nil {
			c.closeErr = c.session.Close()
		}
		close(c.done)
	})
	return c.closeErr
}

// Done returns a channel that is closed when the client shuts down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) monitorSession() {
	if err := c.session.Wait(); err != nil && !errors.Is(err, sdkmcp.ErrConnectionClosed) {
		c.logger.Warn("mcp session ended with error", "error", err)
	}
	_ = c.Close()
}

func buildConfig(opts []Option) clientConfig {
	cfg := clientConfig{
		implementation: sdkmcp.Implementation{
			Name:    "veriflow",
			Version: "0.1.0",
		},
		logger: logging.WithComponent("mcp_search"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

type logWriter struct {
	logger *slog.Logger
}

func (w logWriter) Write(p []byte) (int, error) {
	if msg := strings.TrimSpace(string(p)); msg != "" {
		w.logger.Debug("mcp server stderr", "line", msg)
	}
	return len(p), nil
}

func normalizeContent(content []sdkmcp.Content) string {
	if len(content) == 0 {
		return ""
	}

	parts := make([]string, 0, len(content))
	for _, c := range content {
		switch v := c.(type) {
		case *sdkmcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := c.MarshalJSON(); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
