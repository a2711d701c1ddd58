// Package server talks to a long-lived `cmake -E server` process. The wire format is
// JSON messages wrapped between magic bracket lines, written to the child's stdin and
// read from its stdout. One request is in flight at a time; progress and message
// traffic interleaved with a reply is forwarded to an optional listener.
package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/cmakekit/cmakekit/pkg/utils"
)

const (
	frameOpen  = `[== "CMake Server" ==[`
	frameClose = `]== "CMake Server" ==]`
)

// ErrConnectionLost reports that the server process went away mid conversation. No
// further requests can succeed until a new connection is made.
var ErrConnectionLost = errors.New("cmake server connection lost")

// RequestError is a failure the server reported for one request. The connection stays
// usable for subsequent requests.
type RequestError struct {
	Operation string
	Message   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("cmake server %s failed: %s", e.Operation, e.Message)
}

// Notification is progress or diagnostic traffic the server emits while a request is in
// flight.
type Notification struct {
	// Kind is "progress", "message" or "signal"
	Kind    string
	Message string

	// Progress is the completion ratio in [0, 1] for progress notifications
	Progress float64
}

// envelope covers the common fields of every server message.
type envelope struct {
	Type            string `json:"type"`
	Cookie          string `json:"cookie"`
	InReplyTo       string `json:"inReplyTo"`
	ErrorMessage    string `json:"errorMessage"`
	Message         string `json:"message"`
	Title           string `json:"title"`
	Name            string `json:"name"`
	ProgressMessage string `json:"progressMessage"`
	ProgressMinimum int    `json:"progressMinimum"`
	ProgressCurrent int    `json:"progressCurrent"`
	ProgressMaximum int    `json:"progressMaximum"`
}

// Options describes the connection to establish. Source, build directory and generator
// are fixed at handshake time; changing any of them needs a fresh connection.
type Options struct {
	CMakePath string
	SourceDir string
	BuildDir  string
	Generator string
	Platform  string
	Toolset   string

	// Env is the full environment for the server process, nil meaning inherit
	Env []string

	// Listener observes progress and message notifications
	Listener func(Notification)
}

// Client is a connection to one cmake server process.
type Client struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	listener  func(Notification)
	newCookie func() string
	mu        sync.Mutex
	stopped   bool
}

func (c *Client) cookie() string {
	if c.newCookie != nil {
		return c.newCookie()
	}

	return uuid.NewString()
}

// Connect starts a cmake server process, consumes its hello message and performs the
// protocol handshake for the given source and build directories.
func Connect(ctx context.Context, options Options) (*Client, error) {
	cmd := exec.CommandContext(ctx, options.CMakePath, "-E", "server", "--experimental", "--debug")
	if options.Env != nil {
		cmd.Env = options.Env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to start cmake server: %w", err)
	}

	client := &Client{
		cmd:      cmd,
		stdin:    stdin,
		stdout:   bufio.NewReader(stdout),
		listener: options.Listener,
	}

	if err := client.handshake(ctx, options); err != nil {
		client.Close()
		return nil, utils.MakeError(err, "cmake server handshake")
	}

	return client, nil
}

func (c *Client) handshake(ctx context.Context, options Options) error {
	raw, err := readFrame(c.stdout)
	if err != nil {
		return err
	}

	var hello struct {
		Type                      string `json:"type"`
		SupportedProtocolVersions []struct {
			Major int `json:"major"`
			Minor int `json:"minor"`
		} `json:"supportedProtocolVersions"`
	}

	if err := json.Unmarshal(raw, &hello); err != nil {
		return fmt.Errorf("failed to parse hello message: %w", err)
	}

	if hello.Type != "hello" || len(hello.SupportedProtocolVersions) == 0 {
		return fmt.Errorf("unexpected first server message %q", hello.Type)
	}

	payload := map[string]any{
		"protocolVersion": map[string]any{"major": hello.SupportedProtocolVersions[0].Major},
		"sourceDirectory": options.SourceDir,
		"buildDirectory":  options.BuildDir,
	}

	if options.Generator != "" {
		payload["generator"] = options.Generator
	}
	if options.Platform != "" {
		payload["platform"] = options.Platform
	}
	if options.Toolset != "" {
		payload["toolset"] = options.Toolset
	}

	_, err = c.roundTrip(ctx, "handshake", payload)
	return err
}

// Configure asks the server to run the configure step with the given -D style cache
// arguments.
func (c *Client) Configure(ctx context.Context, cacheArguments []string) error {
	payload := map[string]any{}
	if len(cacheArguments) > 0 {
		payload["cacheArguments"] = cacheArguments
	}

	_, err := c.roundTrip(ctx, "configure", payload)
	return err
}

// Compute asks the server to generate the buildsystem after a configure. Must follow a
// successful Configure in the same cycle.
func (c *Client) Compute(ctx context.Context) error {
	_, err := c.roundTrip(ctx, "compute", nil)
	return err
}

// CodeModel retrieves the structured code model. Valid only after Configure and Compute
// both succeeded.
func (c *Client) CodeModel(ctx context.Context) (json.RawMessage, error) {
	return c.roundTrip(ctx, "codemodel", nil)
}

// BuildFileGroup is one group of files the buildsystem depends on.
type BuildFileGroup struct {
	IsCMake     bool     `json:"isCMake"`
	IsTemporary bool     `json:"isTemporary"`
	Sources     []string `json:"sources"`
}

// Inputs lists the files that participated in the last configure.
type Inputs struct {
	CMakeRootDirectory string           `json:"cmakeRootDirectory"`
	SourceDirectory    string           `json:"sourceDirectory"`
	BuildFiles         []BuildFileGroup `json:"buildFiles"`
}

// CMakeInputs retrieves the list of files the configure step read, used to decide when a
// reconfigure is needed.
func (c *Client) CMakeInputs(ctx context.Context) (*Inputs, error) {
	raw, err := c.roundTrip(ctx, "cmakeInputs", nil)
	if err != nil {
		return nil, err
	}

	var inputs Inputs
	if err := json.Unmarshal(raw, &inputs); err != nil {
		return nil, fmt.Errorf("failed to parse cmakeInputs reply: %w", err)
	}

	return &inputs, nil
}

// roundTrip sends one request and blocks until its reply or error arrives, forwarding
// interleaved notifications to the listener. Replies carrying a different cookie are
// stale traffic from an abandoned request and are dropped.
func (c *Client) roundTrip(ctx context.Context, operation string, payload map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil, ErrConnectionLost
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	cookie := c.cookie()

	request := map[string]any{
		"type":   operation,
		"cookie": cookie,
	}
	for key, value := range payload {
		request[key] = value
	}

	encoded, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", operation, err)
	}

	if err := writeFrame(c.stdin, encoded); err != nil {
		return nil, utils.MakeError(ErrConnectionLost, "writing %s request: %v", operation, err)
	}

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		raw, err := readFrame(c.stdout)
		if err != nil {
			return nil, utils.MakeError(ErrConnectionLost, "reading %s reply: %v", operation, err)
		}

		var message envelope
		if err := json.Unmarshal(raw, &message); err != nil {
			return nil, fmt.Errorf("failed to parse server message: %w", err)
		}

		switch message.Type {
		case "reply":
			if message.Cookie == cookie {
				return raw, nil
			}
		case "error":
			if message.Cookie == cookie {
				return nil, &RequestError{Operation: operation, Message: message.ErrorMessage}
			}
		case "progress":
			c.notify(Notification{
				Kind:     "progress",
				Message:  message.ProgressMessage,
				Progress: progressRatio(message),
			})
		case "message":
			c.notify(Notification{Kind: "message", Message: message.Message})
		case "signal":
			c.notify(Notification{Kind: "signal", Message: message.Name})
		}
	}
}

func (c *Client) notify(notification Notification) {
	if c.listener != nil {
		c.listener(notification)
	}
}

func progressRatio(message envelope) float64 {
	span := message.ProgressMaximum - message.ProgressMinimum
	if span <= 0 {
		return 0
	}

	return float64(message.ProgressCurrent-message.ProgressMinimum) / float64(span)
}

// Shutdown closes the server's stdin and waits for the process to exit on its own,
// killing it only if the context runs out first.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil
	}
	c.stopped = true

	if c.stdin != nil {
		c.stdin.Close()
	}

	done := make(chan error, 1)
	go func() {
		done <- c.cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		<-done
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Close kills the server process outright and releases resources.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil
	}
	c.stopped = true

	if c.stdin != nil {
		c.stdin.Close()
	}

	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
		_ = c.cmd.Wait()
	}

	return nil
}

func readFrame(reader *bufio.Reader) (json.RawMessage, error) {
	var payload bytes.Buffer
	inFrame := false

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}

		trimmed := strings.TrimRight(line, "\r\n")

		if !inFrame {
			if trimmed == frameOpen {
				inFrame = true
			}
			continue
		}

		if trimmed == frameClose {
			return payload.Bytes(), nil
		}

		payload.WriteString(trimmed)
	}
}

func writeFrame(writer io.Writer, payload []byte) error {
	_, err := fmt.Fprintf(writer, "\n%s\n%s\n%s\n", frameOpen, payload, frameClose)
	return err
}
