package messaging

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/FunnelCoach/internal/models"
)

// DefaultConsoleUser is the recipient identifier of the console operator.
const DefaultConsoleUser = "console"

// responseChannelBuffer bounds inbound messages waiting to be processed.
const responseChannelBuffer = 16

// ConsoleService is a line-oriented transport over an input/output pair,
// by default stdin/stdout. Every input line becomes one inbound response
// from the console user.
type ConsoleService struct {
	user string
	in   io.Reader
	out  io.Writer

	mu        sync.Mutex
	started   bool
	stopped   bool
	responses chan models.Response
}

// ConsoleOption configures a ConsoleService.
type ConsoleOption func(*ConsoleService)

// WithConsoleIO overrides the input and output streams, used in tests.
func WithConsoleIO(in io.Reader, out io.Writer) ConsoleOption {
	return func(c *ConsoleService) {
		c.in = in
		c.out = out
	}
}

// WithConsoleUser overrides the console user identifier.
func WithConsoleUser(user string) ConsoleOption {
	return func(c *ConsoleService) { c.user = user }
}

// NewConsoleService creates a console transport.
func NewConsoleService(opts ...ConsoleOption) *ConsoleService {
	c := &ConsoleService{
		user:      DefaultConsoleUser,
		in:        os.Stdin,
		out:       os.Stdout,
		responses: make(chan models.Response, responseChannelBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ValidateAndCanonicalizeRecipient accepts any non-empty identifier and
// trims surrounding whitespace.
func (c *ConsoleService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	r := strings.TrimSpace(recipient)
	if r == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	return r, nil
}

// SendMessage writes the message to the output stream.
func (c *ConsoleService) SendMessage(ctx context.Context, to, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.out, "%s\n", message); err != nil {
		slog.Error("ConsoleService send failed", "error", err, "to", to)
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Start launches the input reader goroutine. The responses channel closes
// when the input stream ends or Stop is called.
func (c *ConsoleService) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("console service already started")
	}
	c.started = true
	c.mu.Unlock()

	go c.readLoop(ctx)
	slog.Debug("ConsoleService started", "user", c.user)
	return nil
}

func (c *ConsoleService) readLoop(ctx context.Context) {
	defer c.closeResponses()
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		resp := models.Response{From: c.user, Body: line, Time: time.Now().Unix()}
		select {
		case c.responses <- resp:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Error("ConsoleService read failed", "error", err)
	}
}

// Stop closes the responses channel. Safe to call once.
func (c *ConsoleService) Stop() error {
	c.closeResponses()
	slog.Debug("ConsoleService stopped")
	return nil
}

func (c *ConsoleService) closeResponses() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.stopped = true
		close(c.responses)
	}
}

// Responses returns the channel of inbound console lines.
func (c *ConsoleService) Responses() <-chan models.Response {
	return c.responses
}
