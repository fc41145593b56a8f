package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"autopilot/internal/domain"
)

const (
	cliConversation = "console"
	cliSelfID       = "autopilot"
)

// CLI implements domain.Channel for an interactive terminal conversation.
// It doubles as a Typer, drawing a spinner while a reply is being typed.
type CLI struct {
	userID string
	logger *slog.Logger
	in     io.Reader

	outMu sync.Mutex
	out   io.Writer

	seq       int
	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
	thinkDone chan struct{}
}

type CLIConfig struct {
	UserID string
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.UserID == "" {
		cfg.UserID = "console"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		userID: cfg.UserID,
		logger: cfg.Logger,
		in:     cfg.In,
		out:    cfg.Out,
	}
}

func (c *CLI) Name() string { return "cli" }

// ConversationID is the single conversation the console speaks in.
func (c *CLI) ConversationID() string { return cliConversation }

// Start runs the REPL and returns on EOF, /quit or context cancellation.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.printf("autopilot console. Type a message and press Enter. Type /quit to exit.\nYou> ")

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				c.printf("You> ")
				continue
			}
			if line == "/quit" || line == "/exit" || line == "/q" {
				c.logger.Info("user requested quit")
				return nil
			}
			c.seq++
			bus.Publish(domain.InboundMessage{
				Channel:        "cli",
				ConversationID: cliConversation,
				AuthorID:       c.userID,
				AuthorName:     c.userID,
				Content:        line,
				MessageID:      "cli_" + strconv.Itoa(c.seq),
				Timestamp:      time.Now(),
			})
		}
	}
}

// Stop is a no-op for CLI (we exit when Start returns).
func (c *CLI) Stop() error { return nil }

func (c *CLI) Send(ctx context.Context, conversationID string, content string) error {
	c.stopThinking()
	return c.printf("\r\033[K--- autopilot ---\n%s\n-----------------\nYou> ", content)
}

// Self reports the console persona.
func (c *CLI) Self() (id, name string) { return cliSelfID, "autopilot" }

func (c *CLI) StartTyping(ctx context.Context, conversationID string) error {
	c.startThinking()
	return nil
}

func (c *CLI) StopTyping(ctx context.Context, conversationID string) error {
	c.stopThinking()
	return nil
}

// ChannelType reports the console as a direct conversation.
func (c *CLI) ChannelType(ctx context.Context, conversationID string) domain.ChannelType {
	return domain.ChannelDM
}

func (c *CLI) Presence(ctx context.Context) string { return "" }

func (c *CLI) printf(format string, args ...any) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, err := fmt.Fprintf(c.out, format, args...)
	return err
}

func (c *CLI) startThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	c.thinkDone = make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.printf("\r%s typing...", frames[i%len(frames)])
				i++
			}
		}
	}(c.thinkStop, c.thinkDone)
}

// stopThinking halts the spinner and waits for its last frame.
func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
	<-c.thinkDone
}
