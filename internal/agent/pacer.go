package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"autopilot/internal/domain"
)

const (
	chunkSize     = 60
	chunkGap      = 100 * time.Millisecond
	typingRefresh = 5 * time.Second
	defaultWPM    = 100
	minWPM        = 1.0
)

// Pacer delivers reply lines at a human typing speed.
type Pacer struct {
	sender   domain.Sender
	typer    domain.Typer
	settings func() Settings
	rand     func() float64
	now      func() time.Time
	refresh  time.Duration
	logger   *slog.Logger
}

// PacerConfig configures a Pacer.
type PacerConfig struct {
	Sender   domain.Sender
	Typer    domain.Typer // optional
	Settings func() Settings
	Rand     func() float64
	Now      func() time.Time
	// TypingRefresh is how often the typing indicator is renewed while
	// waiting. Defaults to 5s.
	TypingRefresh time.Duration
	Logger        *slog.Logger
}

func NewPacer(cfg PacerConfig) *Pacer {
	if cfg.Settings == nil {
		cfg.Settings = StaticSettings(DefaultSettings())
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TypingRefresh <= 0 {
		cfg.TypingRefresh = typingRefresh
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pacer{
		sender:   cfg.Sender,
		typer:    cfg.Typer,
		settings: cfg.Settings,
		rand:     cfg.Rand,
		now:      cfg.Now,
		refresh:  cfg.TypingRefresh,
		logger:   cfg.Logger,
	}
}

// Deliver sends each line in order and returns how many messages were
// sent. The first line is paced from started; later lines from when they
// begin.
func (p *Pacer) Deliver(ctx context.Context, conversationID string, lines []string, started time.Time) (int, error) {
	if len(lines) == 0 {
		return 0, nil
	}
	st := p.settings()
	typing := st.TypingIndicator && p.typer != nil

	if typing {
		p.startTyping(ctx, conversationID)
		stop := p.keepTyping(ctx, conversationID)
		defer func() {
			stop()
			p.stopTyping(conversationID)
		}()
	}

	sent := 0
	for i, line := range lines {
		lineStart := started
		if i > 0 {
			lineStart = p.now()
		}
		var (
			n   int
			err error
		)
		if st.Chunking {
			n, err = p.sendChunks(ctx, conversationID, line, lineStart, st)
		} else {
			n, err = p.sendPaced(ctx, conversationID, line, lineStart, st)
		}
		sent += n
		if err != nil {
			return sent, err
		}
		if typing && i < len(lines)-1 {
			p.startTyping(ctx, conversationID)
		}
	}
	return sent, nil
}

// Delay is how long to wait before sending text so the reply appears typed
// at the configured speed, less the time already spent since started.
func (p *Pacer) Delay(text string, started time.Time) time.Duration {
	st := p.settings()
	wpm := float64(st.WPM)
	if wpm <= 0 {
		wpm = defaultWPM
	}
	variance := float64(st.WPMVariance)
	if variance < 0 {
		variance = 0
	}
	actual := wpm + (p.rand()*2*variance - variance)
	if actual < minWPM {
		actual = minWPM
	}
	expected := time.Duration(float64(wordCount(text)) / actual * float64(time.Minute))
	remaining := expected - p.now().Sub(started)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (p *Pacer) sendPaced(ctx context.Context, conversationID, line string, started time.Time, st Settings) (int, error) {
	if err := sleepCtx(ctx, p.Delay(line, started)); err != nil {
		return 0, err
	}

	content := line
	if st.Watermark {
		content = AppendWatermark(line, st.WatermarkText)
	}
	if err := p.sender.Send(ctx, domain.OutboundMessage{ConversationID: conversationID, Content: content}); err != nil {
		return 0, fmt.Errorf("send reply: %w", err)
	}
	return 1, nil
}

// sendChunks waits once, then sends ≤60-character pieces 100ms apart. No
// watermark is added in this mode.
func (p *Pacer) sendChunks(ctx context.Context, conversationID, line string, started time.Time, st Settings) (int, error) {
	if err := sleepCtx(ctx, p.Delay(line, started)); err != nil {
		return 0, err
	}
	sent := 0
	for _, chunk := range chunkText(line, chunkSize) {
		if err := p.sender.Send(ctx, domain.OutboundMessage{ConversationID: conversationID, Content: chunk}); err != nil {
			return sent, fmt.Errorf("send chunk: %w", err)
		}
		sent++
		if err := sleepCtx(ctx, chunkGap); err != nil {
			return sent, err
		}
	}
	return sent, nil
}

// keepTyping renews the typing indicator until the returned stop is called.
// One ticker covers the whole delivery in both paced and chunked mode.
func (p *Pacer) keepTyping(ctx context.Context, conversationID string) func() {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(p.refresh)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.startTyping(ctx, conversationID)
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

func (p *Pacer) startTyping(ctx context.Context, conversationID string) {
	if err := p.typer.StartTyping(ctx, conversationID); err != nil {
		p.logger.Debug("typing indicator failed", "conversation", conversationID, "err", err)
	}
}

func (p *Pacer) stopTyping(conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.typer.StopTyping(ctx, conversationID); err != nil {
		p.logger.Debug("stop typing failed", "conversation", conversationID, "err", err)
	}
}

// chunkText splits text on word boundaries into pieces of at most size
// characters. A single longer word becomes its own piece.
func chunkText(text string, size int) []string {
	var chunks []string
	current := ""
	for _, w := range strings.Fields(text) {
		candidate := w
		if current != "" {
			candidate = current + " " + w
		}
		if len(candidate) <= size {
			current = candidate
			continue
		}
		if current != "" {
			chunks = append(chunks, current)
		}
		if len(w) > size {
			chunks = append(chunks, w)
			current = ""
		} else {
			current = w
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
