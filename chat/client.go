package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/iwanhae/ssh-gate/denylist"
	"github.com/sirupsen/logrus"
)

const (
	historyOnJoin     = 20
	maxMessagesPerMin = 30
	outboxSize        = 256
)

// Conn is the part of an SSH session a client needs.
type Conn interface {
	io.ReadWriter
	Exit(code int) error
	Close() error
}

type Client struct {
	conn     Conn
	server   *Server
	commands *Commands
	log      logrus.FieldLogger

	name     string
	identity denylist.Identity
	ip       string
	color    int

	mu                sync.Mutex
	inputBuffer       []rune
	messageTimestamps []time.Time

	writeMu   sync.Mutex
	outbox    chan string
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewClient(server *Server, commands *Commands, conn Conn, name string, id denylist.Identity, ip string) *Client {
	return &Client{
		conn:     conn,
		server:   server,
		commands: commands,
		log: server.log.WithFields(logrus.Fields{
			"name":     name,
			"identity": id.String(),
			"ip":       ip,
		}),
		name:        name,
		identity:    id,
		ip:          ip,
		color:       colorFor(id),
		inputBuffer: make([]rune, 0, 128),
		outbox:      make(chan string, outboxSize),
		done:        make(chan struct{}),
	}
}

func (c *Client) Name() string                { return c.name }
func (c *Client) Identity() denylist.Identity { return c.identity }

// Start runs the read and write loops until ctx ends or the client is closed.
func (c *Client) Start(ctx context.Context) {
	reader := bufio.NewReader(c.conn)
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.inputLoop(reader)
	}()
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()
}

func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Deliver queues a chat message for display. Messages are dropped when the
// client cannot keep up.
func (c *Client) Deliver(msg Message) {
	c.send(formatMessage(msg))
}

// Reply shows text to this client only.
func (c *Client) Reply(text string, color int) {
	c.send(colorize(text, color))
}

// Kick writes reason and ends the session.
func (c *Client) Kick(reason string) {
	c.writeRaw("\r\x1b[2K" + colorize(reason, ColorRed) + "\r\n")
	_ = c.conn.Exit(1)
	c.Close()
	c.log.WithField("reason", reason).Info("client disconnected")
}

func (c *Client) send(line string) {
	select {
	case <-c.done:
	case c.outbox <- line:
	default:
		c.log.Debug("outbox full, dropping line")
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case line := <-c.outbox:
			c.mu.Lock()
			input := string(c.inputBuffer)
			c.mu.Unlock()
			c.writeRaw("\r\x1b[2K" + line + "\r\n> " + input)
		case <-c.done:
			return
		}
	}
}

func (c *Client) writeRaw(s string) {
	c.writeMu.Lock()
	_, err := io.WriteString(c.conn, s)
	c.writeMu.Unlock()
	if err != nil {
		c.Close()
	}
}

func (c *Client) inputLoop(reader *bufio.Reader) {
	lastCR := false
	for {
		r, _, err := reader.ReadRune()
		if err != nil {
			c.Close()
			return
		}

		switch r {
		case '\r':
			c.handleEnter()
		case '\n':
			// CRLF already handled on '\r'
			if !lastCR {
				c.handleEnter()
			}
		case 127, '\b':
			c.handleBackspace()
		case 3, 4: // Ctrl+C, Ctrl+D 는 세션 종료
			c.Close()
			return
		case '\x1b':
			if !skipEscape(reader) {
				c.Close()
				return
			}
		default:
			if !isControlRune(r) {
				c.handleRune(r)
			}
		}
		lastCR = r == '\r'
	}
}

func (c *Client) handleEnter() {
	c.mu.Lock()
	text := strings.TrimSpace(string(c.inputBuffer))
	c.inputBuffer = c.inputBuffer[:0]
	c.mu.Unlock()
	// 입력 줄을 지우고 프롬프트를 다시 그립니다.
	c.writeRaw("\r\x1b[2K> ")

	if text == "" {
		return
	}
	if err := ValidateNoCombining(text); err != nil {
		c.Reply(err.Error(), ColorRed)
		return
	}
	if c.overRateLimit(time.Now()) {
		c.log.Warn("kicking client for spamming")
		c.Kick("Too many messages.")
		return
	}

	if strings.HasPrefix(text, "/") {
		c.commands.Dispatch(c, text)
		return
	}

	c.server.AppendMessage(Message{
		Time:     time.Now(),
		Nick:     c.name,
		Text:     text,
		Color:    c.color,
		IP:       c.ip,
		Identity: c.identity,
	})
}

func (c *Client) overRateLimit(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 1분보다 오래된 타임스탬프는 버립니다.
	oneMinuteAgo := now.Add(-time.Minute)
	n := 0
	for _, ts := range c.messageTimestamps {
		if ts.After(oneMinuteAgo) {
			c.messageTimestamps[n] = ts
			n++
		}
	}
	c.messageTimestamps = append(c.messageTimestamps[:n], now)
	return len(c.messageTimestamps) > maxMessagesPerMin
}

func (c *Client) handleBackspace() {
	c.mu.Lock()
	if len(c.inputBuffer) == 0 {
		c.mu.Unlock()
		return
	}
	c.inputBuffer = c.inputBuffer[:len(c.inputBuffer)-1]
	c.mu.Unlock()
	c.writeRaw("\b \b")
}

func (c *Client) handleRune(r rune) {
	c.mu.Lock()
	c.inputBuffer = append(c.inputBuffer, r)
	c.mu.Unlock()
	c.writeRaw(string(r))
}

// skipEscape consumes a CSI sequence such as an arrow key or PgUp/PgDn.
func skipEscape(reader *bufio.Reader) bool {
	b1, err := reader.ReadByte()
	if err != nil {
		return false
	}
	if b1 != '[' {
		return true
	}
	b2, err := reader.ReadByte()
	if err != nil {
		return false
	}
	if b2 >= '0' && b2 <= '9' {
		if _, err := reader.ReadByte(); err != nil {
			return false
		}
	}
	return true
}

func isControlRune(r rune) bool {
	return r < 32 || r == 127
}

func colorFor(id denylist.Identity) int {
	return ColorRed + int(id[0])%6
}

func colorize(text string, color int) string {
	if color == 0 {
		return text
	}
	return fmt.Sprintf("\x1b[%dm%s\x1b[0m", color, text)
}

func formatMessage(msg Message) string {
	color := msg.Color
	if color == 0 {
		color = ColorWhite
	}
	text := strings.ReplaceAll(msg.Text, "\n", "\r\n")
	return fmt.Sprintf("[%s] %s: %s", msg.Time.Format("15:04:05"), colorize(msg.Nick, color), text)
}

// ValidateName checks a login name before it reaches the gate.
func ValidateName(name string) error {
	if name == "" {
		return errors.New("a user name is required: ssh <name>@host")
	}
	if n := len([]rune(name)); n > 16 {
		return fmt.Errorf("user name is too long (%d > 16)", n)
	}
	for _, r := range name {
		if unicode.IsSpace(r) || isControlRune(r) {
			return errors.New("user name must not contain spaces or control characters")
		}
	}
	return nil
}

func isCombiningBlock(r rune) bool {
	switch {
	case r >= 0x0300 && r <= 0x036F,
		r >= 0x1AB0 && r <= 0x1AFF,
		r >= 0x1DC0 && r <= 0x1DFF,
		r >= 0x20D0 && r <= 0x20FF,
		r >= 0xFE20 && r <= 0xFE2F:
		return true
	default:
		return false
	}
}

// ValidateNoCombining rejects text containing combining marks.
func ValidateNoCombining(input string) error {
	for _, r := range input {
		if unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Me, r) || isCombiningBlock(r) {
			return errors.New("input contains combining diacritical marks (blocked)")
		}
	}
	return nil
}
