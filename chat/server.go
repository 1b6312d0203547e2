package chat

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/iwanhae/ssh-gate/denylist"
	"github.com/sirupsen/logrus"
)

const maxHistory = 4000

// ErrNameInUse is returned when a different identity is already connected under a name.
var ErrNameInUse = errors.New("name is already in use by another user")

// ErrTooManyConnections is returned when an IP already holds its share of sessions.
var ErrTooManyConnections = errors.New("connection limit exceeded for this IP")

// Server is the chat room and the registry of connected clients.
type Server struct {
	mu       sync.RWMutex
	messages []Message
	clients  map[*Client]struct{}
	ipCounts map[string]int
	maxPerIP int
	log      logrus.FieldLogger
}

func NewServer(maxPerIP int, logger logrus.FieldLogger) *Server {
	if maxPerIP < 1 {
		maxPerIP = 1
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		clients:  make(map[*Client]struct{}),
		ipCounts: make(map[string]int),
		maxPerIP: maxPerIP,
		log:      logger,
	}
	s.messages = append(s.messages, Message{
		Time:  time.Now(),
		Nick:  "server",
		Text:  "Welcome to the SSH chat! Type /whoami to see your identity.",
		Color: ColorWhite,
	})
	return s
}

// AddClient registers c. A name may be shared by several sessions of the same identity only.
func (s *Server) AddClient(c *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ipCounts[c.ip] >= s.maxPerIP {
		return ErrTooManyConnections
	}
	for other := range s.clients {
		if strings.EqualFold(other.name, c.name) && other.identity != c.identity {
			return ErrNameInUse
		}
	}
	s.clients[c] = struct{}{}
	s.ipCounts[c.ip]++

	// history is queued under the lock so nothing is missed or repeated
	start := len(s.messages) - historyOnJoin
	if start < 0 {
		start = 0
	}
	for _, msg := range s.messages[start:] {
		c.Deliver(msg)
	}
	return nil
}

func (s *Server) RemoveClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	s.ipCounts[c.ip]--
	if s.ipCounts[c.ip] <= 0 {
		delete(s.ipCounts, c.ip)
	}
}

// CheckIPLimit returns true if ip may open another session.
func (s *Server) CheckIPLimit(ip string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ipCounts[ip] < s.maxPerIP
}

// Lookup returns the identity of the client connected under name.
func (s *Server) Lookup(name string) (denylist.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		if strings.EqualFold(c.name, name) {
			return c.identity, true
		}
	}
	return denylist.Identity{}, false
}

// DisconnectIdentity tells every session of id why it is closing and closes it.
func (s *Server) DisconnectIdentity(id denylist.Identity, reason string) int {
	s.mu.RLock()
	var targets []*Client
	for c := range s.clients {
		if c.identity == id {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range targets {
		c.Kick(reason)
	}
	return len(targets)
}

func (s *Server) AppendMessage(msg Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	if len(s.messages) > maxHistory {
		s.messages = s.messages[len(s.messages)-maxHistory:]
	}
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	s.logMessage(msg)
	for _, c := range clients {
		c.Deliver(msg)
	}
}

func (s *Server) AppendSystemMessage(text string) {
	s.AppendMessage(Message{
		Time:  time.Now(),
		Nick:  "server",
		Text:  text,
		Color: ColorWhite,
	})
}

// Recent returns up to n of the latest messages, oldest first.
func (s *Server) Recent(n int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := len(s.messages) - n
	if start < 0 {
		start = 0
	}
	out := make([]Message, len(s.messages)-start)
	copy(out, s.messages[start:])
	return out
}

func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) logMessage(msg Message) {
	// 로그에는 앞부분 20바이트만 남깁니다.
	sanitized := strings.ReplaceAll(msg.Text, "\n", "\\n")
	if len(sanitized) > 20 {
		sanitized = sanitized[:20]
	}
	entry := s.log.WithField("nick", msg.Nick)
	if msg.IP != "" {
		entry = entry.WithField("ip", msg.IP)
	}
	entry.Infof("message: %s", sanitized)
}
