package main

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gliderlabs/ssh"
	"github.com/iwanhae/ssh-gate/chat"
	"github.com/iwanhae/ssh-gate/denylist"
	"github.com/sirupsen/logrus"
)

var (
	errThrottled = errors.New("too many connection attempts, try again later")
	errNoKey     = errors.New("public key authentication is required")
	errDenied    = errors.New("identity is blacklisted")
)

// rejectMessage is what a refused session is shown before it closes.
func rejectMessage(err error) string {
	if errors.Is(err, errDenied) {
		return chat.DisabledMessage
	}
	return err.Error()
}

// connectGate is the part of the controller consulted when a session arrives.
type connectGate interface {
	OnConnect(name string, id denylist.Identity) denylist.Decision
}

// gateway admits SSH sessions into the room.
type gateway struct {
	gate     connectGate
	room     *chat.Server
	commands *chat.Commands
	throttle *chat.ConnectionThrottle
	log      logrus.FieldLogger
}

// admit runs the admission checks for one session. On success the returned
// client is registered in the room and allowed by the gate.
//
// The client is registered before the gate sees the connection: a name that
// is refused never reaches the identity cache, and an operator acting in
// between finds the user through the live registry.
func (g *gateway) admit(conn chat.Conn, name, ip string, key []byte, now time.Time) (*chat.Client, error) {
	log := g.log.WithField("ip", ip)

	if !g.throttle.Allow(ip, now) {
		log.Warn("connection throttled")
		return nil, errThrottled
	}
	if len(key) == 0 {
		return nil, errNoKey
	}
	name = strings.TrimSpace(name)
	if err := chat.ValidateName(name); err != nil {
		return nil, err
	}

	id := denylist.IdentityFromKey(key)
	log = log.WithFields(logrus.Fields{"name": name, "identity": id.String()})

	client := chat.NewClient(g.room, g.commands, conn, name, id, ip)
	if err := g.room.AddClient(client); err != nil {
		log.WithError(err).Warn("session refused")
		return nil, err
	}

	if g.gate.OnConnect(name, id) == denylist.Deny {
		g.room.RemoveClient(client)
		log.Info("blacklisted identity refused")
		return nil, errDenied
	}

	// the operator may have blacklisted the user live while the gate ran
	select {
	case <-client.Done():
		g.room.RemoveClient(client)
		return nil, errDenied
	default:
	}
	return client, nil
}

// sessionHandler checks every new session against the gate before it joins the room.
func sessionHandler(g *gateway) ssh.Handler {
	return func(s ssh.Session) {
		ip := s.RemoteAddr().String()
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}

		var key []byte
		if pk := s.PublicKey(); pk != nil {
			key = pk.Marshal()
		}

		client, err := g.admit(s, s.User(), ip, key, time.Now())
		if err != nil {
			fmt.Fprintf(s, "\x1b[%dm%s\x1b[0m\r\n", chat.ColorRed, rejectMessage(err))
			_ = s.Exit(1)
			return
		}
		name := client.Name()
		defer func() {
			g.room.RemoveClient(client)
			client.Close()
			g.room.AppendSystemMessage(fmt.Sprintf("%s left the chat", name))
		}()

		g.log.WithField("name", name).Info("client joined")
		fmt.Fprint(s, "\x1b[2J\x1b[H")
		g.room.AppendSystemMessage(fmt.Sprintf("%s joined the chat", name))

		client.Start(s.Context())
		client.Wait()
	}
}
