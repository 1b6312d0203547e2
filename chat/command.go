package chat

import (
	"fmt"
	"strings"

	"github.com/iwanhae/ssh-gate/denylist"
	"github.com/sirupsen/logrus"
)

// DisabledMessage is shown to a denied user when their session is refused or cut.
const DisabledMessage = "Your account has been disabled by an administrator."

const (
	msgNoPermission  = "You do not have permission to use this command."
	msgUsage         = "Usage: /blacklist <name> or /blacklist unlock <name>"
	msgInvalid       = "Invalid command usage."
	msgUnlockUnknown = "Name not found in cache; the player must have connected at least once."
	msgUnlocked      = "Player unblocked."
	msgDeniedLive    = "Player added to the blacklist."
	msgDeniedOffline = "Player added to the blacklist (offline)."
	msgDenyUnknown   = "Player is not online and the name is unknown."
)

// Gate is the denylist surface the commands drive.
type Gate interface {
	Deny(name string) (denylist.Result, denylist.Identity)
	AllowByName(name string) (denylist.Result, denylist.Identity)
}

// Action is what a /blacklist invocation asks for.
type Action int

const (
	ActionUsage Action = iota
	ActionDeny
	ActionAllow
	ActionInvalid
)

type BlacklistCommand struct {
	Action Action
	Name   string
}

// ParseBlacklist interprets the arguments following /blacklist.
func ParseBlacklist(args []string) BlacklistCommand {
	switch {
	case len(args) == 0:
		return BlacklistCommand{Action: ActionUsage}
	case len(args) == 2 && strings.EqualFold(args[0], "unlock"):
		return BlacklistCommand{Action: ActionAllow, Name: args[1]}
	case len(args) == 1:
		return BlacklistCommand{Action: ActionDeny, Name: args[0]}
	default:
		return BlacklistCommand{Action: ActionInvalid}
	}
}

// Reply is text shown to the operator who ran a command.
type Reply struct {
	Text  string
	Color int
}

// Commands runs slash commands on behalf of connected clients.
type Commands struct {
	gate      Gate
	server    *Server
	operators map[denylist.Identity]struct{}
	log       logrus.FieldLogger
}

func NewCommands(gate Gate, server *Server, operators []denylist.Identity, logger logrus.FieldLogger) *Commands {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ops := make(map[denylist.Identity]struct{}, len(operators))
	for _, id := range operators {
		ops[id] = struct{}{}
	}
	return &Commands{gate: gate, server: server, operators: ops, log: logger}
}

func (h *Commands) IsOperator(id denylist.Identity) bool {
	_, ok := h.operators[id]
	return ok
}

// Dispatch runs line for c and replies to c only.
func (h *Commands) Dispatch(c *Client, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	switch strings.ToLower(fields[0]) {
	case "/blacklist":
		r := h.Blacklist(c.identity, c.name, fields[1:])
		c.Reply(r.Text, r.Color)
	case "/whoami":
		c.Reply(fmt.Sprintf("You are %s, identity %s", c.name, c.identity), ColorWhite)
	case "/users":
		c.Reply(fmt.Sprintf("%d user(s) online", h.server.ClientCount()), ColorWhite)
	default:
		c.Reply(fmt.Sprintf("Unknown command: %s", fields[0]), ColorRed)
	}
}

// Blacklist checks that caller is an operator and applies a /blacklist invocation.
func (h *Commands) Blacklist(caller denylist.Identity, callerName string, args []string) Reply {
	if !h.IsOperator(caller) {
		h.log.WithFields(logrus.Fields{
			"name":     callerName,
			"identity": caller.String(),
		}).Warn("unauthorized /blacklist attempt")
		return Reply{Text: msgNoPermission}
	}

	cmd := ParseBlacklist(args)
	logger := h.log.WithFields(logrus.Fields{"operator": callerName, "target": cmd.Name})

	switch cmd.Action {
	case ActionUsage:
		return Reply{Text: msgUsage}
	case ActionAllow:
		res, _ := h.gate.AllowByName(cmd.Name)
		if res == denylist.UnknownName {
			return Reply{Text: msgUnlockUnknown, Color: ColorRed}
		}
		logger.Info("blacklist entry removed")
		return Reply{Text: msgUnlocked, Color: ColorGreen}
	case ActionDeny:
		res, id := h.gate.Deny(cmd.Name)
		switch res {
		case denylist.DeniedLive:
			n := h.server.DisconnectIdentity(id, DisabledMessage)
			logger.WithField("sessions", n).Info("blacklisted connected user")
			return Reply{Text: msgDeniedLive, Color: ColorGreen}
		case denylist.Denied:
			logger.Info("blacklisted offline user")
			return Reply{Text: msgDeniedOffline, Color: ColorGreen}
		default:
			return Reply{Text: msgDenyUnknown, Color: ColorRed}
		}
	default:
		return Reply{Text: msgInvalid}
	}
}
