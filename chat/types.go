package chat

import (
	"time"

	"github.com/iwanhae/ssh-gate/denylist"
)

type Message struct {
	Time     time.Time
	Nick     string
	Text     string
	Color    int
	IP       string
	Identity denylist.Identity
}

// ANSI colour codes used for nicknames and replies.
const (
	ColorRed   = 31
	ColorGreen = 32
	ColorWhite = 37
)
