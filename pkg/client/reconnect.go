package client

import (
	"time"

	"github.com/relay-chat/pkg/logging"
)

// scheduleReconnect arms the next automatic attempt after a lost session or failed dial.
// The attempt counter only resets once a session reaches Joined.
func (c *ChatClient) scheduleReconnect(now time.Time) {
	c.nextAttempt = time.Time{}
	if !c.autoReconnect || c.opts.ReconnectInterval <= 0 {
		return
	}
	if c.opts.MaxReconnect > 0 && c.attempts >= c.opts.MaxReconnect {
		logging.Logf("[client] giving up after %d reconnect attempts", c.attempts)
		c.addLine(now, LineStatus, "", "", "giving up on reconnect")
		c.autoReconnect = false
		return
	}
	c.nextAttempt = now.Add(c.opts.ReconnectInterval)
	logging.Logf("[client] reconnecting in %v (attempt %d)", c.opts.ReconnectInterval, c.attempts+1)
}

func (c *ChatClient) maybeReconnect(now time.Time) {
	if !c.autoReconnect || c.nextAttempt.IsZero() || now.Before(c.nextAttempt) {
		return
	}
	c.attempts++
	recordReconnectAttempt()
	if err := c.open(now); err != nil {
		logging.Logf("[client] reconnect failed (attempt=%d err=%v)", c.attempts, err)
		c.scheduleReconnect(now)
		return
	}
	c.nextAttempt = time.Time{}
}

// NextReconnect returns when the next automatic attempt is due, if one is armed
func (c *ChatClient) NextReconnect() (time.Time, bool) {
	return c.nextAttempt, !c.nextAttempt.IsZero()
}
