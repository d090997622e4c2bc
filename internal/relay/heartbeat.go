package relay

import "time"

// heartbeatLoop probes the connection every heartbeat interval until it closes.
func (c *Conn) heartbeatLoop() {
	ticker := time.NewTicker(c.reg.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.heartbeat()
		}
	}
}

// heartbeat evicts the connection if it has been silent for longer than the
// grace period, and probes it otherwise.
func (c *Conn) heartbeat() {
	r := c.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	if !c.alive {
		return
	}

	now := r.now()
	if silence := now.Sub(c.lastSeen); silence > r.cfg.HeartbeatGracePeriod {
		c.logger.Warn("connection stale, closing",
			"last_seen", c.lastSeen,
			"silence", silence,
			"grace_period", r.cfg.HeartbeatGracePeriod,
		)
		r.metrics.Evicted()
		c.closeLocked()
		return
	}
	c.probeLocked(now)
}

func (c *Conn) probeLocked(now time.Time) {
	c.lastPinged = now
	if err := c.sock.Ping(); err != nil {
		c.logger.Debug("failed to send ping", "error", err)
	}
}
