package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"
)

// Forwarding directions and drop reasons reported to metrics.
const (
	toWorker = "to_worker"
	toClient = "to_client"

	dropMalformed     = "malformed"
	dropNoWorker      = "no_worker"
	dropUnknownClient = "unknown_client"
	dropUnassigned    = "unassigned"
	dropSendFailed    = "send_failed"
)

// Conn is one peer connection tracked by a Registry.
// Mutable fields are guarded by the registry mutex.
type Conn struct {
	reg     *Registry
	id      string
	address string
	seq     uint64 // accept order within the registry
	sock    Socket
	logger  *slog.Logger

	// ctx is canceled when the connection closes; it stops the heartbeat
	// loop and any pending authentication.
	ctx    context.Context
	cancel context.CancelFunc

	role        Role
	alive       bool
	authPending bool
	firstSeen   time.Time
	lastSeen    time.Time
	lastPinged  time.Time
	latency     time.Duration
}

func newConn(r *Registry, id, address string, sock Socket) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	now := r.now()
	return &Conn{
		reg:        r,
		id:         id,
		address:    address,
		sock:       sock,
		logger:     r.logger.With("conn_id", id),
		ctx:        ctx,
		cancel:     cancel,
		alive:      true,
		firstSeen:  now,
		lastSeen:   now,
		lastPinged: now,
	}
}

// ID returns the connection's routing key.
func (c *Conn) ID() string { return c.id }

// Address returns the originating network address.
func (c *Conn) Address() string { return c.address }

// FirstSeen returns when the connection was accepted.
func (c *Conn) FirstSeen() time.Time { return c.firstSeen }

// Role returns the handshaken role, or RoleUnassigned.
func (c *Conn) Role() Role {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return c.role
}

// Alive reports whether teardown has not begun.
func (c *Conn) Alive() bool {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return c.alive
}

// LastSeen returns when the peer last sent a message or answered a ping.
func (c *Conn) LastSeen() time.Time {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return c.lastSeen
}

// Latency returns the most recent ping round trip.
func (c *Conn) Latency() time.Duration {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return c.latency
}

// WorkerID returns the id of the worker a client is assigned to.
func (c *Conn) WorkerID() (string, bool) {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	id, ok := c.reg.assigned[c.id]
	return id, ok
}

// Roster returns the ids of the clients assigned to a worker.
func (c *Conn) Roster() []string {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()

	roster := c.reg.rosters[c.id]
	ids := make([]string, 0, len(roster))
	for id := range roster {
		ids = append(ids, id)
	}
	return ids
}

// Info returns a snapshot of the connection.
func (c *Conn) Info() ConnInfo {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return c.infoLocked()
}

func (c *Conn) infoLocked() ConnInfo {
	return ConnInfo{
		ID:         c.id,
		Address:    c.address,
		Role:       c.role.String(),
		Worker:     c.reg.assigned[c.id],
		RosterSize: len(c.reg.rosters[c.id]),
		FirstSeen:  c.firstSeen,
		LastSeen:   c.lastSeen,
		Latency:    c.latency,
	}
}

// HandleMessage processes one inbound frame. Handshakes set the role;
// everything else is relayed to the peer on the other side.
func (c *Conn) HandleMessage(raw []byte) {
	r := c.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	if !c.alive {
		return
	}
	c.lastSeen = r.now()

	env, err := DecodeEnvelope(raw)
	if err != nil {
		c.logger.Error("failed to handle message", "error", err, "size", len(raw))
		r.metrics.Dropped(dropMalformed)
		return
	}

	if env.Event == EventHandshake {
		c.handshakeLocked(env.Data)
		return
	}
	c.forwardLocked(env)
}

// HandlePong records a probe acknowledgement.
func (c *Conn) HandlePong() {
	r := c.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	if !c.alive {
		return
	}
	now := r.now()
	c.lastSeen = now
	c.latency = now.Sub(c.lastPinged)
	r.metrics.ObserveLatency(c.latency)
}

// HandleError logs a socket error. The transport's close drives teardown.
func (c *Conn) HandleError(err error) {
	c.logger.Error("socket error", "error", err)
}

// Close tears the connection down. It is idempotent.
func (c *Conn) Close() {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	c.closeLocked()
}

func (c *Conn) closeLocked() {
	if !c.alive {
		return
	}
	r := c.reg
	c.alive = false
	c.cancel()

	if err := c.sock.Close(); err != nil {
		c.logger.Debug("socket close failed", "error", err)
	}
	delete(r.conns, c.id)
	r.metrics.ConnClosed(c.role.String())

	switch c.role {
	case RoleClient:
		if workerID, ok := r.unassignLocked(c.id); ok {
			if worker, ok := r.conns[workerID]; ok {
				worker.sendLocked(idEnvelope(EventDisconnection, c.id))
			}
		}
	case RoleWorker:
		r.failoverLocked(c)
	}

	c.logger.Info("disconnected")
}

func (c *Conn) handshakeLocked(payload json.RawMessage) {
	if c.role != RoleUnassigned || c.authPending {
		c.logger.Warn("ignoring repeated handshake", "role", c.role.String())
		return
	}

	role := Role(gjson.GetBytes(payload, "role").String())
	if !role.Valid() {
		c.rejectLocked(role, ErrUnknownRole)
		return
	}

	if c.reg.auth == nil {
		c.completeHandshakeLocked(role)
		return
	}

	c.authPending = true
	go c.authenticate(role, append(json.RawMessage(nil), payload...))
}

// authenticate runs the predicate off the lock and applies its verdict,
// unless the connection closed in the meantime.
func (c *Conn) authenticate(role Role, payload json.RawMessage) {
	ok, err := c.reg.auth(c.ctx, payload)

	r := c.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	c.authPending = false
	if !c.alive {
		c.logger.Debug("discarding authentication result for closed connection", "role", role.String())
		return
	}

	switch {
	case err != nil:
		c.logger.Error("authenticator failed", "role", role.String(), "error", err)
		c.rejectLocked(role, ErrUnauthorized)
	case !ok:
		c.rejectLocked(role, ErrUnauthorized)
	default:
		c.completeHandshakeLocked(role)
	}
}

func (c *Conn) rejectLocked(role Role, reason error) {
	c.logger.Warn("failed to authenticate", "role", string(role), "error", reason)
	c.reg.metrics.HandshakeRejected()
	c.closeLocked()
}

func (c *Conn) completeHandshakeLocked(role Role) {
	r := c.reg
	c.role = role
	r.metrics.RoleAssigned(role.String())
	c.sendLocked(idEnvelope(EventHandshake, c.id))
	c.logger.Info("authenticated", "role", role.String())

	switch role {
	case RoleClient:
		r.chooseWorkerLocked(c)
	case RoleWorker:
		r.rosters[c.id] = make(map[string]struct{})
		r.adoptOrphansLocked()
	}
}

func (c *Conn) forwardLocked(env Envelope) {
	r := c.reg

	switch c.role {
	case RoleClient:
		worker, ok := r.conns[r.assigned[c.id]]
		if !ok {
			c.logger.Warn("failed to forward, no worker available", "event", env.Event)
			r.metrics.Dropped(dropNoWorker)
			return
		}
		if worker.sendLocked(Envelope{Event: env.Event, Data: env.Data, ID: c.id}) {
			r.metrics.Forwarded(toWorker)
			c.logger.Info("forwarded to worker", "event", env.Event, "worker_id", worker.id)
		}

	case RoleWorker:
		_, inRoster := r.rosters[c.id][env.ID]
		client, ok := r.conns[env.ID]
		if !inRoster || !ok {
			c.logger.Warn("failed to forward to invalid client", "event", env.Event, "client_id", env.ID)
			r.metrics.Dropped(dropUnknownClient)
			return
		}
		if client.sendLocked(Envelope{Event: env.Event, Data: env.Data}) {
			r.metrics.Forwarded(toClient)
			c.logger.Info("forwarded to client", "event", env.Event, "client_id", client.id)
		}

	default:
		c.logger.Warn("failed to forward before handshake", "event", env.Event)
		r.metrics.Dropped(dropUnassigned)
	}
}

// sendLocked writes env to this connection's socket and reports success.
func (c *Conn) sendLocked(env Envelope) bool {
	data, err := env.Encode()
	if err == nil {
		err = c.sock.Send(data)
	}
	if err != nil {
		c.logger.Warn("failed to send", "event", env.Event, "error", err)
		c.reg.metrics.Dropped(dropSendFailed)
		return false
	}
	return true
}
