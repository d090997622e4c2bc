package relay

import (
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/peer-relay/internal/metrics"
)

// Registry owns every live connection and the client/worker assignments
// between them.
type Registry struct {
	cfg     Config
	logger  *slog.Logger
	auth    Authenticator
	metrics *metrics.Metrics
	now     func() time.Time

	mu    sync.Mutex
	conns map[string]*Conn
	seq   uint64

	// Assignment maps, always updated together by assignLocked/unassignLocked.
	assigned map[string]string              // client id → worker id
	rosters  map[string]map[string]struct{} // worker id → client ids
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the log sink.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithAuthenticator sets the handshake authentication predicate.
func WithAuthenticator(auth Authenticator) Option {
	return func(r *Registry) {
		r.auth = auth
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithClock overrides the time source used for heartbeat bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates an empty registry. Zero durations in cfg fall back to DefaultConfig.
func NewRegistry(cfg Config, opts ...Option) *Registry {
	defaults := DefaultConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if cfg.HeartbeatGracePeriod <= 0 {
		cfg.HeartbeatGracePeriod = defaults.HeartbeatGracePeriod
	}

	r := &Registry{
		cfg:      cfg,
		logger:   slog.Default(),
		now:      time.Now,
		conns:    make(map[string]*Conn),
		assigned: make(map[string]string),
		rosters:  make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the heartbeat timing in effect.
func (r *Registry) Config() Config {
	return r.cfg
}

// HasAuthenticator reports whether handshakes are checked by a predicate.
func (r *Registry) HasAuthenticator() bool {
	return r.auth != nil
}

// Accept starts tracking a newly accepted socket and returns its connection.
// The connection is probed immediately and then every heartbeat interval.
func (r *Registry) Accept(sock Socket, meta RequestMeta) *Conn {
	c := newConn(r, uuid.NewString(), ClientAddress(meta), sock)

	r.mu.Lock()
	r.seq++
	c.seq = r.seq
	r.conns[c.id] = c
	r.metrics.ConnOpened()
	c.logger.Info("connected", "address", c.address)
	c.probeLocked(r.now())
	r.mu.Unlock()

	go c.heartbeatLoop()

	return c
}

// CloseAll closes every tracked connection. The caller shuts the listener down afterwards.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	for _, c := range r.sortedLocked(nil) {
		c.closeLocked()
	}
	r.mu.Unlock()

	r.logger.Info("closed")
}

// ReportListening logs that the listener is ready.
func (r *Registry) ReportListening(addr string) {
	r.logger.Info("listening", "addr", addr)
}

// ReportError logs a listener-level error. It never affects tracked connections.
func (r *Registry) ReportError(err error) {
	r.logger.Error("listener error", "error", err)
}

// Get returns the live connection with the given id.
func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	return c, ok
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Snapshot returns every live connection in accept order.
func (r *Registry) Snapshot() []ConnInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.sortedLocked(nil)
	infos := make([]ConnInfo, 0, len(conns))
	for _, c := range conns {
		infos = append(infos, c.infoLocked())
	}
	return infos
}

// Stats counts live connections by role.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{Connections: len(r.conns)}
	for _, c := range r.conns {
		switch c.role {
		case RoleClient:
			s.Clients++
			if _, ok := r.assigned[c.id]; !ok {
				s.Orphans++
			}
		case RoleWorker:
			s.Workers++
		default:
			s.Unassigned++
		}
	}
	return s
}

// assignLocked links client to worker in both directions.
func (r *Registry) assignLocked(client, worker *Conn) {
	roster, ok := r.rosters[worker.id]
	if !ok {
		roster = make(map[string]struct{})
		r.rosters[worker.id] = roster
	}
	roster[client.id] = struct{}{}
	r.assigned[client.id] = worker.id
}

// unassignLocked removes the client's assignment in both directions.
func (r *Registry) unassignLocked(clientID string) (workerID string, ok bool) {
	workerID, ok = r.assigned[clientID]
	if !ok {
		return "", false
	}
	delete(r.assigned, clientID)
	delete(r.rosters[workerID], clientID)
	return workerID, true
}

// sortedLocked returns live connections matching keep (all if nil) in accept order.
func (r *Registry) sortedLocked(keep func(*Conn) bool) []*Conn {
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		if keep == nil || keep(c) {
			out = append(out, c)
		}
	}
	sortBySeq(out)
	return out
}

func sortBySeq(conns []*Conn) {
	sort.Slice(conns, func(i, j int) bool { return conns[i].seq < conns[j].seq })
}

// ClientAddress derives the originating address of a request, preferring the
// first X-Forwarded-For entry over the transport peer address.
func ClientAddress(meta RequestMeta) string {
	if fwd := meta.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	host, _, err := net.SplitHostPort(meta.RemoteAddr)
	if err != nil {
		return meta.RemoteAddr
	}
	return host
}
