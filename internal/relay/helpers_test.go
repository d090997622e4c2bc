package relay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeSocket records everything the relay does to a socket.
type fakeSocket struct {
	mu      sync.Mutex
	frames  [][]byte
	pings   int
	closes  int
	sendErr error
}

func (s *fakeSocket) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.frames = append(s.frames, append([]byte(nil), data...))
	return nil
}

func (s *fakeSocket) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSocket) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

func (s *fakeSocket) Envelopes(t *testing.T) []Envelope {
	t.Helper()
	var out []Envelope
	for _, f := range s.Frames() {
		var env Envelope
		require.NoError(t, json.Unmarshal(f, &env))
		out = append(out, env)
	}
	return out
}

// Events returns the event names sent to the socket, in order.
func (s *fakeSocket) Events(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, env := range s.Envelopes(t) {
		out = append(out, env.Event)
	}
	return out
}

func (s *fakeSocket) Last(t *testing.T) []byte {
	t.Helper()
	frames := s.Frames()
	require.NotEmpty(t, frames, "no frames sent")
	return frames[len(frames)-1]
}

func (s *fakeSocket) Pings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

func (s *fakeSocket) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func (s *fakeSocket) setSendErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// logBuffer collects JSON log lines from concurrent writers.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) Records(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	return out
}

// Count returns the number of records at level.
func (b *logBuffer) Count(t *testing.T, level slog.Level) int {
	t.Helper()
	n := 0
	for _, rec := range b.Records(t) {
		if rec[slog.LevelKey] == level.String() {
			n++
		}
	}
	return n
}

func (b *logBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

type testEnv struct {
	reg   *Registry
	logs  *logBuffer
	clock *fakeClock
}

// newTestEnv builds a registry whose heartbeat ticker never fires on its own;
// tests drive heartbeats through the fake clock instead.
func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	logs := &logBuffer{}
	clock := newFakeClock()
	logger := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	cfg := Config{
		HeartbeatInterval:    time.Hour,
		HeartbeatGracePeriod: 15 * time.Second,
	}
	opts = append([]Option{WithLogger(logger), WithClock(clock.Now)}, opts...)
	reg := NewRegistry(cfg, opts...)
	t.Cleanup(reg.CloseAll)

	return &testEnv{reg: reg, logs: logs, clock: clock}
}

func (e *testEnv) connect(t *testing.T) (*Conn, *fakeSocket) {
	t.Helper()
	sock := &fakeSocket{}
	c := e.reg.Accept(sock, RequestMeta{RemoteAddr: "10.0.0.1:5000", Header: http.Header{}})
	return c, sock
}

func (e *testEnv) peer(t *testing.T, role Role) (*Conn, *fakeSocket) {
	t.Helper()
	c, sock := e.connect(t)
	handshake(c, role)
	require.Equal(t, role, c.Role())
	return c, sock
}

func handshake(c *Conn, role Role) {
	c.HandleMessage([]byte(`{"event":"handshake","data":{"role":"` + string(role) + `"}}`))
}

// requireConsistent checks that every assignment has a matching roster entry
// and vice versa, and that both sides refer to live connections of the right role.
func requireConsistent(t *testing.T, r *Registry) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	for clientID, workerID := range r.assigned {
		client, ok := r.conns[clientID]
		require.True(t, ok, "assigned client %s is not live", clientID)
		require.Equal(t, RoleClient, client.role)
		worker, ok := r.conns[workerID]
		require.True(t, ok, "assigned worker %s is not live", workerID)
		require.Equal(t, RoleWorker, worker.role)
		_, inRoster := r.rosters[workerID][clientID]
		require.True(t, inRoster, "client %s missing from roster of %s", clientID, workerID)
	}
	for workerID, roster := range r.rosters {
		_, ok := r.conns[workerID]
		require.True(t, ok, "roster kept for closed worker %s", workerID)
		for clientID := range roster {
			require.Equal(t, workerID, r.assigned[clientID], "roster entry %s has no matching assignment", clientID)
		}
	}
}

var errSend = errors.New("send buffer full")
