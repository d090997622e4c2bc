// Package transport accepts WebSocket connections and hands them to the relay.
//
// Each accepted socket runs two goroutines:
//   - a read loop feeding frames and pongs into its relay.Conn
//   - a write loop draining a bounded send queue
//
// Sends never block the relay: when the queue is full the frame is rejected
// with ErrSendBufferFull.
package transport
