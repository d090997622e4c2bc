// Package metrics provides Prometheus metrics for monitoring the relay.
//
// Key metrics:
//   - Open connections by role
//   - Handshake outcomes and worker assignments
//   - Forwarded and dropped message counts
//   - Heartbeat evictions and probe latency
package metrics
