// Package relay implements the connection registry and per-connection state
// machine of the peer relay.
//
// The relay pairs two classes of peers over persistent sockets:
//   - clients, which want service from a worker
//   - workers, which serve any number of clients (their roster)
//
// Every accepted socket becomes a Conn tracked by a Registry. A Conn starts
// unassigned and takes a role from its first successful handshake. Clients
// are assigned to the least-loaded worker; a worker joining adopts all
// orphaned clients, and a worker leaving fails its roster over to the
// remaining workers. Application messages are opaque: a client's message is
// relayed to its worker tagged with the client id, and a worker's message is
// relayed to the client named by its id field.
//
// All registry and roster mutations are serialized by the Registry mutex.
// Heartbeat ticks, transport callbacks and authentication results all enter
// through that lock, so the client/worker assignment maps stay consistent.
package relay
