// Package database provides the PostgreSQL connection pool used for relay key lookups.
//
// The relay keeps no state of its own in the database. The pool only backs
// the postgres authentication mode, which checks handshake keys against the
// relay_keys table (see Schema).
package database
