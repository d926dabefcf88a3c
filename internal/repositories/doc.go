// Package repositories implements SQLite persistence for the entity graph.
//
// The in-memory graph is canonical; the [Mirror] keeps a durable copy of it.
// Every committed pass reaches the mirror as a changeset written in one SQL
// transaction, and at startup the mirror's rows are decoded and seeded back
// into the graph. Rows are JSON documents keyed by (server id, kind, remote
// id), the same identity the graph uses.
package repositories
