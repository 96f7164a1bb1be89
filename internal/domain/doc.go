// Package domain defines the core domain types and contracts.
//
// Concept-oriented files only (room.go, errors.go) with shared types and
// sentinel errors. No implementation code lives here; keeping contracts in
// one leaf package prevents circular imports between the room registry and
// the gateway.
package domain
