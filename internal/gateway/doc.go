// Package gateway implements the real-time transport boundary.
//
// The Hub is an actor (single goroutine + command channel, no mutexes) that
// keeps transport-level multicast groups keyed by room identifier, with a
// per-connection write goroutine so a slow client never blocks a broadcast.
// A Session is the per-connection read pump: it decodes event envelopes and
// translates them into room registry operations and broadcasts.
package gateway
