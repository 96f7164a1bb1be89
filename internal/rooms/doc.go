// Package rooms implements the room registry using the actor pattern.
//
// A single goroutine owns every room's state; operations arrive as commands
// on a channel (no mutexes), so handlers run to completion and no two
// mutations ever race. The question timer re-enters through the same command
// channel instead of mutating state from its own goroutine, and an epoch
// counter per room makes a superseded timer's fire a no-op.
package rooms
