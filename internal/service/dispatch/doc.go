// Package dispatch admits queued actions to a worker and accounts for
// their outcome.
//
// A worker asks for the next actions of one sender. Dispatch refuses
// senders that are not claimable, claims only the action types that still
// have budget, re-checks every claimed action against the sender's budget
// (counting the actions already admitted in the same batch), and hands
// over-budget claims back to the queue for the next usage day. On
// completion it consumes budget and records connection state.
package dispatch
