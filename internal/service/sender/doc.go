// Package sender manages sender seats: lifecycle (setup, active, paused,
// disabled), platform health, the sealed credential and session blobs the
// worker uses to log in, and the acceptance rate that gates warmup.
//
// Credentials and cookies are sealed with a sealer.Sealer before they reach
// the repository; only this package ever sees them in the clear.
package sender
