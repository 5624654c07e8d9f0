// Package budget enforces per-sender daily action limits and the warmup
// ramp that raises those limits as a new sender proves healthy.
//
// A fifth of each sender's daily connection budget is held back for
// priority-1 requests so urgent invitations (for example after a prospect
// opens an email) still go out late in the day.
package budget
