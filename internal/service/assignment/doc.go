// Package assignment picks the sender that should work a person.
//
// In email_linkedin mode the sender whose mailbox already emailed the
// person is chosen so both channels share one identity. In linkedin_only
// mode the active sender with the least usage today is chosen.
package assignment
