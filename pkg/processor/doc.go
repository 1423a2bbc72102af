// Package processor implements the authentication state machine: it consumes
// the results produced by authenticators through a flow and drives the
// primary, optional secondary and final transitions of a login attempt.
package processor
