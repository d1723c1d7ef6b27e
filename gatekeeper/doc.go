// Package gatekeeper decides, for every navigation, whether the user may
// enter the target route, must first be recovered, or is redirected.
//
// A [Gatekeeper] never blocks a navigation outright. While one decision
// runs, concurrent ones are allowed through (fail open), and every wait
// on recovery or init is bounded.
//
// # Architecture boundaries
//
// The gatekeeper reads session state through the [Session] and
// [Recoverer] interfaces and mutates it only through them. It never
// touches storage directly. [ForController] wires it to an
// authkeeper.Controller.
package gatekeeper
