// Package core is the orchestration layer.  It composes the link,
// the console and the session into complete operational modes and
// provides a builder that selects the right mode from a Config.
//
// Architecture layers (bottom → top):
//
//	transport → device → link → lines/command → session → core → cmd (CLI)
//
// Build is the single place where a Config turns into running parts:
// one shim, one keyboard, one session state, each released on every
// exit path of Run.
package core

import "context"

// Mode is a complete operational mode of linkterm (interactive or
// monitor).  Each mode owns its lifecycle from opening the link to
// closing it.
type Mode interface {
	Run(ctx context.Context) error
}
