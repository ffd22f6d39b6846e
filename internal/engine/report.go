// Package engine implements the bidirectional reconciliation engine: one
// sync run pulls the authoritative remote event set into the local store,
// sweeps remote deletions, then pushes locally created or modified events,
// all under a per-account single-flight guard.
package engine

import "fmt"

// RunSummary reports the outcome of one sync run. Consumed verbatim by the
// CLI/API layer; Error is set for run-level failures (auth, no calendars,
// unreachable server), while Errors collects non-fatal per-object failures
// that did not abort the run.
type RunSummary struct {
	Account string   `json:"account"`
	Message string   `json:"message"`
	Pulled  int      `json:"pulled"`
	Updated int      `json:"updated"`
	Removed int      `json:"removed"`
	Pushed  int      `json:"pushed"`
	Deleted int      `json:"deleted"`
	Errors  []string `json:"errors,omitempty"`
	Error   string   `json:"error,omitempty"`
}

func (s *RunSummary) finalize(providerName string) {
	s.Message = fmt.Sprintf(
		"%s sync complete: pulled %d, updated %d, removed %d, pushed %d, deleted %d",
		providerName, s.Pulled, s.Updated, s.Removed, s.Pushed, s.Deleted)

	if len(s.Errors) > 0 {
		s.Message += fmt.Sprintf(" (%d errors)", len(s.Errors))
	}
}
