package testutil

import (
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/liveness"
)

// =============================================================================
// FIXTURES
// =============================================================================

// VerdictFor builds a SUCCEEDED verdict with the given scores.
func VerdictFor(sessionID string, confidence, threshold float64) liveness.Verdict {
	return liveness.NewVerdict(sessionID, liveness.StatusSucceeded, confidence >= threshold, confidence, threshold)
}
