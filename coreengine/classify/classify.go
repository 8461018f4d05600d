// Package classify maps raw widget and transport errors onto outcome categories.
//
// Policy, in priority order:
//  1. explicit TIMEOUT state marker -> AnalysisTimeout
//  2. "expired" phrase               -> SessionExpired
//  3. network failure phrase or type -> NetworkError
//  4. anything else                  -> UnknownError (forwarded verbatim)
//
// Matching is case-insensitive substring matching on the folded text.
// Classify never panics and always returns a category.
package classify

import (
	"errors"
	"net"
	"strings"

	"golang.org/x/text/cases"

	"github.com/jeeves-cluster-organization/livenessflow/coreengine/liveness"
)

// TimeoutState is the widget's explicit timeout marker.
const TimeoutState = "TIMEOUT"

// ExpiredPhrases identify a session the remote service has rejected as expired.
var ExpiredPhrases = []string{
	"expired",
}

// NetworkPhrases identify transport-level failures.
var NetworkPhrases = []string{
	"failed to fetch",
	"networkerror",
	"network error",
	"network request failed",
	"name_not_resolved",
	"name not resolved",
	"err_internet_disconnected",
	"connection_timeout",
	"load failed",
}

// NetworkFailure is implemented by errors that already know they are
// transport failures (for example backend.TransportError).
type NetworkFailure interface {
	NetworkFailure() bool
}

// Classify maps a raw error detail onto an outcome category.
func Classify(detail any) (outcome liveness.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = liveness.OutcomeUnknownError
		}
	}()

	if detail == nil {
		return liveness.OutcomeUnknownError
	}

	if HasTimeoutState(detail) {
		return liveness.OutcomeAnalysisTimeout
	}

	text := fold(Describe(detail))

	if containsAny(text, ExpiredPhrases) {
		return liveness.OutcomeSessionExpired
	}

	if isNetworkType(detail) || containsAny(text, NetworkPhrases) {
		return liveness.OutcomeNetworkError
	}

	return liveness.OutcomeUnknownError
}

// isNetworkType checks typed transport failures.
func isNetworkType(detail any) bool {
	err, ok := detail.(error)
	if !ok {
		return false
	}

	var nf NetworkFailure
	if errors.As(err, &nf) && nf.NetworkFailure() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func fold(s string) string {
	return cases.Fold().String(s)
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, fold(p)) {
			return true
		}
	}
	return false
}
