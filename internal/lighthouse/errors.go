package lighthouse

import (
	"fmt"
	"strings"
)

type Kind int

const (
	KindFailed Kind = iota
	KindAuthorizationRefused
	KindNotFound
	KindMethodNotAllowed
	KindTooManyRequests
	KindTimedOut
	KindSignaled
)

func (k Kind) String() string {
	switch k {
	case KindAuthorizationRefused:
		return "authorization refused"
	case KindNotFound:
		return "not found"
	case KindMethodNotAllowed:
		return "method not allowed"
	case KindTooManyRequests:
		return "too many requests"
	case KindTimedOut:
		return "timed out"
	case KindSignaled:
		return "signaled"
	}
	return "failed"
}

// AuditError is returned for every audit that did not produce a report.
type AuditError struct {
	Kind   Kind
	URL    string
	Output string
}

func (e *AuditError) Error() string {
	switch e.Kind {
	case KindFailed:
		return fmt.Sprintf("Audit of %s failed: %s", e.URL, e.Output)
	case KindTimedOut:
		return fmt.Sprintf("Audit of %s timed out: %s", e.URL, e.Output)
	case KindSignaled:
		return fmt.Sprintf("Audit of %s was terminated by a signal: %s", e.URL, e.Output)
	}
	return fmt.Sprintf("Audit of %s failed due to %s: %s", e.URL, e.Kind, e.Output)
}

// Transient reports whether the failure came from the audited site
// answering with a refusing HTTP status.
func (e *AuditError) Transient() bool {
	switch e.Kind {
	case KindAuthorizationRefused, KindNotFound, KindMethodNotAllowed, KindTooManyRequests:
		return true
	}
	return false
}

var statusMatchers = []struct {
	needle string
	kind   Kind
}{
	{"status code: 403", KindAuthorizationRefused},
	{"status code: 404", KindNotFound},
	{"status code: 405", KindMethodNotAllowed},
	{"status code: 429", KindTooManyRequests},
}

// Classify maps the error output of a failed run to a Kind. The first
// matching status wins.
func Classify(output string) Kind {
	lower := strings.ToLower(output)
	for _, m := range statusMatchers {
		if strings.Contains(lower, m.needle) {
			return m.kind
		}
	}
	return KindFailed
}
