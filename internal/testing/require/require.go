// Package require provides the same checks as assert, but fatal — it
// calls t.Fatalf and stops the current goroutine's test immediately. Also
// carries a log-hook assertion (require.LogsContain).
package require

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

// Equal stops the test immediately if want != got.
func Equal(t testing.TB, want, got interface{}, msg ...string) {
	t.Helper()
	if !assert.ObjectsAreEqual(want, got) {
		t.Fatalf("%swant: %v, got: %v", prefix(msg), want, got)
	}
}

// NoError stops the test immediately if err != nil.
func NoError(t testing.TB, err error, msg ...string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%sunexpected error: %v", prefix(msg), err)
	}
}

// ErrorContains stops the test immediately unless err is non-nil and
// contains want.
func ErrorContains(t testing.TB, want string, err error, msg ...string) {
	t.Helper()
	if err == nil {
		t.Fatalf("%sexpected error containing %q, got nil", prefix(msg), want)
	}
	if !strings.Contains(err.Error(), want) {
		t.Fatalf("%sexpected error containing %q, got: %v", prefix(msg), want, err)
	}
}

// True stops the test immediately unless ok is true.
func True(t testing.TB, ok bool, msg ...string) {
	t.Helper()
	if !ok {
		t.Fatalf("%sexpected condition to be true", prefix(msg))
	}
}

// LogsContain stops the test immediately unless one of the hook's captured
// entries contains want.
func LogsContain(t testing.TB, hook *test.Hook, want string) {
	t.Helper()
	for _, entry := range hook.AllEntries() {
		if strings.Contains(entry.Message, want) {
			return
		}
	}
	t.Fatalf("logs did not contain %q", want)
}

// LogsDoNotContain stops the test immediately if any captured entry
// contains want.
func LogsDoNotContain(t testing.TB, hook *test.Hook, want string) {
	t.Helper()
	for _, entry := range hook.AllEntries() {
		if strings.Contains(entry.Message, want) {
			t.Fatalf("logs unexpectedly contained %q: %q", want, entry.Message)
		}
	}
}

func prefix(msg []string) string {
	if len(msg) == 0 {
		return ""
	}
	return strings.Join(msg, " ") + ": "
}
