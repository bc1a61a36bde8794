// Package assert provides soft checks that call t.Errorf and let the test
// continue, built over testify's comparison primitives plus a
// diff-formatted DeepEqual failure message.
package assert

import (
	"strings"
	"testing"

	"github.com/d4l3k/messagediff"
	"github.com/stretchr/testify/assert"
)

// Equal reports a failure (without stopping the test) if want != got.
func Equal(t testing.TB, want, got interface{}, msg ...string) {
	t.Helper()
	if !assert.ObjectsAreEqual(want, got) {
		t.Errorf("%swant: %v, got: %v", prefix(msg), want, got)
	}
}

// NotEqual reports a failure if want == got.
func NotEqual(t testing.TB, want, got interface{}, msg ...string) {
	t.Helper()
	if assert.ObjectsAreEqual(want, got) {
		t.Errorf("%swant values to differ, both are: %v", prefix(msg), got)
	}
}

// DeepEqual reports a failure with a structural diff when want != got.
func DeepEqual(t testing.TB, want, got interface{}, msg ...string) {
	t.Helper()
	if diff, equal := messagediff.PrettyDiff(want, got); !equal {
		t.Errorf("%svalues differ:\n%s", prefix(msg), diff)
	}
}

// NoError reports a failure if err != nil.
func NoError(t testing.TB, err error, msg ...string) {
	t.Helper()
	if err != nil {
		t.Errorf("%sunexpected error: %v", prefix(msg), err)
	}
}

// ErrorContains reports a failure unless err is non-nil and its message
// contains want.
func ErrorContains(t testing.TB, want string, err error, msg ...string) {
	t.Helper()
	if err == nil {
		t.Errorf("%sexpected error containing %q, got nil", prefix(msg), want)
		return
	}
	if !strings.Contains(err.Error(), want) {
		t.Errorf("%sexpected error containing %q, got: %v", prefix(msg), want, err)
	}
}

// True reports a failure unless ok is true.
func True(t testing.TB, ok bool, msg ...string) {
	t.Helper()
	if !ok {
		t.Errorf("%sexpected condition to be true", prefix(msg))
	}
}

func prefix(msg []string) string {
	if len(msg) == 0 {
		return ""
	}
	return strings.Join(msg, " ") + ": "
}
