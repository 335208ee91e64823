// Package test provides small assertion helpers shared by every package's
// own _test.go files. It is a test-only helper package: nothing in the
// non-test tree imports it.
package test

import (
	"math"
	"reflect"
	"testing"
)

// ExpectSuccess fails the test if v indicates failure. An error value must be
// nil; a bool must be true; any other value is considered a success (there is
// nothing to fail on).
func ExpectSuccess(t *testing.T, v interface{}) {
	t.Helper()

	switch v := v.(type) {
	case error:
		if v != nil {
			t.Errorf("expected success but got error: %v", v)
		}
	case bool:
		if !v {
			t.Errorf("expected success but got false")
		}
	}
}

// ExpectFailure fails the test if v indicates success. An error value must be
// non-nil; a bool must be false.
func ExpectFailure(t *testing.T, v interface{}) {
	t.Helper()

	switch v := v.(type) {
	case error:
		if v == nil {
			t.Errorf("expected failure but got no error")
		}
	case bool:
		if v {
			t.Errorf("expected failure but got true")
		}
	}
}

// ExpectEquality fails the test if got and want are not equal.
func ExpectEquality(t *testing.T, got, want interface{}) {
	t.Helper()

	if !reflect.DeepEqual(got, want) {
		t.Errorf("values are not equal: got %v, want %v", got, want)
	}
}

// ExpectInequality fails the test if got and want are equal.
func ExpectInequality(t *testing.T, got, want interface{}) {
	t.Helper()

	if reflect.DeepEqual(got, want) {
		t.Errorf("values are not expected to be equal: got %v, want %v", got, want)
	}
}

// ExpectApproximate fails the test if got and want differ by more than delta.
func ExpectApproximate(t *testing.T, got, want float64, delta float64) {
	t.Helper()

	if math.Abs(got-want) > delta {
		t.Errorf("values are not approximately equal: got %v, want %v (delta %v)", got, want, delta)
	}
}

// Equate is a loose alias of ExpectEquality retained for call sites that
// compare a value against a known-good result rather than phrasing it as an
// expectation.
func Equate(t *testing.T, got, want interface{}) {
	t.Helper()
	ExpectEquality(t, got, want)
}

// ExpectedSuccess is an alias of ExpectSuccess.
func ExpectedSuccess(t *testing.T, v interface{}) {
	t.Helper()
	ExpectSuccess(t, v)
}

// ExpectedFailure is an alias of ExpectFailure.
func ExpectedFailure(t *testing.T, v interface{}) {
	t.Helper()
	ExpectFailure(t, v)
}
