// Package require implements a minimal assertion surface for this module's
// tests, in the shape of tetratelabs-wazero's internal/testing/require
// package: a TestingT seam plus Equal/NoError/Error/True/False/Nil/NotNil/
// ErrorIs helpers that call t.Fatal on failure. It exists so tests read the
// same way across the codebase without pulling in a third-party assertion
// library purely for unit-test ergonomics.
package require

import (
	"errors"
	"fmt"
	"reflect"
)

// TestingT is satisfied by *testing.T; it is its own interface so helpers
// here can be exercised by the package's own tests without a real *testing.T.
type TestingT interface {
	Helper()
	Fatal(args ...interface{})
}

func fail(t TestingT, msg string, args ...interface{}) {
	t.Helper()
	t.Fatal(fmt.Sprintf(msg, args...))
}

// Equal fails the test unless expected and actual are deeply equal.
func Equal(t TestingT, expected, actual interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	if !reflect.DeepEqual(expected, actual) {
		fail(t, "expected %#v, but was %#v%s", expected, actual, formatExtra(msgAndArgs))
	}
}

// NoError fails the test if err is non-nil.
func NoError(t TestingT, err error, msgAndArgs ...interface{}) {
	t.Helper()
	if err != nil {
		fail(t, "expected no error, but was %v%s", err, formatExtra(msgAndArgs))
	}
}

// Error fails the test if err is nil.
func Error(t TestingT, err error, msgAndArgs ...interface{}) {
	t.Helper()
	if err == nil {
		fail(t, "expected an error, but was nil%s", formatExtra(msgAndArgs))
	}
}

// ErrorIs fails the test unless errors.Is(err, target) holds.
func ErrorIs(t TestingT, err, target error, msgAndArgs ...interface{}) {
	t.Helper()
	if !errors.Is(err, target) {
		fail(t, "expected error chain to contain %v, but was %v%s", target, err, formatExtra(msgAndArgs))
	}
}

// True fails the test unless v is true.
func True(t TestingT, v bool, msgAndArgs ...interface{}) {
	t.Helper()
	if !v {
		fail(t, "expected true%s", formatExtra(msgAndArgs))
	}
}

// False fails the test unless v is false.
func False(t TestingT, v bool, msgAndArgs ...interface{}) {
	t.Helper()
	if v {
		fail(t, "expected false%s", formatExtra(msgAndArgs))
	}
}

// Nil fails the test unless v is nil (including typed-nil pointers/slices).
func Nil(t TestingT, v interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	if !isNil(v) {
		fail(t, "expected nil, but was %#v%s", v, formatExtra(msgAndArgs))
	}
}

// NotNil fails the test if v is nil.
func NotNil(t TestingT, v interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	if isNil(v) {
		fail(t, "expected non-nil%s", formatExtra(msgAndArgs))
	}
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Ptr, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

func formatExtra(msgAndArgs []interface{}) string {
	if len(msgAndArgs) == 0 {
		return ""
	}
	if format, ok := msgAndArgs[0].(string); ok {
		return ": " + fmt.Sprintf(format, msgAndArgs[1:]...)
	}
	return fmt.Sprintf(": %v", msgAndArgs)
}
