package testutil

import "testing"

// Given names the node state or bundle a scenario starts from, e.g.
// Given(t, "a bundle of 5 precedents built with k=5", ...).
func Given(t *testing.T, state string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Given "+state, fn)
}

// When names the exchange or operator action under test.
func When(t *testing.T, action string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("When "+action, fn)
}

// Then names the outcome the subtest asserts.
func Then(t *testing.T, outcome string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Then "+outcome, fn)
}
