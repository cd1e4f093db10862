package layout

import (
	"errors"
	"testing"
)

func equalI64(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

func mustCanonical(t *testing.T, s Shape, name string) Layout {
	t.Helper()

	l, err := MakeCanonical(s, name)
	if err != nil {
		t.Fatalf("MakeCanonical(%s, %q): %v", s, name, err)
	}

	return l
}

func assertErrIs(t *testing.T, err, target error) {
	t.Helper()

	if err == nil {
		t.Fatalf("expected error wrapping %v, got nil", target)
	}

	if !errors.Is(err, target) {
		t.Fatalf("error %q does not wrap %v", err, target)
	}
}
