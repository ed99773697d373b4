package store

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsConflict(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked"), true},
		{fmt.Errorf("exec: %w", errors.New("SQLITE_BUSY: busy")), true},
		{errors.New("no such table: events"), false},
	}
	for _, tc := range cases {
		if got := isConflict(tc.err); got != tc.want {
			t.Errorf("isConflict(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
