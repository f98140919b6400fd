package shared

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsSQLiteConflictError(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":    {nil, false},
		"busy":   {errors.New("exec: SQLITE_BUSY"), true},
		"locked": {errors.New("database is locked (5)"), true},
		"other":  {errors.New("no such table"), false},
	}
	for name, tc := range cases {
		if got := IsSQLiteConflictError(tc.err); got != tc.want {
			t.Errorf("%s: expected %v, got %v", name, tc.want, got)
		}
	}
}

func TestRetryOnConflict(t *testing.T) {
	t.Parallel()

	calls := 0
	err := RetryOnConflict(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("SQLITE_BUSY")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third attempt, got err=%v calls=%d", err, calls)
	}

	calls = 0
	permanent := errors.New("constraint failed")
	err = RetryOnConflict(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("non-conflict errors must not retry, got err=%v calls=%d", err, calls)
	}

	calls = 0
	err = RetryOnConflict(context.Background(), 2, time.Millisecond, func() error {
		calls++
		return errors.New("database is locked")
	})
	if err == nil || calls != 2 {
		t.Fatalf("expected exhausted retries, got err=%v calls=%d", err, calls)
	}
}

func TestRetryOnConflictHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RetryOnConflict(ctx, 5, time.Hour, func() error { return errors.New("SQLITE_BUSY") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
