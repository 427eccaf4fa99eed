package robustmq

import (
	"errors"
	"testing"

	"connectrpc.com/connect"
)

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", connect.NewError(connect.CodeNotFound, errors.New("no such key")), ExitNotFound},
		{"invalid argument", connect.NewError(connect.CodeInvalidArgument, errors.New("bad request")), ExitValidationError},
		{"already exists", connect.NewError(connect.CodeAlreadyExists, errors.New("dup")), ExitValidationError},
		{"failed precondition", connect.NewError(connect.CodeFailedPrecondition, errors.New("not leader")), ExitValidationError},
		{"deadline exceeded", connect.NewError(connect.CodeDeadlineExceeded, errors.New("timeout")), ExitTimeout},
		{"unavailable", connect.NewError(connect.CodeUnavailable, errors.New("down")), ExitTimeout},
		{"internal", connect.NewError(connect.CodeInternal, errors.New("boom")), ExitError},
		{"plain error", errors.New("not a connect error"), ExitError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCodeFor(tc.err); got != tc.want {
				t.Fatalf("exitCodeFor(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestFailWrapsExitCoder(t *testing.T) {
	err := fail(connect.NewError(connect.CodeNotFound, errors.New("missing")))
	ec, ok := err.(interface{ ExitCode() int })
	if !ok {
		t.Fatalf("fail() did not return an ExitCoder: %v", err)
	}
	if ec.ExitCode() != ExitNotFound {
		t.Fatalf("exit code = %d, want %d", ec.ExitCode(), ExitNotFound)
	}
}

func TestParseNodeID(t *testing.T) {
	if id, err := parseNodeID("42"); err != nil || id != 42 {
		t.Fatalf("parseNodeID(42) = (%d, %v), want (42, nil)", id, err)
	}
	if _, err := parseNodeID("not-a-number"); err == nil {
		t.Fatal("expected error for non-numeric node id")
	}
	if _, err := parseNodeID("-1"); err == nil {
		t.Fatal("expected error for negative node id")
	}
}
