package oasis

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"testing"
)

func ExampleError() {
	fmt.Println(&Error{
		Inner:   nil,
		Kind:    ErrInternal,
		Message: "test",
		Op:      "ExampleError",
	})

	fmt.Println(&Error{
		Inner:   sql.ErrNoRows,
		Kind:    ErrNotFound,
		Message: "needed row missing",
		Op:      "GetApp",
	})
	err := &Error{
		Inner: &Error{
			Inner:   sql.ErrNoRows,
			Kind:    ErrNotFound,
			Message: "needed row missing",
			Op:      "GetApp",
		},
		Kind: ErrInternal,
	}
	fmt.Println(err)
	fmt.Println(fmt.Errorf("somepackage: oops: %w", &Error{
		Inner:   sql.ErrNoRows,
		Kind:    ErrNotFound,
		Message: "needed row missing",
		Op:      "GetApp",
	}))

	// Output:
	// ExampleError [internal]: test
	// GetApp [not_found]: needed row missing: sql: no rows in result set
	// GetApp [not_found]: needed row missing: sql: no rows in result set
	// somepackage: oops: GetApp [not_found]: needed row missing: sql: no rows in result set
}

type kindTestcase struct {
	Err      error
	Conflict bool
	NotFound bool
	Internal bool
}

func (tc kindTestcase) Run(t *testing.T) {
	t.Log(tc.Err)
	if got, want := errors.Is(tc.Err, ErrConflict), tc.Conflict; got != want {
		t.Errorf("%v: got: %v, want: %v", ErrConflict, got, want)
	}
	if got, want := errors.Is(tc.Err, ErrNotFound), tc.NotFound; got != want {
		t.Errorf("%v: got: %v, want: %v", ErrNotFound, got, want)
	}
	if got, want := errors.Is(tc.Err, ErrInternal), tc.Internal; got != want {
		t.Errorf("%v: got: %v, want: %v", ErrInternal, got, want)
	}
}

func TestErrorKind(t *testing.T) {
	tt := []kindTestcase{
		// 0: Conflict
		{
			Err: &Error{
				Inner: errors.New("duplicate slug"),
				Kind:  ErrConflict,
			},
			Conflict: true,
		},
		// 1: NotFound
		{
			Err: &Error{
				Inner: errors.New("no such app"),
				Kind:  ErrNotFound,
			},
			NotFound: true,
		},
		// 2: Wrapped by fmt.Errorf
		{
			Err: fmt.Errorf("catalog: %w", &Error{
				Inner: errors.New("no such app"),
				Kind:  ErrNotFound,
			}),
			NotFound: true,
		},
		// 3: Chained kinds are both visible
		{
			Err: &Error{
				Kind: ErrInternal,
				Inner: &Error{
					Inner: errors.New("confused"),
					Kind:  ErrConflict,
				},
			},
			Conflict: true,
			Internal: true,
		},
	}

	for i, tc := range tt {
		t.Run(strconv.Itoa(i), tc.Run)
	}
}
