package cronspec

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrInvalidExpression = errors.New("invalid schedule expression")

// ValidationError reports a schedule that cannot be armed.
type ValidationError struct {
	Expr string
	Err  error
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invalid schedule %q", e.Expr)
	}
	return fmt.Sprintf("invalid schedule %q: %v", e.Expr, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidExpression }

// Parser accepts standard 5-field expressions and @descriptors
// ("@daily", "@every 6h").
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Parse returns the schedule for expr or a *ValidationError.
func Parse(expr string) (cron.Schedule, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return nil, &ValidationError{Expr: expr, Err: errors.New("empty expression")}
	}
	sched, err := Parser.Parse(s)
	if err != nil {
		return nil, &ValidationError{Expr: expr, Err: err}
	}
	return sched, nil
}

// Validate reports whether expr can be scheduled.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// NextN previews the next n fire instants strictly after from.
func NextN(expr string, from time.Time, n int) ([]time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}
