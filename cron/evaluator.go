// Package cron computes the next fire time of a subscription's cron schedule.
// It exists as a thin seam over robfig/cron/v3 so the next-fire computer can
// be tested against a fixed clock without parsing real cron strings in tests.
package cron

import (
	"fmt"
	"time"

	robfigcron "github.com/robfig/cron/v3"
)

// Evaluator computes the next occurrence of a cron expression strictly after after.
type Evaluator interface {
	Next(expr string, after time.Time) (time.Time, error)
}

// StandardEvaluator parses expressions with the standard five-field cron syntax
// (minute hour dom month dow), matching the schedules subscriptions are created with.
type StandardEvaluator struct {
	parser robfigcron.Parser
}

// NewStandardEvaluator builds an Evaluator using the standard cron field layout.
func NewStandardEvaluator() *StandardEvaluator {
	return &StandardEvaluator{
		parser: robfigcron.NewParser(
			robfigcron.Minute | robfigcron.Hour | robfigcron.Dom | robfigcron.Month | robfigcron.Dow,
		),
	}
}

// Next parses expr and returns its next occurrence strictly after after.
func (e *StandardEvaluator) Next(expr string, after time.Time) (time.Time, error) {
	sched, err := e.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("cron: parse %q: %w", expr, err)
	}
	return sched.Next(after), nil
}
