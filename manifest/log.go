package manifest

import (
	"errors"
	"fmt"
	"log/slog"
)

// Log collects validation errors for one compile.
//
// Every validator records into the same Log so a single run reports every
// defect, not just the first. Recording never fails and never panics.
// The zero value is ready to use.
type Log struct {
	// Logger, when set, receives each error at Error level as it is recorded.
	Logger *slog.Logger

	errs []*Error
}

// Errorf records a validation error under ruleID.
func (l *Log) Errorf(ruleID, format string, args ...any) {
	e := newError(KindValidation, ruleID, fmt.Sprintf(format, args...))
	l.errs = append(l.errs, e)
	if l.Logger != nil {
		l.Logger.Error(e.Message, "rule", ruleID)
	}
}

// ErrorOccurred reports whether at least one error has been recorded.
func (l *Log) ErrorOccurred() bool {
	return len(l.errs) > 0
}

// Count returns the number of recorded errors.
func (l *Log) Count() int {
	return len(l.errs)
}

// Errors returns the recorded errors in the order they were recorded.
func (l *Log) Errors() []*Error {
	return append([]*Error(nil), l.errs...)
}

// Messages returns the human-readable text of every recorded error.
func (l *Log) Messages() []string {
	out := make([]string, 0, len(l.errs))
	for _, e := range l.errs {
		out = append(out, e.Message)
	}
	return out
}

// Err joins the recorded errors, or returns nil if none were recorded.
func (l *Log) Err() error {
	if len(l.errs) == 0 {
		return nil
	}
	joined := make([]error, 0, len(l.errs))
	for _, e := range l.errs {
		joined = append(joined, e)
	}
	return errors.Join(joined...)
}

// HasRule reports whether an error with ruleID has been recorded.
func (l *Log) HasRule(ruleID string) bool {
	for _, e := range l.errs {
		if e.RuleID == ruleID {
			return true
		}
	}
	return false
}
