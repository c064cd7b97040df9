// Package notify renders transient operator notifications: alerts, a single
// progress indicator and the connectivity status indicator.
package notify

import "time"

// Severity classifies an alert.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Sink displays alerts and progress for long-running operations.
type Sink interface {
	ShowAlert(message string, severity Severity)
	ShowProgress(message string, percent int)
	UpdateProgress(percent int)
}

// StatusIndicator reflects the current connectivity state.
type StatusIndicator interface {
	SetConnectivity(online bool)
}

// Alert is a visible notification.
type Alert struct {
	ID       int64
	Message  string
	Severity Severity
	ShownAt  time.Time
	Duration time.Duration
}

// Progress is the state of the progress indicator.
type Progress struct {
	Message string
	Percent int
	Visible bool
}

// Nop discards every notification.
type Nop struct{}

func (Nop) ShowAlert(string, Severity) {}
func (Nop) ShowProgress(string, int)    {}
func (Nop) UpdateProgress(int)          {}
func (Nop) SetConnectivity(bool)        {}
