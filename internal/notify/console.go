package notify

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

const (
	defaultAlertDuration = 5 * time.Second
	progressBarWidth     = 20
)

// ConsoleConfig configures a Console sink.
type ConsoleConfig struct {
	Output        io.Writer
	AlertDuration time.Duration
	NoColor       bool
	Clock         func() time.Time
}

// Console writes notifications to a terminal and tracks which alerts are
// still visible. Alerts dismiss themselves after their duration.
type Console struct {
	mu       sync.Mutex
	out      io.Writer
	duration time.Duration
	clock    func() time.Time
	colors   map[Severity]*color.Color
	online   *color.Color
	offline  *color.Color

	nextID   int64
	alerts   map[int64]Alert
	timers   map[int64]*time.Timer
	progress Progress
	status   *bool
}

// NewConsole constructs a Console sink.
func NewConsole(cfg ConsoleConfig) *Console {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	duration := cfg.AlertDuration
	if duration <= 0 {
		duration = defaultAlertDuration
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	console := &Console{
		out:      out,
		duration: duration,
		clock:    clock,
		colors: map[Severity]*color.Color{
			SeverityInfo:    color.New(color.FgCyan),
			SeveritySuccess: color.New(color.FgGreen),
			SeverityWarning: color.New(color.FgYellow),
			SeverityError:   color.New(color.FgRed, color.Bold),
		},
		online:  color.New(color.FgGreen, color.Bold),
		offline: color.New(color.FgRed, color.Bold),
		alerts:  make(map[int64]Alert),
		timers:  make(map[int64]*time.Timer),
	}
	if cfg.NoColor {
		for _, c := range console.colors {
			c.DisableColor()
		}
		console.online.DisableColor()
		console.offline.DisableColor()
	}
	return console
}

// ShowAlert renders message for the default duration.
func (c *Console) ShowAlert(message string, severity Severity) {
	c.ShowAlertFor(message, severity, c.duration)
}

// ShowAlertFor renders message and dismisses it after duration.
func (c *Console) ShowAlertFor(message string, severity Severity, duration time.Duration) {
	if duration <= 0 {
		duration = c.duration
	}
	palette, ok := c.colors[severity]
	if !ok {
		severity = SeverityInfo
		palette = c.colors[SeverityInfo]
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.alerts[id] = Alert{
		ID:       id,
		Message:  message,
		Severity: severity,
		ShownAt:  c.clock(),
		Duration: duration,
	}
	c.timers[id] = time.AfterFunc(duration, func() {
		c.dismiss(id)
	})
	palette.Fprintf(c.out, "[%s] %s\n", strings.ToUpper(string(severity)), message)
}

// Active returns the alerts that have not been dismissed, oldest first.
func (c *Console) Active() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	active := make([]Alert, 0, len(c.alerts))
	for _, alert := range c.alerts {
		active = append(active, alert)
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	return active
}

// ShowProgress opens the progress indicator.
func (c *Console) ShowProgress(message string, percent int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress = Progress{Message: message, Percent: clampPercent(percent), Visible: true}
	c.renderProgressLocked()
}

// UpdateProgress moves the progress indicator; reaching 100 hides it.
func (c *Console) UpdateProgress(percent int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.progress.Visible {
		return
	}
	c.progress.Percent = clampPercent(percent)
	c.renderProgressLocked()
	if c.progress.Percent >= 100 {
		c.progress.Visible = false
	}
}

// CurrentProgress reports the progress indicator state.
func (c *Console) CurrentProgress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// SetConnectivity renders the status indicator when it changes.
func (c *Console) SetConnectivity(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != nil && *c.status == online {
		return
	}
	c.status = &online
	if online {
		c.online.Fprintln(c.out, "● Çevrimiçi")
		return
	}
	c.offline.Fprintln(c.out, "● Çevrimdışı")
}

// Close cancels pending dismiss timers and clears visible alerts.
func (c *Console) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, timer := range c.timers {
		timer.Stop()
		delete(c.timers, id)
	}
	c.alerts = make(map[int64]Alert)
}

func (c *Console) dismiss(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.alerts, id)
	delete(c.timers, id)
}

func (c *Console) renderProgressLocked() {
	filled := c.progress.Percent * progressBarWidth / 100
	bar := strings.Repeat("#", filled) + strings.Repeat(".", progressBarWidth-filled)
	fmt.Fprintf(c.out, "[%s] %3d%% %s\n", bar, c.progress.Percent, c.progress.Message)
}

func clampPercent(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
