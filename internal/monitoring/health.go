// Package monitoring evaluates readiness probes for the service's dependencies.
package monitoring

import (
	"context"
	"fmt"
	"time"
)

// Status encodes the outcome of a probe or a whole report.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

const defaultProbeTimeout = 2 * time.Second

// Result captures a single probe outcome.
type Result struct {
	Component string        `json:"component"`
	Status    Status        `json:"status"`
	Details   string        `json:"details,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Report aggregates probe results. A failing critical probe takes the service
// down; any other failure only degrades it.
type Report struct {
	Ready     bool      `json:"ready"`
	Status    Status    `json:"status"`
	Checks    []Result  `json:"checks"`
	CheckedAt time.Time `json:"checked_at"`
}

// Probe checks one dependency. Run returns nil when the dependency is usable.
type Probe struct {
	Name     string
	Critical bool
	Run      func(ctx context.Context) error
}

// Checker runs registered probes on demand.
type Checker struct {
	probes  []Probe
	timeout time.Duration
	now     func() time.Time
}

// NewChecker constructs a Checker bounding each probe by timeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &Checker{timeout: timeout, now: time.Now}
}

// Register appends probe. Unnamed probes are ignored.
func (c *Checker) Register(probe Probe) {
	if probe.Name == "" || probe.Run == nil {
		return
	}
	c.probes = append(c.probes, probe)
}

// Evaluate runs every probe in registration order.
func (c *Checker) Evaluate(ctx context.Context) Report {
	report := Report{
		Ready:     true,
		Status:    StatusUp,
		Checks:    make([]Result, 0, len(c.probes)),
		CheckedAt: c.now().UTC(),
	}

	for _, probe := range c.probes {
		result := c.run(ctx, probe)
		report.Checks = append(report.Checks, result)

		switch result.Status {
		case StatusDown:
			report.Ready = false
			report.Status = StatusDown
		case StatusDegraded:
			if report.Status == StatusUp {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}

func (c *Checker) run(ctx context.Context, probe Probe) (result Result) {
	start := time.Now()
	result.Component = probe.Name

	failed := StatusDegraded
	if probe.Critical {
		failed = StatusDown
	}

	defer func() {
		if rec := recover(); rec != nil {
			result.Status = failed
			result.Details = fmt.Sprintf("panic: %v", rec)
		}
		result.Duration = time.Since(start)
	}()

	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := probe.Run(probeCtx); err != nil {
		result.Status = failed
		result.Details = err.Error()
		return result
	}
	result.Status = StatusUp
	return result
}
