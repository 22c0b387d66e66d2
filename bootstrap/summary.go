package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/kbukum/brokerpool/component"
	"github.com/kbukum/brokerpool/logger"
)

// ComponentSummary is one line of the startup summary.
type ComponentSummary struct {
	Name    string
	Type    string
	Details string
	Status  component.HealthStatus
	Message string
}

// Summary collects what the process started.
type Summary struct {
	serviceName     string
	version         string
	startupDuration time.Duration
	components      []ComponentSummary
}

// NewSummary creates an empty summary.
func NewSummary(serviceName, version string) *Summary {
	return &Summary{serviceName: serviceName, version: version}
}

// SetStartupDuration records the total startup time.
func (s *Summary) SetStartupDuration(d time.Duration) {
	s.startupDuration = d
}

// StartupDuration returns the recorded startup time.
func (s *Summary) StartupDuration() time.Duration { return s.startupDuration }

// Collect snapshots description and health of every registered component.
func (s *Summary) Collect(ctx context.Context, registry *component.Registry) []ComponentSummary {
	s.components = s.components[:0]
	if registry == nil {
		return nil
	}
	for _, c := range registry.All() {
		cs := ComponentSummary{Name: c.Name()}
		if d, ok := c.(component.Describable); ok {
			desc := d.Describe()
			if desc.Name != "" {
				cs.Name = desc.Name
			}
			cs.Type, cs.Details = desc.Type, desc.Details
		}
		h := c.Health(ctx)
		cs.Status, cs.Message = h.Status, h.Message
		s.components = append(s.components, cs)
	}
	return s.components
}

// Log writes the summary, one line per component.
func (s *Summary) Log(ctx context.Context, registry *component.Registry, log *logger.Logger) {
	components := s.Collect(ctx, registry)

	healthy := 0
	for _, c := range components {
		if c.Status == component.StatusHealthy {
			healthy++
		}
		fields := logger.Fields(
			logger.FieldComponent, c.Name,
			"type", c.Type,
			logger.FieldStatus, string(c.Status),
		)
		if c.Details != "" {
			fields["details"] = c.Details
		}
		if c.Message != "" {
			fields["message"] = c.Message
		}
		log.Info("Component ready", fields)
	}

	log.Info(fmt.Sprintf("%s %s started", s.serviceName, s.version), logger.Fields(
		"startup_ms", s.startupDuration.Milliseconds(),
		"healthy", fmt.Sprintf("%d/%d", healthy, len(components)),
	))
}
