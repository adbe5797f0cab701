package health

import (
	"context"
	"sort"
	"time"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"

	checkTimeout = 2 * time.Second
)

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

// Report is the health payload served by the API.
type Report struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptimeSeconds"`
	Timestamp     time.Time         `json:"timestamp"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// Service encapsulates health-related checks.
type Service struct {
	started time.Time
	now     func() time.Time
	checks  map[string]Check
}

// NewService constructs a health service whose uptime counts from started.
func NewService(started time.Time) *Service {
	return &Service{started: started, now: time.Now, checks: make(map[string]Check)}
}

// Register adds a named dependency check.
func (s *Service) Register(name string, check Check) {
	if check != nil {
		s.checks[name] = check
	}
}

// Status runs every check and reports overall health.
func (s *Service) Status(ctx context.Context) Report {
	now := s.now().UTC()
	report := Report{
		Status:        StatusOK,
		UptimeSeconds: int64(now.Sub(s.started).Seconds()),
		Timestamp:     now,
	}
	if len(s.checks) == 0 {
		return report
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	report.Checks = make(map[string]string, len(names))
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := s.checks[name](checkCtx)
		cancel()
		if err != nil {
			report.Status = StatusDegraded
			report.Checks[name] = err.Error()
			continue
		}
		report.Checks[name] = StatusOK
	}
	return report
}
