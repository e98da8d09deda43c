package registry

import (
	"context"
	"errors"
	"time"

	"autotool/internal/logging"
)

// MaintenanceReport summarizes one maintenance pass.
type MaintenanceReport struct {
	Tested   []string
	Passed   []string
	Failed   []string
	Improved []string
	Errors   map[string]string
}

// RunMaintenance runs MaintainOnce every interval until ctx is cancelled.
// SetMaintenanceInterval changes the period of a running loop.
func (r *Registry) RunMaintenance(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logging.Registry("Maintenance loop started (every %s)", interval)

	for {
		select {
		case <-ctx.Done():
			logging.Registry("Maintenance loop stopped")
			return nil
		case d := <-r.interval:
			if d > 0 && d != interval {
				interval = d
				ticker.Reset(d)
				logging.Registry("Maintenance interval changed to %s", d)
			}
		case <-ticker.C:
			report, err := r.MaintainOnce(ctx)
			if err != nil {
				if errors.Is(err, ErrClosed) || ctx.Err() != nil {
					return nil
				}
				logging.RegistryError("Maintenance pass failed: %v", err)
				continue
			}
			logging.Registry("Maintenance pass: %d tested, %d failed, %d improved",
				len(report.Tested), len(report.Failed), len(report.Improved))
		}
	}
}

// SetMaintenanceInterval updates the period of RunMaintenance. Only the
// latest pending value is kept.
func (r *Registry) SetMaintenanceInterval(d time.Duration) {
	select {
	case <-r.interval:
	default:
	}
	select {
	case r.interval <- d:
	default:
	}
}

// MaintainOnce tests every unit without a passing result, regenerating its
// harness first, then runs an improvement pass on each unit whose test
// failed.
func (r *Registry) MaintainOnce(ctx context.Context) (*MaintenanceReport, error) {
	units, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	report := &MaintenanceReport{Errors: map[string]string{}}

	for _, u := range units {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if u.PassingTests() {
			continue
		}
		if r.client != nil {
			if _, err := r.GenerateTestHarness(ctx, u.Name); err != nil {
				logging.RegistryWarn("Maintenance: harness generation for %s failed: %v", u.Name, err)
			}
		}
		res, err := r.RunTests(ctx, u.Name)
		if err != nil {
			report.Errors[u.Name] = err.Error()
			continue
		}
		report.Tested = append(report.Tested, u.Name)
		if res.Success {
			report.Passed = append(report.Passed, u.Name)
		} else {
			report.Failed = append(report.Failed, u.Name)
		}
	}

	units, err = r.List(ctx)
	if err != nil {
		return report, err
	}
	for _, u := range units {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if !u.FailingTests() {
			continue
		}
		switch err := r.improve(ctx, u.Name); {
		case err == nil:
			report.Improved = append(report.Improved, u.Name)
		case errors.Is(err, errUnchanged):
			logging.RegistryDebug("Maintenance: %s left unchanged", u.Name)
		default:
			report.Errors[u.Name] = err.Error()
		}
	}
	return report, nil
}

// ImproveAll runs a maintenance pass on demand.
func (r *Registry) ImproveAll(ctx context.Context) (*MaintenanceReport, error) {
	return r.MaintainOnce(ctx)
}

// TriggerImprove starts a maintenance pass in the background unless one is
// already running. Close waits for it.
func (r *Registry) TriggerImprove() {
	r.bgMu.Lock()
	defer r.bgMu.Unlock()
	if r.closed.Load() || !r.improving.CompareAndSwap(false, true) {
		return
	}
	r.background.Add(1)
	go func() {
		defer r.background.Done()
		defer r.improving.Store(false)
		if _, err := r.MaintainOnce(r.baseCtx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
			logging.RegistryWarn("Background improvement failed: %v", err)
		}
	}()
}
