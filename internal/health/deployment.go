package health

import (
	"context"
	"fmt"

	"gitlab.bluewillows.net/root/hostdeploy/internal/deployer"
)

// DeploymentChecker reports the run as degraded once any host has failed.
func DeploymentChecker(progress func() deployer.Progress) DegradedChecker {
	return func(_ context.Context) (bool, string) {
		p := progress()
		if p.Failed == 0 {
			return false, ""
		}
		return true, fmt.Sprintf("%d of %d hosts failed", p.Failed, p.Total)
	}
}

// RunChecker fails once run is done, so /ready reports not_ready after the
// deployment was interrupted.
func RunChecker(run context.Context) HealthChecker {
	return func(context.Context) error {
		if err := run.Err(); err != nil {
			return fmt.Errorf("deployment interrupted: %w", err)
		}
		return nil
	}
}
