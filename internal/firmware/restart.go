package firmware

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
)

// Restart modes.
const (
	RestartExit   = "exit"
	RestartReboot = "reboot"
)

// ExitCodeRestart is the exit status used to ask the supervisor for a restart.
const ExitCodeRestart = 75

// ExitRestarter exits the process and leaves the restart to the service supervisor.
type ExitRestarter struct {
	Code   int
	logger hclog.Logger
	exit   func(int)
}

// Restart exits the process.
func (r *ExitRestarter) Restart(reason string) error {
	r.logger.Warn("exiting for restart", "reason", reason, "code", r.Code)
	r.exit(r.Code)
	return nil
}

// RebootRestarter reboots the machine.
type RebootRestarter struct {
	logger hclog.Logger
	reboot func() error
}

// Restart syncs filesystems and reboots.
func (r *RebootRestarter) Restart(reason string) error {
	r.logger.Warn("rebooting", "reason", reason)
	if err := r.reboot(); err != nil {
		return fmt.Errorf("reboot: %w", err)
	}
	return nil
}

// NewRestarter returns the Restarter for mode.
func NewRestarter(mode string, logger hclog.Logger) (Restarter, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	switch mode {
	case "", RestartExit:
		return &ExitRestarter{Code: ExitCodeRestart, logger: logger, exit: os.Exit}, nil
	case RestartReboot:
		return &RebootRestarter{logger: logger, reboot: reboot}, nil
	}
	return nil, fmt.Errorf("unknown restart mode %q", mode)
}
