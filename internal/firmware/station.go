package firmware

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
)

// StationConfig configures the NetworkManager Wi-Fi station.
type StationConfig struct {
	Interface string
	SSID      string
	Password  string
	Timeout   time.Duration // per association attempt
}

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// NMCLIStation joins Wi-Fi through NetworkManager's command line client and
// reads the resulting address from the kernel.
type NMCLIStation struct {
	cfg    StationConfig
	logger hclog.Logger
	run    runFunc
	addr   func(iface string) (net.IP, error)
}

// NewNMCLIStation creates a station.
func NewNMCLIStation(cfg StationConfig, logger hclog.Logger) *NMCLIStation {
	if cfg.Interface == "" {
		cfg.Interface = "wlan0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &NMCLIStation{cfg: cfg, logger: logger, run: runCommand, addr: interfaceAddress}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s: %w: %s", name, err, bytes.TrimSpace(out))
	}
	return out, nil
}

// Associate connects to the configured network.
func (s *NMCLIStation) Associate(ctx context.Context) error {
	if s.cfg.SSID == "" {
		return fmt.Errorf("no wifi ssid configured")
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout+5*time.Second)
	defer cancel()

	args := []string{
		"--wait", strconv.Itoa(int(s.cfg.Timeout / time.Second)),
		"device", "wifi", "connect", s.cfg.SSID,
	}
	if s.cfg.Password != "" {
		args = append(args, "password", s.cfg.Password)
	}
	args = append(args, "ifname", s.cfg.Interface)

	s.logger.Info("joining wifi", "ssid", s.cfg.SSID, "interface", s.cfg.Interface)
	if _, err := s.run(ctx, "nmcli", args...); err != nil {
		return fmt.Errorf("join %q: %w", s.cfg.SSID, err)
	}
	return nil
}

// Address returns the station's IPv4 address.
func (s *NMCLIStation) Address() (net.IP, error) {
	ip, err := s.addr(s.cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("address of %s: %w", s.cfg.Interface, err)
	}
	return ip, nil
}

// Disconnect leaves the network.
func (s *NMCLIStation) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.run(ctx, "nmcli", "device", "disconnect", s.cfg.Interface); err != nil {
		return fmt.Errorf("leave wifi: %w", err)
	}
	return nil
}
