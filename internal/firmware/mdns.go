package firmware

import (
	"fmt"
	"net"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/pion/logging"
	"github.com/pion/mdns/v2"
	"golang.org/x/net/ipv4"
)

// MDNSAnnouncer answers mDNS queries for <hostname>.local.
type MDNSAnnouncer struct {
	logger hclog.Logger
	conn   *mdns.Conn
}

// NewMDNSAnnouncer creates an announcer. Nothing is sent until Announce.
func NewMDNSAnnouncer(logger hclog.Logger) *MDNSAnnouncer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &MDNSAnnouncer{logger: logger}
}

// LocalName returns the mDNS name for hostname.
func LocalName(hostname string) string {
	return strings.ToLower(strings.TrimSuffix(hostname, ".local")) + ".local"
}

// Announce starts answering for hostname with ip. A nil ip lets the
// responder pick the interface address.
func (a *MDNSAnnouncer) Announce(hostname string, ip net.IP) error {
	if a.conn != nil {
		return fmt.Errorf("already announcing")
	}
	addr, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4)
	if err != nil {
		return fmt.Errorf("resolve mdns group: %w", err)
	}
	l, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("listen mdns: %w", err)
	}

	name := LocalName(hostname)
	cfg := &mdns.Config{
		LocalNames:    []string{name},
		LoggerFactory: pionLoggerFactory{logger: a.logger},
	}
	if ip != nil {
		cfg.LocalAddress = ip
	}
	conn, err := mdns.Server(ipv4.NewPacketConn(l), nil, cfg)
	if err != nil {
		l.Close()
		return fmt.Errorf("start mdns responder: %w", err)
	}
	a.conn = conn
	a.logger.Info("mdns announcing", "name", name, "address", ip)
	return nil
}

// Close stops answering.
func (a *MDNSAnnouncer) Close() error {
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close()
	a.conn = nil
	return err
}

// pionLoggerFactory routes pion's leveled logging into hclog.
type pionLoggerFactory struct {
	logger hclog.Logger
}

func (f pionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{l: f.logger.Named(scope)}
}

type pionLogger struct {
	l hclog.Logger
}

func (p pionLogger) Trace(msg string) { p.l.Trace(msg) }
func (p pionLogger) Debug(msg string) { p.l.Debug(msg) }
func (p pionLogger) Info(msg string)  { p.l.Info(msg) }
func (p pionLogger) Warn(msg string)  { p.l.Warn(msg) }
func (p pionLogger) Error(msg string) { p.l.Error(msg) }

func (p pionLogger) Tracef(format string, args ...interface{}) {
	p.l.Trace(fmt.Sprintf(format, args...))
}

func (p pionLogger) Debugf(format string, args ...interface{}) {
	p.l.Debug(fmt.Sprintf(format, args...))
}

func (p pionLogger) Infof(format string, args ...interface{}) {
	p.l.Info(fmt.Sprintf(format, args...))
}

func (p pionLogger) Warnf(format string, args ...interface{}) {
	p.l.Warn(fmt.Sprintf(format, args...))
}

func (p pionLogger) Errorf(format string, args ...interface{}) {
	p.l.Error(fmt.Sprintf(format, args...))
}
