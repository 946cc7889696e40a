// Command yamp closes a legacy amplifier's load relay while wireless audio
// streams and returns it to standby after inactivity.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sweeney/yamp/internal/config"
	"github.com/sweeney/yamp/internal/gpio"
)

// Set at build time with -ldflags "-X main.Version=...".
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// rootFlags holds the raw flag values. Only flags the user set are applied
// over the config file.
type rootFlags struct {
	configPath      string
	name            string
	standbyTimeout  time.Duration
	approachWindow  time.Duration
	chip            string
	adapter         string
	longPressToggle bool
	mqttBroker      string
	httpAddr        string
	logLevel        string
	logFormat       string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "yamp",
		Short: "Wireless audio standby controller for a legacy amplifier",
		Long: `yamp polls the amplifier's controls, follows the Bluetooth audio link and
drives the load relay and status LEDs. Holding the mode button at boot
starts firmware update mode instead.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags(), f)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Logging, os.Stderr)
			return runDaemon(cmd.Context(), cfg, logger)
		},
	}
	cmd.SetVersionTemplate(fmt.Sprintf("yamp %s (built: %s)\n", Version, BuildTime))

	bindFlags(cmd.PersistentFlags(), f)
	cmd.AddCommand(newStateCmd(f), newVersionCmd())
	return cmd
}

// bindFlags registers the daemon flags. Defaults mirror config.Default.
func bindFlags(fs *pflag.FlagSet, f *rootFlags) {
	def := config.Default()
	fs.StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	fs.StringVar(&f.name, "name", def.Device.Name, "device name advertised on the audio link")
	fs.DurationVar(&f.standbyTimeout, "standby-timeout", def.Standby.Timeout, "inactivity before the relay opens")
	fs.DurationVar(&f.approachWindow, "approach-window", def.Standby.ApproachWindow, "ENTERING_STANDBY window before the deadline (0 = whole timeout)")
	fs.StringVar(&f.chip, "chip", def.GPIO.Chip, "GPIO chip")
	fs.StringVar(&f.adapter, "adapter", def.Bluetooth.Adapter, "Bluetooth adapter")
	fs.BoolVar(&f.longPressToggle, "long-press-toggle", def.Firmware.LongPressToggle, "long press of mode toggles firmware mode at runtime")
	fs.StringVar(&f.mqttBroker, "mqtt-broker", def.MQTT.Broker, "MQTT broker URL for telemetry (empty disables)")
	fs.StringVar(&f.httpAddr, "http", def.HTTP.Addr, "HTTP status address (empty disables)")
	fs.StringVar(&f.logLevel, "log-level", def.Logging.Level, "log level (trace, debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", def.Logging.Format, "log format (text or json)")
}

func newStateCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the current control levels and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags(), f)
			if err != nil {
				return err
			}
			reader, err := gpio.NewRealReader(cfg.GPIO.Chip, cfg.InputPins(), cfg.Buttons.KernelDebounce)
			if err != nil {
				return fmt.Errorf("init gpio: %w", err)
			}
			defer reader.Close()
			return printState(cmd.OutOrStdout(), reader)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "yamp %s (built: %s)\n", Version, BuildTime)
		},
	}
}

// loadConfig merges defaults, the config file and any flags that were set, then validates.
func loadConfig(flags *pflag.FlagSet, f *rootFlags) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return config.Config{}, err
		}
	}

	var o config.FlagOverrides
	if flags.Changed("name") {
		o.Name = &f.name
	}
	if flags.Changed("standby-timeout") {
		o.StandbyTimeout = &f.standbyTimeout
	}
	if flags.Changed("approach-window") {
		o.ApproachWindow = &f.approachWindow
	}
	if flags.Changed("chip") {
		o.Chip = &f.chip
	}
	if flags.Changed("adapter") {
		o.Adapter = &f.adapter
	}
	if flags.Changed("long-press-toggle") {
		o.LongPressToggle = &f.longPressToggle
	}
	if flags.Changed("mqtt-broker") {
		o.MQTTBroker = &f.mqttBroker
	}
	if flags.Changed("http") {
		o.HTTPAddr = &f.httpAddr
	}
	if flags.Changed("log-level") {
		o.LogLevel = &f.logLevel
	}
	if flags.Changed("log-format") {
		o.LogFormat = &f.logFormat
	}
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig, w io.Writer) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "yamp",
		Level:      hclog.LevelFromString(cfg.Level),
		JSONFormat: cfg.Format == "json",
		Output:     w,
	})
}

func printState(w io.Writer, reader gpio.Reader) error {
	lv, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read gpio: %w", err)
	}
	input := "bypass"
	if lv.Input {
		input = "wireless"
	}
	fmt.Fprintf(w, "mode: %s, power: %s, input: %s\n", pressed(lv.Mode), onOff(lv.Power), input)
	return nil
}

func pressed(b bool) string {
	if b {
		return "pressed"
	}
	return "released"
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
