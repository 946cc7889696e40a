// Package config holds the daemon configuration: compiled-in defaults, an
// optional YAML file, and command-line overrides, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/yamp/internal/button"
	"github.com/sweeney/yamp/internal/firmware"
	"github.com/sweeney/yamp/internal/gpio"
	"github.com/sweeney/yamp/internal/link"
	"github.com/sweeney/yamp/internal/logic"
)

// Config is the top-level YAML configuration. Nothing is ever written back.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Standby   StandbyConfig   `yaml:"standby"`
	Buttons   ButtonConfig    `yaml:"buttons"`
	GPIO      GPIOConfig      `yaml:"gpio"`
	LEDs      LEDConfig       `yaml:"leds"`
	Bluetooth BluetoothConfig `yaml:"bluetooth"`
	Firmware  FirmwareConfig  `yaml:"firmware"`
	WiFi      WiFiConfig      `yaml:"wifi"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type DeviceConfig struct {
	Name string        `yaml:"name"`
	Poll time.Duration `yaml:"poll"`
}

type StandbyConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// ApproachWindow is how long before the deadline ENTERING_STANDBY starts.
	// Zero means the whole timeout.
	ApproachWindow time.Duration `yaml:"approach_window"`
}

type ButtonConfig struct {
	Debounce    time.Duration `yaml:"debounce"`
	LongPress   time.Duration `yaml:"long_press"`
	DoubleClick time.Duration `yaml:"double_click"`
	// KernelDebounce is applied by the GPIO driver on top of Debounce. Zero disables it.
	KernelDebounce time.Duration `yaml:"kernel_debounce"`
}

// GPIOConfig names BCM line offsets. -1 marks a control as not fitted.
type GPIOConfig struct {
	Chip           string `yaml:"chip"`
	Relay          int    `yaml:"relay"`
	RelayActiveLow bool   `yaml:"relay_active_low"`
	Mode           int    `yaml:"mode"`
	Power          int    `yaml:"power"`
	Input          int    `yaml:"input"`
}

type LEDConfig struct {
	Link        int           `yaml:"link"`
	Activity    int           `yaml:"activity"`
	Power       int           `yaml:"power"`
	FastBlink   time.Duration `yaml:"fast_blink"`
	MediumBlink time.Duration `yaml:"medium_blink"`
}

type BluetoothConfig struct {
	Adapter       string        `yaml:"adapter"`
	AutoReconnect bool          `yaml:"auto_reconnect"`
	DataInterval  time.Duration `yaml:"data_interval"`
	QueueSize     int           `yaml:"queue_size"`
}

type FirmwareConfig struct {
	Hostname        string        `yaml:"hostname"`
	UpdateAddr      string        `yaml:"update_addr"`
	TargetPath      string        `yaml:"target_path"`
	MaxSize         int64         `yaml:"max_size"`
	RestartMode     string        `yaml:"restart_mode"`
	RestartDelay    time.Duration `yaml:"restart_delay"`
	Retries         int           `yaml:"retries"`
	HandleInterval  time.Duration `yaml:"handle_interval"`
	LongPressToggle bool          `yaml:"long_press_toggle"`
}

type WiFiConfig struct {
	Interface string `yaml:"interface"`
	SSID      string `yaml:"ssid"`
	Password  string `yaml:"password"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"` // empty disables MQTT
	Prefix   string `yaml:"prefix"`
	ClientID string `yaml:"client_id"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"` // empty disables the status page
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Default returns a fully populated Config.
func Default() Config {
	return Config{
		Device: DeviceConfig{
			Name: "Yamp",
			Poll: 20 * time.Millisecond,
		},
		Standby: StandbyConfig{
			Timeout: logic.DefaultStandbyTimeout,
		},
		Buttons: ButtonConfig{
			Debounce:    button.DefaultDebounce,
			LongPress:   button.DefaultLongPress,
			DoubleClick: button.DefaultDoubleClick,
		},
		GPIO: GPIOConfig{
			Chip:           "gpiochip0",
			Relay:          gpio.DefaultPinRelay,
			RelayActiveLow: true,
			Mode:           gpio.DefaultPinMode,
			Power:          gpio.DefaultPinPower,
			Input:          gpio.DefaultPinInput,
		},
		LEDs: LEDConfig{
			Link:        gpio.DefaultPinLedLink,
			Activity:    gpio.DefaultPinLedActivity,
			Power:       gpio.DefaultPinLedPower,
			FastBlink:   logic.DefaultFastBlink,
			MediumBlink: logic.DefaultMediumBlink,
		},
		Bluetooth: BluetoothConfig{
			Adapter:       "hci0",
			AutoReconnect: true,
			DataInterval:  link.DefaultDataInterval,
			QueueSize:     link.DefaultQueueSize,
		},
		Firmware: FirmwareConfig{
			UpdateAddr:     firmware.DefaultUpdateAddr,
			TargetPath:     "/usr/local/bin/yamp",
			MaxSize:        64 << 20,
			RestartMode:    firmware.RestartExit,
			RestartDelay:   firmware.DefaultRestartDelay,
			Retries:        firmware.DefaultRetries,
			HandleInterval: firmware.DefaultHandleInterval,
		},
		WiFi: WiFiConfig{
			Interface: "wlan0",
		},
		MQTT: MQTTConfig{
			Prefix: "yamp",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file over the defaults. Unknown fields are rejected.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML over the defaults.
func Parse(b []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, errors.New("decode config yaml: unexpected trailing document")
	}
	return cfg, nil
}

// FlagOverrides holds values from command-line flags. Nil fields were not set.
type FlagOverrides struct {
	Name            *string
	StandbyTimeout  *time.Duration
	ApproachWindow  *time.Duration
	Chip            *string
	Adapter         *string
	LongPressToggle *bool
	MQTTBroker      *string
	HTTPAddr        *string
	LogLevel        *string
	LogFormat       *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.Name != nil {
		cfg.Device.Name = *o.Name
	}
	if o.StandbyTimeout != nil {
		cfg.Standby.Timeout = *o.StandbyTimeout
	}
	if o.ApproachWindow != nil {
		cfg.Standby.ApproachWindow = *o.ApproachWindow
	}
	if o.Chip != nil {
		cfg.GPIO.Chip = *o.Chip
	}
	if o.Adapter != nil {
		cfg.Bluetooth.Adapter = *o.Adapter
	}
	if o.LongPressToggle != nil {
		cfg.Firmware.LongPressToggle = *o.LongPressToggle
	}
	if o.MQTTBroker != nil {
		cfg.MQTT.Broker = *o.MQTTBroker
	}
	if o.HTTPAddr != nil {
		cfg.HTTP.Addr = *o.HTTPAddr
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.LogFormat != nil {
		cfg.Logging.Format = *o.LogFormat
	}
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Device.Name) == "" {
		return errors.New("device.name must not be empty")
	}
	if c.Device.Poll <= 0 {
		return errors.New("device.poll must be > 0")
	}

	if c.Standby.Timeout <= 0 {
		return errors.New("standby.timeout must be > 0")
	}
	if c.Standby.ApproachWindow < 0 || c.Standby.ApproachWindow > c.Standby.Timeout {
		return errors.New("standby.approach_window must be between 0 and standby.timeout")
	}

	if c.Buttons.Debounce < 0 || c.Buttons.LongPress < 0 || c.Buttons.DoubleClick < 0 || c.Buttons.KernelDebounce < 0 {
		return errors.New("buttons timings must be >= 0")
	}
	if c.Buttons.LongPress > 0 && c.Buttons.LongPress <= c.Buttons.Debounce {
		return errors.New("buttons.long_press must be longer than buttons.debounce")
	}

	if c.GPIO.Chip == "" {
		return errors.New("gpio.chip must not be empty")
	}
	if c.GPIO.Relay < 0 {
		return errors.New("gpio.relay must be fitted")
	}
	pins := map[string]int{
		"gpio.relay":    c.GPIO.Relay,
		"gpio.mode":     c.GPIO.Mode,
		"gpio.power":    c.GPIO.Power,
		"gpio.input":    c.GPIO.Input,
		"leds.link":     c.LEDs.Link,
		"leds.activity": c.LEDs.Activity,
		"leds.power":    c.LEDs.Power,
	}
	used := map[int]string{}
	for _, name := range slices.Sorted(maps.Keys(pins)) {
		pin := pins[name]
		if pin == gpio.NotFitted {
			continue
		}
		if pin < 0 {
			return fmt.Errorf("%s must be a line offset or -1", name)
		}
		if other, ok := used[pin]; ok {
			return fmt.Errorf("%s and %s share line %d", other, name, pin)
		}
		used[pin] = name
	}

	if c.LEDs.FastBlink <= 0 || c.LEDs.MediumBlink <= 0 {
		return errors.New("leds blink rates must be > 0")
	}

	if c.Bluetooth.Adapter == "" {
		return errors.New("bluetooth.adapter must not be empty")
	}
	if c.Bluetooth.DataInterval <= 0 {
		return errors.New("bluetooth.data_interval must be > 0")
	}
	if c.Bluetooth.DataInterval >= c.Standby.Timeout {
		return errors.New("bluetooth.data_interval must be shorter than standby.timeout")
	}
	if c.Bluetooth.QueueSize <= 0 {
		return errors.New("bluetooth.queue_size must be > 0")
	}

	if c.Firmware.TargetPath == "" {
		return errors.New("firmware.target_path must not be empty")
	}
	if c.Firmware.UpdateAddr == "" {
		return errors.New("firmware.update_addr must not be empty")
	}
	switch c.Firmware.RestartMode {
	case firmware.RestartExit, firmware.RestartReboot:
	default:
		return fmt.Errorf("firmware.restart_mode must be %q or %q", firmware.RestartExit, firmware.RestartReboot)
	}
	if c.Firmware.Retries <= 0 {
		return errors.New("firmware.retries must be > 0")
	}
	if c.Firmware.HandleInterval <= 0 {
		return errors.New("firmware.handle_interval must be > 0")
	}
	if c.Firmware.MaxSize < 0 {
		return errors.New("firmware.max_size must be >= 0")
	}

	if c.MQTT.Broker != "" && c.MQTT.Prefix == "" {
		return errors.New("mqtt.prefix must not be empty when mqtt.broker is set")
	}

	if hclog.LevelFromString(c.Logging.Level) == hclog.NoLevel {
		return fmt.Errorf("logging.level %q is not a valid level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return errors.New(`logging.format must be "text" or "json"`)
	}
	return nil
}

// Hostname returns the firmware hostname, derived from the device name when unset.
func (c *Config) Hostname() string {
	if c.Firmware.Hostname != "" {
		return c.Firmware.Hostname
	}
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(c.Device.Name), " ", "-"))
}

// ControllerOptions maps the config onto the control logic options.
func (c *Config) ControllerOptions() logic.Options {
	return logic.Options{
		StandbyTimeout: c.Standby.Timeout,
		ApproachWindow: c.Standby.ApproachWindow,
		Blink: logic.BlinkRates{
			Fast:   c.LEDs.FastBlink,
			Medium: c.LEDs.MediumBlink,
		},
		LongPressTogglesFirmware: c.Firmware.LongPressToggle,
	}
}

// ButtonTimings maps the config onto the gesture detector timings.
func (c *Config) ButtonTimings() button.Config {
	return button.Config{
		Debounce:    c.Buttons.Debounce,
		LongPress:   c.Buttons.LongPress,
		DoubleClick: c.Buttons.DoubleClick,
	}
}

// InputPins returns the control input lines.
func (c *Config) InputPins() gpio.InputPins {
	return gpio.InputPins{Mode: c.GPIO.Mode, Power: c.GPIO.Power, Input: c.GPIO.Input}
}
