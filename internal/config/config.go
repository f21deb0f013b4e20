// Package config holds the daemon configuration: defaults, an optional YAML
// file, command-line flags layered on top, and struct-tag validation.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/nebenuhr/internal/gpio"
	"github.com/sweeney/nebenuhr/internal/logic"
	"github.com/sweeney/nebenuhr/internal/pulse"
	"github.com/sweeney/nebenuhr/internal/timesource"
	"github.com/sweeney/nebenuhr/internal/zone"
)

// Drive backends.
const (
	BackendGPIOCDev = "gpiocdev"
	BackendPeriph   = "periph"
	BackendFake     = "fake"
)

// Store backends.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// Config is the full daemon configuration.
type Config struct {
	HTTPAddr        string        `yaml:"http_addr"`
	NTPServer       string        `yaml:"ntp_server"`
	NTPTimeout      time.Duration `yaml:"ntp_timeout" validate:"gt=0"`
	NTPInterval     time.Duration `yaml:"ntp_interval" validate:"gte=0"`
	BootTimeout     time.Duration `yaml:"boot_timeout" validate:"gt=0"`
	Zone            string        `yaml:"zone" validate:"required"`
	Display         string        `yaml:"display" validate:"omitempty,hhmm"`
	AheadTolerance  int           `yaml:"ahead_tolerance" validate:"gte=0,lt=1440"`
	PreAdvance      int           `yaml:"pre_advance_second" validate:"gte=0,lte=60"`
	Tick            time.Duration `yaml:"tick" validate:"gt=0"`
	Housekeeping    time.Duration `yaml:"housekeeping" validate:"gt=0"`
	PersistSchedule string        `yaml:"persist_schedule" validate:"required,schedule"`

	Drive Drive `yaml:"drive"`
	Store Store `yaml:"store"`
	MQTT  MQTT  `yaml:"mqtt"`
	Log   Log   `yaml:"log"`

	// PrintState prints the persisted record and exits. Command line only.
	PrintState bool `yaml:"-"`
}

// Drive configures the two clock outputs and the pulse waveform.
type Drive struct {
	Backend      string        `yaml:"backend" validate:"oneof=gpiocdev periph fake"`
	Chip         string        `yaml:"chip" validate:"required_if=Backend gpiocdev"`
	Out1         int           `yaml:"out1" validate:"gte=0"`
	Out2         int           `yaml:"out2" validate:"gte=0,nefield=Out1"`
	Out1Name     string        `yaml:"out1_name" validate:"required_if=Backend periph"`
	Out2Name     string        `yaml:"out2_name" validate:"required_if=Backend periph"`
	PWMPeriod    time.Duration `yaml:"pwm_period" validate:"gt=0"`
	PWMFrequency int64         `yaml:"pwm_frequency_hz" validate:"gt=0"`
	Ramp         []int         `yaml:"ramp" validate:"min=1,dive,gte=0,lte=255"`
	StepDelay    time.Duration `yaml:"step_delay" validate:"gte=0"`
	Hold         time.Duration `yaml:"hold" validate:"gte=0"`
}

// Store selects where the persisted record lives.
type Store struct {
	Backend string `yaml:"backend" validate:"oneof=file sqlite"`
	Path    string `yaml:"path" validate:"required"`
}

// MQTT configures event publishing. An empty broker disables it.
type MQTT struct {
	Broker      string `yaml:"broker" validate:"omitempty,url"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix" validate:"required"`
}

// Log configures the logger.
type Log struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// Default returns a Config with every default applied.
func Default() Config {
	ramp := make([]int, len(pulse.DefaultRamp))
	for i, v := range pulse.DefaultRamp {
		ramp[i] = int(v)
	}
	return Config{
		HTTPAddr:        ":80",
		NTPServer:       "pool.ntp.org",
		NTPTimeout:      5 * time.Second,
		NTPInterval:     time.Hour,
		BootTimeout:     5 * time.Second,
		Zone:            zone.DefaultName,
		AheadTolerance:  logic.DefaultAheadTolerance,
		PreAdvance:      timesource.DefaultPreAdvanceSecond,
		Tick:            time.Second,
		Housekeeping:    500 * time.Millisecond,
		PersistSchedule: "@every 15m",
		Drive: Drive{
			Backend:      BackendGPIOCDev,
			Chip:         "gpiochip0",
			Out1:         gpio.DefaultPinOut1,
			Out2:         gpio.DefaultPinOut2,
			Out1Name:     "GPIO23",
			Out2Name:     "GPIO24",
			PWMPeriod:    time.Millisecond,
			PWMFrequency: 1000,
			Ramp:         ramp,
			StepDelay:    pulse.DefaultStepDelay,
			Hold:         pulse.DefaultHold,
		},
		Store: Store{
			Backend: StoreFile,
			Path:    "/var/lib/nebenuhr/eeprom.bin",
		},
		MQTT: MQTT{
			ClientID:    "nebenuhr",
			TopicPrefix: "nebenuhr",
		},
		Log: Log{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		_, _, err := ParseHHMM(fl.Field().String())
		return err == nil
	})
	v.RegisterValidation("schedule", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks the struct tags and reports every failing field.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Schedule parses the persistence schedule.
func (c Config) Schedule() (cron.Schedule, error) {
	s, err := cron.ParseStandard(c.PersistSchedule)
	if err != nil {
		return nil, fmt.Errorf("persist schedule %q: %w", c.PersistSchedule, err)
	}
	return s, nil
}

// PulseConfig converts the drive settings into a waveform.
func (c Config) PulseConfig() pulse.Config {
	ramp := make([]uint8, len(c.Drive.Ramp))
	for i, v := range c.Drive.Ramp {
		ramp[i] = uint8(v)
	}
	return pulse.Config{Ramp: ramp, StepDelay: c.Drive.StepDelay, Hold: c.Drive.Hold}
}

// DisplayMinute returns the configured initial displayed minute, if any.
func (c Config) DisplayMinute() (int, bool) {
	if c.Display == "" {
		return 0, false
	}
	h, m, err := ParseHHMM(c.Display)
	if err != nil {
		return 0, false
	}
	return h*60 + m, true
}

// ParseHHMM parses a 24-hour "HH:MM" string.
func ParseHHMM(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q: must be HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

// RegisterFlags binds command-line flags to the fields of c.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.HTTPAddr, "http", c.HTTPAddr, "HTTP operator address (empty to disable)")
	fs.StringVar(&c.NTPServer, "ntp-server", c.NTPServer, "NTP server (empty to trust the system clock)")
	fs.DurationVar(&c.NTPTimeout, "ntp-timeout", c.NTPTimeout, "NTP query timeout")
	fs.DurationVar(&c.NTPInterval, "ntp-interval", c.NTPInterval, "NTP resync interval (0 to sync once)")
	fs.DurationVar(&c.BootTimeout, "boot-timeout", c.BootTimeout, "Time to wait for a valid clock before restarting")
	fs.StringVar(&c.Zone, "zone", c.Zone, "IANA time zone used when none is persisted")
	fs.StringVar(&c.Display, "display", c.Display, "Time currently shown by the dial, HH:MM (empty = assume correct)")
	fs.IntVar(&c.AheadTolerance, "tolerance", c.AheadTolerance, "Minutes the dial may be ahead before rebasing")
	fs.IntVar(&c.PreAdvance, "pre-advance", c.PreAdvance, "Second at which the next minute is targeted (60 disables)")
	fs.DurationVar(&c.Tick, "tick", c.Tick, "Controller tick interval")
	fs.DurationVar(&c.Housekeeping, "housekeeping", c.Housekeeping, "Housekeeping interval")
	fs.StringVar(&c.PersistSchedule, "persist-schedule", c.PersistSchedule, "Cron schedule for persistence snapshots")

	fs.StringVar(&c.Drive.Backend, "drive", c.Drive.Backend, "Output backend: gpiocdev, periph or fake")
	fs.StringVar(&c.Drive.Chip, "chip", c.Drive.Chip, "GPIO character device")
	fs.IntVar(&c.Drive.Out1, "pin-out1", c.Drive.Out1, "Line offset for OUT1")
	fs.IntVar(&c.Drive.Out2, "pin-out2", c.Drive.Out2, "Line offset for OUT2")
	fs.StringVar(&c.Drive.Out1Name, "out1-name", c.Drive.Out1Name, "periph pin name for OUT1")
	fs.StringVar(&c.Drive.Out2Name, "out2-name", c.Drive.Out2Name, "periph pin name for OUT2")
	fs.DurationVar(&c.Drive.PWMPeriod, "pwm-period", c.Drive.PWMPeriod, "Software PWM period")
	fs.Int64Var(&c.Drive.PWMFrequency, "pwm-hz", c.Drive.PWMFrequency, "Hardware PWM frequency")
	fs.DurationVar(&c.Drive.StepDelay, "step-delay", c.Drive.StepDelay, "Delay between ramp steps")
	fs.DurationVar(&c.Drive.Hold, "hold", c.Drive.Hold, "Full-duty hold at the end of a pulse")

	fs.StringVar(&c.Store.Backend, "store", c.Store.Backend, "Persistence backend: file or sqlite")
	fs.StringVar(&c.Store.Path, "store-path", c.Store.Path, "Persistence file path")

	fs.StringVar(&c.MQTT.Broker, "broker", c.MQTT.Broker, "MQTT broker address (empty to disable)")
	fs.StringVar(&c.MQTT.ClientID, "client-id", c.MQTT.ClientID, "MQTT client id")
	fs.StringVar(&c.MQTT.TopicPrefix, "topic-prefix", c.MQTT.TopicPrefix, "MQTT topic prefix")

	fs.StringVar(&c.Log.Level, "log-level", c.Log.Level, "Log level")
	fs.StringVar(&c.Log.Format, "log-format", c.Log.Format, "Log format: console or json")
	fs.BoolVar(&c.PrintState, "print-state", c.PrintState, "Print the persisted record and exit")
}

// Parse builds the configuration from command-line arguments.
// A -config file is applied over the defaults; flags given explicitly win over the file.
func Parse(name string, args []string) (Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	var path string
	fs.StringVar(&path, "config", "", "YAML config file")
	cfg := Default()
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if path == "" {
		return cfg, cfg.Validate()
	}

	fileCfg, err := Load(path)
	if err != nil {
		return Config{}, err
	}
	over := flag.NewFlagSet(name, flag.ContinueOnError)
	fileCfg.RegisterFlags(over)
	var setErr error
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" || setErr != nil {
			return
		}
		setErr = over.Set(f.Name, f.Value.String())
	})
	if setErr != nil {
		return Config{}, setErr
	}
	return fileCfg, fileCfg.Validate()
}
