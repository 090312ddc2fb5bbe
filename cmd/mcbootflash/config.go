package main

import (
	"time"

	"github.com/arduino/go-paths-helper"
	"github.com/pkg/errors"
	"github.com/synthread/go-mcboot/flash"
	"gopkg.in/yaml.v3"
)

// profile is a device profile file. Command line flags take precedence over
// every value set here.
type profile struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`

	Timeout            time.Duration `yaml:"timeout"`
	EraseTimeoutFactor int           `yaml:"erase_timeout_factor"`
	UnlockKey          uint32        `yaml:"unlock_key"`
	FillByte           *uint8        `yaml:"fill_byte"`

	ForceErase bool `yaml:"force_erase"`
	NoChecksum bool `yaml:"no_checksum"`
	Reset      bool `yaml:"reset"`

	BootGPIO  int `yaml:"boot_gpio"`
	PowerGPIO int `yaml:"power_gpio"`
}

func loadProfile(path *paths.Path) (*profile, error) {
	data, err := path.ReadFile()
	if err != nil {
		return nil, errors.Wrap(err, "could not read profile")
	}

	var p profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrapf(err, "could not parse profile %s", path)
	}
	return &p, nil
}

// options are the settings of one run, gathered from the profile and the
// command line.
type options struct {
	profile

	configFile string
	logFile    string
	logLevel   string
	debug      bool
	quiet      bool
}

// merge fills every option not given on the command line from p.
func (o *options) merge(p *profile, changed func(name string) bool) {
	if !changed("port") && p.Port != "" {
		o.Port = p.Port
	}
	if !changed("baudrate") && p.Baud > 0 {
		o.Baud = p.Baud
	}
	if !changed("timeout") && p.Timeout > 0 {
		o.Timeout = p.Timeout
	}
	if !changed("force-erase") {
		o.ForceErase = p.ForceErase
	}
	if !changed("no-checksum") {
		o.NoChecksum = p.NoChecksum
	}
	if !changed("reset") {
		o.Reset = p.Reset
	}
	if !changed("boot-gpio") && p.BootGPIO > 0 {
		o.BootGPIO = p.BootGPIO
	}
	if !changed("power-gpio") && p.PowerGPIO > 0 {
		o.PowerGPIO = p.PowerGPIO
	}

	// profile only
	o.EraseTimeoutFactor = p.EraseTimeoutFactor
	o.UnlockKey = p.UnlockKey
	o.FillByte = p.FillByte
}

func (o *options) serialConfig() *flash.SerialConfig {
	return &flash.SerialConfig{
		TTY:       o.Port,
		Baud:      o.Baud,
		BootGPIO:  o.BootGPIO,
		PowerGPIO: o.PowerGPIO,
	}
}

func (o *options) flashConfig() *flash.Config {
	c := &flash.Config{
		Timeout:            o.Timeout,
		EraseTimeoutFactor: o.EraseTimeoutFactor,
		UnlockKey:          o.UnlockKey,
		ForceErase:         o.ForceErase,
		SkipChecksum:       o.NoChecksum,
		Reset:              o.Reset,
	}
	if o.FillByte != nil {
		c.FillByte = *o.FillByte
	}
	return c
}
