package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/arduino/go-paths-helper"
	"github.com/mattn/go-colorable"
	"github.com/pkg/errors"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/synthread/go-mcboot/flash"
)

func newCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "mcbootflash <hexfile>",
		Short: "Flash firmware to devices running Microchip's 16-bit bootloader.",
		Long: "mcbootflash flashes Intel HEX firmware images to dsPIC33 and PIC24 devices\n" +
			"running a bootloader generated by MPLAB Code Configurator.",
		Example:       "  " + os.Args[0] + " -p /dev/ttyUSB0 -b 460800 firmware.hex",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(opts)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.configFile != "" {
				p, err := loadProfile(paths.New(opts.configFile))
				if err != nil {
					logrus.Error(err)
					return err
				}
				opts.merge(p, cmd.Flags().Changed)
			}
			if err := run(opts, args[0], cmd.ErrOrStderr()); err != nil {
				logrus.Error(describe(err))
				return err
			}
			return nil
		},
	}

	cmd.AddCommand(newVersionCommand())

	cmd.Flags().StringVarP(&opts.Port, "port", "p", flash.DefaultTTY, "serial port connected to the device")
	cmd.Flags().IntVarP(&opts.Baud, "baudrate", "b", flash.DefaultBaud, "symbol rate of the device's serial bus")
	cmd.Flags().DurationVarP(&opts.Timeout, "timeout", "t", flash.DefaultTimeout, "time to wait for a response from the bootloader")
	cmd.Flags().BoolVar(&opts.NoChecksum, "no-checksum", false, "skip verifying written data with checksums")
	cmd.Flags().BoolVar(&opts.ForceErase, "force-erase", false, "erase program memory even if no application is detected")
	cmd.Flags().BoolVar(&opts.Reset, "reset", false, "reset the device into the application after flashing")
	cmd.Flags().IntVar(&opts.BootGPIO, "boot-gpio", 0, "GPIO driving the device's boot select line")
	cmd.Flags().IntVar(&opts.PowerGPIO, "power-gpio", 0, "GPIO switching the device's power")
	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "YAML device profile; flags override its values")

	cmd.PersistentFlags().BoolVarP(&opts.debug, "debug", "d", false, "print debug messages, including raw bus traffic")
	cmd.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "print only warnings and errors")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "messages with this level and above will be logged: trace, debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "path to the file where logs will be written")

	return cmd
}

func run(opts *options, hexfile string, out io.Writer) error {
	img, err := flash.LoadHexFile(hexfile)
	if err != nil {
		return err
	}

	port := flash.NewSerialPort(opts.serialConfig())
	if err := port.Open(); err != nil {
		return err
	}
	defer port.Close()
	logrus.Infof("Connected to %s at %d baud", port.TTY(), port.BaudRate())

	c := opts.flashConfig()
	var bars *progressBars
	if !opts.debug && !opts.quiet {
		// bars would be torn apart by per-packet debug lines
		bars = &progressBars{out: out}
		c.Progress = bars.update
	}

	written, err := flash.New(port, c).Flash(img)
	if bars != nil {
		bars.finish()
	}
	if err != nil {
		return err
	}

	logrus.Infof("Flashed %d bytes from %s", written, hexfile)
	return nil
}

// describe turns the errors a user is likely to run into into hints on what
// to check.
func describe(err error) string {
	switch {
	case errors.Is(err, flash.ErrNoResponse):
		return "Timed out during handshake; check that the device is in bootloader mode and the baud rate is correct"
	case flash.IsFramingError(err):
		return fmt.Sprintf("Bad handshake response (%v); check the baud rate", err)
	case errors.Is(err, flash.ErrVerifyFail):
		return "Device reported it is not bootable after flashing"
	case errors.Is(err, flash.ErrEraseFailed):
		return "Flash erase failed; check the unlock key"
	}
	var cerr *flash.ChecksumMismatchError
	if errors.As(err, &cerr) {
		return fmt.Sprintf("%v; check the unlock key", err)
	}
	return err.Error()
}

// toLogLevel converts a --log-level value to the corresponding logrus level.
func toLogLevel(s string) (t logrus.Level, found bool) {
	t, found = map[string]logrus.Level{
		"trace": logrus.TraceLevel,
		"debug": logrus.DebugLevel,
		"info":  logrus.InfoLevel,
		"warn":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
	}[strings.ToLower(s)]

	return
}

func setupLogging(opts *options) error {
	// colors on a terminal, plain text otherwise
	logrus.SetOutput(colorable.NewColorableStderr())
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})

	lvl, found := toLogLevel(opts.logLevel)
	if !found {
		return errors.Errorf("invalid option for --log-level: %s", opts.logLevel)
	}
	if opts.quiet {
		lvl = logrus.WarnLevel
	}
	if opts.debug {
		lvl = logrus.DebugLevel
	}
	logrus.SetLevel(lvl)

	if opts.logFile != "" {
		path := paths.New(opts.logFile)
		if err := path.Parent().MkdirAll(); err != nil {
			return errors.Wrap(err, "could not create log directory")
		}
		file, err := os.OpenFile(path.String(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return errors.Wrapf(err, "unable to open file for logging: %s", path)
		}

		// Use a hook so we don't get color codes in the log file
		logrus.AddHook(lfshook.NewHook(file, &logrus.TextFormatter{}))
	}

	return nil
}
