package flash

import (
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

var DefaultBaud = 115200
var DefaultTTY = "/dev/ttyUSB0"

// SerialConfig defines how the bootloader's UART is reached
type SerialConfig struct {
	TTY  string
	Baud int

	// BootGPIO and PowerGPIO are optional. When both are set the device is
	// power cycled into the bootloader on Open and back out of it on Close.
	BootGPIO  int
	PowerGPIO int
}

// SerialPort is a Channel to a bootloader over a serial port
type SerialPort struct {
	config *SerialConfig
	pins   *entryPins

	ttyPort serial.Port
	ttyRx   chan byte
}

// NewSerialPort will create a serial channel; the port is not opened until
// Open is called.
func NewSerialPort(c *SerialConfig) *SerialPort {
	if c == nil {
		c = &SerialConfig{}
	}
	if c.TTY == "" {
		c.TTY = DefaultTTY
	}
	if c.Baud <= 0 {
		c.Baud = DefaultBaud
	}
	return &SerialPort{config: c}
}

// TTY will return the TTY that will be used
func (p *SerialPort) TTY() string {
	return p.config.TTY
}

// BaudRate will return the baud rate used to connect to the TTY
func (p *SerialPort) BaudRate() int {
	return p.config.Baud
}

func (p *SerialPort) Open() (err error) {
	if p.pins, err = setupPins(p.config); err != nil {
		return errors.Wrap(err, "could not setup pins")
	}
	if p.pins != nil {
		p.pins.enterBootloader()
	}

	p.ttyPort, err = serial.Open(p.TTY(), &serial.Mode{
		BaudRate: p.BaudRate(),
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		p.releasePins()
		return errors.Wrapf(err, "could not open %s", p.TTY())
	}

	// stale bytes would be taken for the first response header
	if err = p.ttyPort.ResetInputBuffer(); err != nil {
		p.Close()
		return errors.Wrap(err, "could not flush serial input")
	}

	p.ttyRx = make(chan byte, 256)
	go p.rx(p.ttyPort, p.ttyRx)

	logrus.Debugf("serial open %s@%d", p.TTY(), p.BaudRate())

	return nil
}

// Close will close the connection. With GPIO entry configured the device is
// power cycled into its application.
func (p *SerialPort) Close() error {
	var err error
	if p.ttyPort != nil {
		err = p.ttyPort.Close()
		p.ttyPort = nil
	}

	if p.pins != nil {
		p.pins.exitBootloader()
	}
	p.releasePins()

	logrus.Debug("serial close")

	return err
}

func (p *SerialPort) releasePins() {
	if p.pins != nil {
		p.pins.cleanup()
		p.pins = nil
	}
}

func (p *SerialPort) IsOpen() bool {
	return p.ttyPort != nil
}

// rx is the loop that will forever read from the port and write the incoming
// bytes to the rx chan. The chan is closed when the port goes away.
func (p *SerialPort) rx(port serial.Port, out chan<- byte) {
	buf := make([]byte, 64)

	defer close(out)

	if err := port.SetReadTimeout(1 * time.Millisecond); err != nil {
		logrus.Error("rx err: ", err.Error())
		return
	}

	for {
		n, err := port.Read(buf)
		if err != nil {

			// don't write out if we're just complaining about it being closed
			if perr, ok := err.(*serial.PortError); ok {
				if perr.Code() == serial.PortClosed {
					return
				}
			}

			if errors.Is(err, syscall.EBADF) {
				return
			}

			logrus.Error("rx err: ", err.Error())
			return
		}

		if n > 0 {
			logrus.Debugf("serial rx: %x", buf[:n])
		}
		for _, b := range buf[:n] {
			out <- b
		}
	}
}

// Write will write the specified bytes to the bootloader
func (p *SerialPort) Write(bs ...[]byte) (err error) {
	if !p.IsOpen() {
		return ErrClosed
	}

	if len(bs) == 0 {
		panic("must provide at least one []byte")
	}

	for _, b := range bs {
		if len(b) == 0 {
			continue
		}
		_, err = p.ttyPort.Write(b)
		if err != nil {
			return errors.Wrap(err, "serial write")
		}
		logrus.Debugf("serial tx: %x", b)
	}

	return
}

// ReadN will read exactly n bytes from the rx chan, giving up once to has
// elapsed for the read as a whole.
func (p *SerialPort) ReadN(n int, to time.Duration) ([]byte, error) {
	if !p.IsOpen() {
		return nil, ErrClosed
	}
	return readChan(p.ttyRx, n, to)
}

func readChan(rx <-chan byte, n int, to time.Duration) ([]byte, error) {
	bs := make([]byte, n)

	timer := time.NewTimer(to)
	defer timer.Stop()

	for i := 0; i < n; i++ {
		select {
		case <-timer.C:
			return bs[:i], ErrTimeout
		case b, ok := <-rx:
			if !ok {
				return bs[:i], ErrClosed
			}
			bs[i] = b
		}
	}

	return bs, nil
}
