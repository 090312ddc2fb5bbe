package flash

import (
	"time"

	"github.com/piotrjaromin/gpio"
	"github.com/pkg/errors"
)

// entryPins drive the device into the bootloader on boards where the host
// controls the device's power and boot select lines.
type entryPins struct {
	power gpio.Pin
	boot  gpio.Pin
}

func setupPins(c *SerialConfig) (*entryPins, error) {
	if c.PowerGPIO <= 0 || c.BootGPIO <= 0 {
		return nil, nil
	}

	var (
		p   entryPins
		err error
	)
	p.power, err = gpio.NewOutput(uint(c.PowerGPIO), true)
	if err != nil {
		return nil, errors.Wrapf(err, "power gpio %d", c.PowerGPIO)
	}
	p.boot, err = gpio.NewOutput(uint(c.BootGPIO), false)
	if err != nil {
		p.power.Cleanup()
		return nil, errors.Wrapf(err, "boot gpio %d", c.BootGPIO)
	}
	return &p, nil
}

// enterBootloader power cycles the device with the boot select line held so
// that the bootloader stays resident instead of jumping to the application.
func (p *entryPins) enterBootloader() {
	p.power.Low()
	p.boot.High()
	time.Sleep(10 * time.Millisecond)
	p.power.High()
	time.Sleep(10 * time.Millisecond)
}

// exitBootloader power cycles the device with the boot select line released.
func (p *entryPins) exitBootloader() {
	p.power.Low()
	p.boot.Low()
	time.Sleep(10 * time.Millisecond)
	p.power.High()
	time.Sleep(10 * time.Millisecond)
}

func (p *entryPins) cleanup() {
	p.boot.Cleanup()
	p.power.Cleanup()
}
