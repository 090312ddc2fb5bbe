package flash

import (
	"time"
)

var DefaultTimeout = 5 * time.Second
var DefaultEraseTimeoutFactor = 10

// Channel is a duplex byte channel to a device running the bootloader.
// SerialPort is the usual implementation.
type Channel interface {
	// ReadN blocks until exactly n bytes were read or the timeout elapsed,
	// in which case it returns ErrTimeout.
	ReadN(n int, to time.Duration) ([]byte, error)
	Write(bs ...[]byte) error
}

// Config defines how a flashing session talks to the bootloader.
type Config struct {
	// Timeout bounds every read of a response.
	Timeout time.Duration
	// EraseTimeoutFactor multiplies Timeout while a large range is erased in a
	// single request.
	EraseTimeoutFactor int

	// UnlockKey is sent with WRITE_FLASH and ERASE_FLASH.
	UnlockKey uint32
	// FillByte pads partial write blocks. It should match the value of erased
	// flash on the target.
	FillByte byte

	ForceErase   bool
	SkipChecksum bool
	Reset        bool

	Progress ProgressFunc
}

// Phase names the step a Progress report belongs to.
type Phase string

const (
	PhaseErasing Phase = "erasing"
	PhaseWriting Phase = "writing"
)

// Progress is reported after every erase request and every chunk write.
type Progress struct {
	Phase Phase
	Done  int
	Total int
}

type ProgressFunc func(Progress)

// Bootloader is a flashing session with one device. It is not safe for
// concurrent use; exactly one command is outstanding at a time.
type Bootloader struct {
	config *Config
	ch     Channel

	timeout time.Duration
}

// New creates a session over ch. A nil config selects the defaults.
func New(ch Channel, c *Config) *Bootloader {
	if c == nil {
		c = &Config{}
	}

	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.EraseTimeoutFactor <= 0 {
		c.EraseTimeoutFactor = DefaultEraseTimeoutFactor
	}
	if c.UnlockKey == 0 {
		c.UnlockKey = DefaultUnlockKey
	}

	return &Bootloader{
		config:  c,
		ch:      ch,
		timeout: c.Timeout,
	}
}

// Timeout returns the read timeout currently in effect.
func (b *Bootloader) Timeout() time.Duration {
	return b.timeout
}

// extendTimeout multiplies the read timeout and returns the func restoring
// the previous value. Callers defer it.
func (b *Bootloader) extendTimeout(factor int) func() {
	prev := b.timeout
	b.timeout *= time.Duration(factor)
	return func() { b.timeout = prev }
}

func (b *Bootloader) report(p Progress) {
	if b.config.Progress != nil {
		b.config.Progress(p)
	}
}
