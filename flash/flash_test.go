package flash

import (
	"testing"
	"time"

	"github.com/arduino/go-paths-helper"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type progressLog []Progress

func (l *progressLog) record(p Progress) { *l = append(*l, p) }

func (l progressLog) last(phase Phase) Progress {
	var out Progress
	for _, p := range l {
		if p.Phase == phase {
			out = p
		}
	}
	return out
}

func indexOf(cmds []Command, code CommandCode, addr uint32, length uint16) int {
	for i, c := range cmds {
		if c.Code == code && c.Address == addr && c.DataLength == length {
			return i
		}
	}
	return -1
}

func TestFlash(t *testing.T) {
	dev := newFakeDevice()
	dev.load(0x2100, []byte{1, 2, 3})

	var progress progressLog
	b := newTestBootloader(dev, &Config{Progress: progress.record})

	data := seq(64, 1)
	tail := seq(10, 0x80)
	written, err := b.Flash(Image{
		{Address: 0x2000, Data: data},
		{Address: 0x3000, Data: tail},
	})
	require.NoError(t, err)
	require.Equal(t, 80, written)

	require.Equal(t, data, dev.read(0x2000, 64))
	require.Equal(t, append(tail, 0, 0, 0, 0, 0, 0), dev.read(0x3000, 16))
	require.Equal(t, []byte{0xFF, 0xFF, 0xFF}, dev.read(0x2100, 3))

	require.Equal(t, 256, dev.count(CommandEraseFlash))
	require.Equal(t, 10, dev.count(CommandWriteFlash))
	require.Equal(t, 11, dev.count(CommandCalcChecksum))
	require.Equal(t, 3, dev.count(CommandSelfVerify))
	require.False(t, dev.reset)
	require.Equal(t, CommandSelfVerify, dev.cmds[len(dev.cmds)-1].Code)

	for _, c := range dev.cmds {
		if c.Code == CommandEraseFlash || c.Code == CommandWriteFlash {
			require.Equal(t, DefaultUnlockKey, c.UnlockSequence)
		}
	}

	require.Equal(t, Progress{Phase: PhaseErasing, Done: 256 * 0x20, Total: 256 * 0x20}, progress.last(PhaseErasing))
	require.Equal(t, Progress{Phase: PhaseWriting, Done: 80, Total: 80}, progress.last(PhaseWriting))
}

func TestFlashSkipsEraseWhenEmpty(t *testing.T) {
	dev := newFakeDevice()
	b := newTestBootloader(dev, nil)

	_, err := b.Flash(Image{{Address: 0x2000, Data: seq(16, 1)}})
	require.NoError(t, err)
	require.Equal(t, 0, dev.count(CommandEraseFlash))
	require.Equal(t, 2, dev.count(CommandSelfVerify))
}

func TestFlashForceErase(t *testing.T) {
	dev := newFakeDevice()
	b := newTestBootloader(dev, &Config{ForceErase: true})

	_, err := b.Flash(Image{{Address: 0x2000, Data: seq(16, 1)}})
	require.NoError(t, err)
	require.Equal(t, 256, dev.count(CommandEraseFlash))
	require.Equal(t, 2, dev.count(CommandSelfVerify))
}

func TestFlashReset(t *testing.T) {
	dev := newFakeDevice()
	b := newTestBootloader(dev, &Config{Reset: true})

	_, err := b.Flash(Image{{Address: 0x2000, Data: seq(8, 1)}})
	require.NoError(t, err)
	require.True(t, dev.reset)
	require.Equal(t, CommandResetDevice, dev.cmds[len(dev.cmds)-1].Code)
}

func newHighDevice() *fakeDevice {
	dev := newFakeDevice()
	dev.maxPacket = 0x100
	dev.eraseSize = 0x80
	dev.start = 0xFF00
	dev.end = 0x10400
	dev.eraseBug = true
	dev.init()
	dev.load(0x10100, []byte{1, 2, 3, 4})
	return dev
}

func TestFlashEraseBadAddressFallback(t *testing.T) {
	dev := newHighDevice()
	b := newTestBootloader(dev, nil)

	data := seq(16, 1)
	_, err := b.Flash(Image{{Address: 0x10200, Data: data}})
	require.NoError(t, err)
	require.Equal(t, data, dev.read(0x10200, 16))
	require.EqualValues(t, 0xFF, dev.read(0x10100, 1)[0])

	require.Equal(t, 4, dev.count(CommandEraseFlash))
	for _, addr := range []uint32{0xFF00, 0xFF80, 0x10000} {
		i := indexOf(dev.cmds, CommandEraseFlash, addr, 1)
		require.NotEqual(t, -1, i, "page 0x%X", addr)
		require.Equal(t, time.Second, dev.timeouts[i])
	}

	bulk := indexOf(dev.cmds, CommandEraseFlash, 0x10000, 8)
	require.NotEqual(t, -1, bulk)
	require.Equal(t, 10*time.Second, dev.timeouts[bulk])

	// the widened timeout does not leak into later commands
	require.Equal(t, time.Second, dev.timeouts[bulk+1])
	require.Equal(t, time.Second, dev.timeouts[len(dev.timeouts)-1])
	require.Equal(t, time.Second, b.Timeout())
}

func TestFlashEraseFallbackFailureRestoresTimeout(t *testing.T) {
	dev := newHighDevice()
	dev.failBulkErase = true
	b := newTestBootloader(dev, &Config{EraseTimeoutFactor: 4})

	_, err := b.Flash(Image{{Address: 0x10200, Data: seq(16, 1)}})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrBadAddress))

	bulk := indexOf(dev.cmds, CommandEraseFlash, 0x10000, 8)
	require.Equal(t, 4*time.Second, dev.timeouts[bulk])
	require.Equal(t, time.Second, b.Timeout())
	require.Equal(t, 0, dev.count(CommandWriteFlash))
}

func TestFlashChecksumSkippedNearEnd(t *testing.T) {
	dev := newFakeDevice()
	dev.checksumBug = true
	b := newTestBootloader(dev, nil)

	data := seq(32, 1)
	written, err := b.Flash(Image{{Address: 0x3FF0, Data: data}})
	require.NoError(t, err)
	require.Equal(t, 32, written)
	require.Equal(t, data, dev.read(0x3FF0, 32))

	require.Equal(t, 4, dev.count(CommandWriteFlash))
	require.Equal(t, 1+3, dev.count(CommandCalcChecksum))
	require.Equal(t, -1, indexOf(dev.cmds, CommandCalcChecksum, 0x3FFC, 8))
}

func TestFlashChecksumMismatch(t *testing.T) {
	dev := newFakeDevice()
	b := newTestBootloader(dev, &Config{UnlockKey: 0x12345678})

	written, err := b.Flash(Image{{Address: 0x2000, Data: seq(16, 1)}})
	require.Error(t, err)
	require.Equal(t, 0, written)

	var cerr *ChecksumMismatchError
	require.True(t, errors.As(err, &cerr))
	require.Equal(t, uint32(0x2000), cerr.Address)
	require.Equal(t, checksum(seq(8, 1)), cerr.Local)
	require.Equal(t, checksum(dev.read(0x2000, 8)), cerr.Remote)
	require.Equal(t, 1, dev.count(CommandWriteFlash))
}

func TestFlashEraseFailed(t *testing.T) {
	dev := newFakeDevice()
	dev.load(0x2000, []byte{1, 2, 3, 4})
	b := newTestBootloader(dev, &Config{UnlockKey: 0x12345678})

	_, err := b.Flash(Image{{Address: 0x2000, Data: seq(16, 1)}})
	require.True(t, errors.Is(err, ErrEraseFailed))
	require.Equal(t, 0, dev.count(CommandWriteFlash))
}

func TestFlashWithoutChecksum(t *testing.T) {
	dev := newFakeDevice()
	dev.noChecksum = true
	b := newTestBootloader(dev, nil)

	_, err := b.Flash(Image{{Address: 0x2000, Data: seq(32, 1)}})
	require.NoError(t, err)
	require.Equal(t, 4, dev.count(CommandWriteFlash))
	require.Equal(t, 1, dev.count(CommandCalcChecksum))
}

func TestFlashSkipChecksum(t *testing.T) {
	dev := newFakeDevice()
	b := newTestBootloader(dev, &Config{SkipChecksum: true})

	_, err := b.Flash(Image{{Address: 0x2000, Data: seq(32, 1)}})
	require.NoError(t, err)
	require.Equal(t, 1, dev.count(CommandCalcChecksum))
}

func TestFlashNotBootable(t *testing.T) {
	dev := newFakeDevice()
	b := newTestBootloader(dev, &Config{FillByte: 0xFF})

	written, err := b.Flash(Image{{Address: 0x2000, Data: []byte{0xFF, 0xFF}}})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrVerifyFail))
	require.Equal(t, 8, written)
	require.Contains(t, err.Error(), "not bootable")
}

func TestFlashNoData(t *testing.T) {
	dev := newFakeDevice()
	dev.load(0x2000, []byte{1})
	b := newTestBootloader(dev, nil)

	_, err := b.Flash(Image{{Address: 0x100, Data: seq(16, 1)}})
	require.True(t, errors.Is(err, ErrNoData))
	require.Equal(t, 0, dev.count(CommandEraseFlash))
	require.Equal(t, 0, dev.count(CommandWriteFlash))
}

func TestFlashNoResponse(t *testing.T) {
	dev := newFakeDevice()
	dev.silent = true
	b := newTestBootloader(dev, nil)

	_, err := b.Flash(Image{{Address: 0x2000, Data: seq(16, 1)}})
	require.True(t, errors.Is(err, ErrNoResponse))
}

func TestFlashFile(t *testing.T) {
	path := paths.New(t.TempDir()).Join("app.hex")
	require.NoError(t, path.WriteFile([]byte(testHex)))

	dev := newFakeDevice()
	b := newTestBootloader(dev, nil)

	written, err := b.FlashFile(path.String())
	require.NoError(t, err)
	require.Equal(t, 24, written)
	require.Equal(t, seq(24, 1), dev.read(0x2000, 24))
}

func TestNewDefaults(t *testing.T) {
	c := &Config{}
	b := New(newFakeDevice(), c)
	require.Equal(t, DefaultTimeout, b.Timeout())
	require.Equal(t, DefaultEraseTimeoutFactor, c.EraseTimeoutFactor)
	require.Equal(t, DefaultUnlockKey, c.UnlockKey)

	restore := b.extendTimeout(3)
	require.Equal(t, 3*DefaultTimeout, b.Timeout())
	restore()
	require.Equal(t, DefaultTimeout, b.Timeout())
}
