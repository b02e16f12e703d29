//go:build linux

package output

import (
	"io"

	"golang.org/x/sys/unix"
)

// syslog(2) actions used by the ring-buffer fallback.
const (
	syslogActionReadClear = 4
	syslogActionClear     = 5
)

// KMsg taps the kernel log while a test runs. It prefers /dev/kmsg seeked
// to the end of the buffer; when that cannot be opened it falls back to
// draining the ring via the read-and-clear syslog action. A permission
// denial self-disables the source rather than failing the test.
type KMsg struct {
	fd       int
	fallback bool
	disabled bool
}

func NewKMsg() *KMsg {
	k := &KMsg{fd: -1}
	k.open()
	return k
}

func (k *KMsg) open() {
	fd, err := unix.Open("/dev/kmsg", unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err == nil {
		if _, err := unix.Seek(fd, 0, io.SeekEnd); err == nil {
			k.fd = fd
			return
		}
		_ = unix.Close(fd)
	}
	if err == unix.EACCES || err == unix.EPERM {
		k.disabled = true
		return
	}
	// No device node; try the ring buffer instead.
	k.fallback = true
	if _, err := unix.Klogctl(syslogActionClear, nil); err != nil {
		k.disabled = true
	}
}

func (k *KMsg) Sync(sink Pusher) bool {
	if k.disabled {
		return false
	}
	if k.fallback {
		buf := make([]byte, readChunk)
		n, err := unix.Klogctl(syslogActionReadClear, buf)
		if err != nil {
			if err == unix.EPERM || err == unix.EACCES {
				k.disabled = true
			}
			return false
		}
		if n > 0 {
			sink.Push(buf[:n])
		}
		return n > 0
	}
	// /dev/kmsg yields one record per read.
	got := false
	buf := make([]byte, 8192)
	for {
		n, err := unix.Read(k.fd, buf)
		if n > 0 {
			sink.Push(buf[:n])
			got = true
		}
		switch err {
		case nil:
			if n == 0 {
				return got
			}
		case unix.EINTR:
			continue
		case unix.EPIPE:
			// Ring overran our position; the next read continues.
			continue
		case unix.EAGAIN:
			return got
		default:
			k.disabled = true
			return got
		}
	}
}

// Reset re-arms the tap between tests: re-open /dev/kmsg at the buffer end
// or clear the ring so the next test starts clean.
func (k *KMsg) Reset() {
	if k.disabled {
		return
	}
	if k.fallback {
		_, _ = unix.Klogctl(syslogActionClear, nil)
		return
	}
	if k.fd >= 0 {
		_ = unix.Close(k.fd)
		k.fd = -1
	}
	k.open()
}

func (k *KMsg) Close() {
	if k.fd >= 0 {
		_ = unix.Close(k.fd)
		k.fd = -1
	}
	k.disabled = true
}
