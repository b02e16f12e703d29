package output

import (
	"io"

	"golang.org/x/sys/unix"
)

// readChunk bounds one non-blocking drain.
const readChunk = 128 * 1024

// Pusher is the sink side a Source drains into (the Hub fans it out).
type Pusher interface {
	Push(p []byte)
}

// Source produces child output: the socketpair read end, a watched file, or
// the kernel log. Sync drains whatever is ready into the sink and reports
// whether any bytes arrived; EAGAIN is benign, any other read error closes
// the source for the rest of the test. Reset rewinds state between tests.
type Source interface {
	Sync(sink Pusher) bool
	Reset()
	Close()
}

// drainFd reads fd non-blocking until EAGAIN or EOF. It returns the number
// of bytes moved and whether the fd is still usable.
func drainFd(fd int, sink Pusher) (int, bool) {
	buf := make([]byte, readChunk)
	total := 0
	for {
		n, err := unix.Read(fd, buf)
		if n > 0 {
			sink.Push(buf[:n])
			total += n
		}
		switch {
		case err == unix.EAGAIN:
			return total, true
		case err == unix.EINTR:
			continue
		case err != nil:
			return total, false
		case n == 0: // EOF
			return total, true
		}
	}
}

// SockSource is the parent end of the child's socketpair.
type SockSource struct {
	fd   int
	dead bool
}

func NewSockSource(fd int) *SockSource {
	_ = unix.SetNonblock(fd, true)
	return &SockSource{fd: fd}
}

func (s *SockSource) Sync(sink Pusher) bool {
	if s.dead {
		return false
	}
	n, ok := drainFd(s.fd, sink)
	if !ok {
		s.dead = true
	}
	return n > 0
}

func (s *SockSource) Reset() {}

func (s *SockSource) Close() {
	if s.fd >= 0 {
		_ = unix.Close(s.fd)
		s.fd = -1
	}
	s.dead = true
}

// FileSource tails an extra watched file. The file is opened on first Sync
// and seeked to its end, so only data written while the test runs is seen.
// It stays out of any poll set; the monitor loop drains it every tick.
type FileSource struct {
	path   string
	fd     int
	opened bool
	dead   bool
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path, fd: -1}
}

func (s *FileSource) Sync(sink Pusher) bool {
	if s.dead {
		return false
	}
	if !s.opened {
		fd, err := unix.Open(s.path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err != nil {
			s.dead = true
			return false
		}
		if _, err := unix.Seek(fd, 0, io.SeekEnd); err != nil {
			_ = unix.Close(fd)
			s.dead = true
			return false
		}
		s.fd = fd
		s.opened = true
	}
	n, ok := drainFd(s.fd, sink)
	if !ok {
		s.dead = true
	}
	return n > 0
}

func (s *FileSource) Reset() {
	s.Close()
	s.dead = false
}

func (s *FileSource) Close() {
	if s.fd >= 0 {
		_ = unix.Close(s.fd)
		s.fd = -1
	}
	s.opened = false
	s.dead = true
}
