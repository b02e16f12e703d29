//go:build !windows

package testcase

import (
	"fmt"
	"syscall"

	"github.com/rosechou/dipot/internal/output"
)

// RusageLine summarizes the finished child's resource usage:
// wall/user/sys times, peak RSS in MiB, and block I/O counts in thousands.
func (c *Case) RusageLine() string {
	st := c.cmd.ProcessState
	if st == nil {
		return ""
	}
	line := fmt.Sprintf("%s wall %s user %s sys",
		output.Timefmt(c.Duration()),
		output.Timefmt(st.UserTime()),
		output.Timefmt(st.SystemTime()))
	if ru, ok := st.SysUsage().(*syscall.Rusage); ok && ru != nil {
		line += fmt.Sprintf("   %dM RSS | IOPS: %.1f K in %.1f K out",
			ru.Maxrss/1024,
			float64(ru.Inblock)/1000,
			float64(ru.Oublock)/1000)
	}
	return line
}
