//go:build !windows

package process

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	sysconf "github.com/tklauser/go-sysconf"
)

var (
	bootOnce sync.Once
	bootSecs int64
	clkTck   int64
)

// startTime returns the process start time using platform-native methods.
// Returns the zero time when unavailable.
func startTime(pid int) time.Time {
	if pid <= 0 {
		return time.Time{}
	}
	if runtime.GOOS == "linux" {
		return startTimeLinux(pid)
	}
	// Darwin/BSD via gopsutil (sysctl under the hood)
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return time.Time{}
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func loadBoot() {
	clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || clk <= 0 {
		clk = 100
	}
	clkTck = clk
	f, err := os.Open("/proc/stat")
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()
	s := bufio.NewScanner(f)
	for s.Scan() {
		if v, ok := strings.CutPrefix(s.Text(), "btime "); ok {
			if bt, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				bootSecs = bt
			}
			return
		}
	}
}

// startTimeLinux reads starttime (field 22, clock ticks since boot) from
// /proc/<pid>/stat. Tick resolution keeps ordering between players launched
// within the same second.
func startTimeLinux(pid int) time.Time {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return time.Time{}
	}
	line := string(b)
	// comm may contain spaces; it is terminated by the last ") "
	end := strings.LastIndex(line, ") ")
	if end == -1 {
		return time.Time{}
	}
	parts := strings.Fields(line[end+2:])
	// parts[0] is field 3 (state); starttime is field 22
	if len(parts) < 20 {
		return time.Time{}
	}
	ticks, err := strconv.ParseInt(parts[19], 10, 64)
	if err != nil || ticks <= 0 {
		return time.Time{}
	}
	bootOnce.Do(loadBoot)
	if bootSecs == 0 {
		return time.Time{}
	}
	secs := ticks / clkTck
	ns := (ticks % clkTck) * int64(time.Second) / clkTck
	return time.Unix(bootSecs+secs, ns)
}
