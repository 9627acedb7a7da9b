package adminapi

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// procStats reads a service's started time, CPU and memory usage from
// /proc/{pid} (spec.md §4.6: started/cpu/memory "come from the external
// process supervisor", which is out of scope here; /proc introspection
// is the concrete source this repo substitutes).
func procStats(pid int) (started, cpu, memory string) {
	statPath := fmt.Sprintf("/proc/%d/stat", pid)
	info, err := os.Stat(statPath)
	if err == nil {
		started = info.ModTime().UTC().Format(time.RFC3339)
	}

	data, err := os.ReadFile(statPath)
	if err == nil {
		fields := strings.Fields(string(data))
		if len(fields) > 14 {
			utime, _ := strconv.ParseFloat(fields[13], 64)
			stime, _ := strconv.ParseFloat(fields[14], 64)
			clockTicks := 100.0 // _SC_CLK_TCK on Linux, conventionally 100
			cpu = fmt.Sprintf("%.2fs", (utime+stime)/clockTicks)
		}
	}

	statusData, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", pid))
	if err == nil {
		for _, line := range strings.Split(string(statusData), "\n") {
			if strings.HasPrefix(line, "VmRSS:") {
				memory = strings.TrimSpace(strings.TrimPrefix(line, "VmRSS:"))
				break
			}
		}
	}

	return started, cpu, memory
}
