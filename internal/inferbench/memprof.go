package inferbench

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// readRSS returns the resident set size of this process in bytes. It reads
// VmRSS from /proc/self/status and returns 0 where that file is missing.
func readRSS() int64 {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		// VmRSS:    12345 kB
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] != "VmRSS:" {
			continue
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}
