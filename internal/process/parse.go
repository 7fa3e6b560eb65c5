package process

import (
	"encoding/csv"
	"regexp"
	"strconv"
	"strings"
)

// ssUsersPattern matches the first owner in ss output, e.g.
// users:(("node",pid=1234,fd=20))
var ssUsersPattern = regexp.MustCompile(`users:\(\("([^"]+)",pid=(\d+)`)

// parseLsof reads `lsof -F pc` output and returns the first pid and its
// command name.
func parseLsof(out string) (int, string) {
	pid := 0
	name := ""
	for line := range strings.SplitSeq(out, "\n") {
		line = strings.TrimSpace(line)
		if len(line) < 2 {
			continue
		}
		switch line[0] {
		case 'p':
			if pid != 0 {
				return pid, name
			}
			n, err := strconv.Atoi(line[1:])
			if err != nil {
				continue
			}
			pid = n
		case 'c':
			if pid != 0 && name == "" {
				name = line[1:]
			}
		}
	}
	return pid, name
}

// parseSS reads `ss -ltnpH` output.
func parseSS(out string) (int, string) {
	m := ssUsersPattern.FindStringSubmatch(out)
	if m == nil {
		return 0, ""
	}
	pid, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, ""
	}
	return pid, m[1]
}

// parseNetstat finds the pid listening on port in `netstat -ano` output.
func parseNetstat(out string, port int) int {
	suffix := ":" + strconv.Itoa(port)
	for line := range strings.SplitSeq(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || !strings.EqualFold(fields[0], "TCP") {
			continue
		}
		if !strings.HasSuffix(fields[1], suffix) || !strings.EqualFold(fields[3], "LISTENING") {
			continue
		}
		pid, err := strconv.Atoi(fields[4])
		if err != nil || pid == 0 {
			continue
		}
		return pid
	}
	return 0
}

// parseTasklist returns the image name from `tasklist /FO CSV /NH` output.
func parseTasklist(out string) string {
	out = strings.TrimSpace(out)
	if out == "" || strings.HasPrefix(out, "INFO:") {
		return ""
	}
	r := csv.NewReader(strings.NewReader(out))
	r.FieldsPerRecord = -1
	record, err := r.Read()
	if err != nil || len(record) == 0 {
		return ""
	}
	return strings.TrimSpace(record[0])
}
