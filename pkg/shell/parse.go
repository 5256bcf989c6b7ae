package shell

import (
	"bytes"
	"strconv"
	"strings"
)

// parsePromptOutput extracts command output from everything read between
// sending the command and the next prompt. The first line is the echoed
// command; prompt lines are dropped.
func parsePromptOutput(raw string, suffixes [][]byte) string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	lines := strings.Split(raw, "\n")
	if len(lines) < 2 {
		return ""
	}

	kept := make([]string, 0, len(lines)-1)
	for _, line := range lines[1:] {
		if isPromptLine(line, suffixes) {
			continue
		}
		kept = append(kept, line)
	}

	return strings.Join(kept, "\n")
}

func isPromptLine(line string, suffixes [][]byte) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(line, string(s)) {
			return true
		}
	}
	return false
}

// parseSentinelOutput looks for the line holding only tok followed later by
// the line "tok <status>". Only newline-terminated lines are considered.
func parseSentinelOutput(raw, tok string) (string, int, bool) {
	lines := strings.Split(raw, "\n")
	lines = lines[:len(lines)-1]

	start := -1
	for i, line := range lines {
		line = strings.TrimRight(line, "\r")
		if start < 0 {
			if line == tok {
				start = i
			}
			continue
		}

		rest, ok := strings.CutPrefix(line, tok+" ")
		if !ok {
			continue
		}
		status, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			continue
		}

		out := make([]string, 0, i-start-1)
		for _, l := range lines[start+1 : i] {
			out = append(out, strings.TrimRight(l, "\r"))
		}
		return strings.Join(out, "\n"), status, true
	}

	return "", 0, false
}

// hasLine reports whether b holds a complete line equal to want.
func hasLine(b []byte, want string) bool {
	lines := bytes.Split(b, []byte("\n"))
	for _, line := range lines[:len(lines)-1] {
		if string(bytes.TrimRight(line, "\r")) == want {
			return true
		}
	}
	return false
}
