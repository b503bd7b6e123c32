// Package timefmt parses the time strings the presentation engine puts on
// the wire. Parsing never fails: malformed input is reported as zero seconds.
package timefmt

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	secondsPerMinute = 60
	secondsPerHour   = 60 * secondsPerMinute
	halfDay          = 12 * secondsPerHour
)

var clockTimePattern = regexp.MustCompile(`\s*(\d+):(\d+)\s*([AP]M)`)

// HMS converts an "hh:mm:ss" duration to total seconds. A leading minus
// sign negates the whole value, which is how overrun countdowns are
// reported.
func HMS(value string) int {
	value = strings.TrimSpace(value)
	sign := 1
	if rest, ok := strings.CutPrefix(value, "-"); ok {
		sign = -1
		value = rest
	}

	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0
	}

	var fields [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return 0
		}
		fields[i] = n
	}
	return sign * (fields[0]*secondsPerHour + fields[1]*secondsPerMinute + fields[2])
}

// ClockTime converts a wall clock such as " 11:17 AM" to seconds since
// midnight. 12 AM is midnight and 12 PM is noon.
func ClockTime(value string) int {
	match := clockTimePattern.FindStringSubmatch(value)
	if match == nil {
		return 0
	}

	hours, err := strconv.Atoi(match[1])
	if err != nil {
		return 0
	}
	minutes, err := strconv.Atoi(match[2])
	if err != nil {
		return 0
	}

	seconds := (hours%12)*secondsPerHour + minutes*secondsPerMinute
	if match[3] == "PM" {
		seconds += halfDay
	}
	return seconds
}
