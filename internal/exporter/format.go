package exporter

import (
	"strconv"
	"strings"
	"time"
)

// reportTimeLayout is used for every timestamp column
const reportTimeLayout = "2006-01-02 15:04:05"

func formatInt(i int) string {
	return strconv.Itoa(i)
}

// formatTime renders t in UTC, or "" for the zero time
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(reportTimeLayout)
}

func formatList(items []string) string {
	return strings.Join(items, ";")
}
