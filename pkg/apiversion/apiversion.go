// Package apiversion parses and compares hub credential API versions.
//
// Hub API versions are dates with an optional lifecycle stage, such as
// "2025-08-01-preview" or "2024-11-15". The version a client selects is
// carried in both the MQTT username and the request topic, so a
// malformed value surfaces only as an opaque authentication failure at
// connect time. Parsing up front turns that into a clear config error.
package apiversion

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Version is a parsed date-based API version. GA versions carry no
// stage suffix.
type Version struct {
	Date  time.Time
	Stage string
}

// Parse parses a "YYYY-MM-DD" version string with an optional stage
// suffix, e.g. "2025-08-01-preview".
func Parse(s string) (Version, error) {
	datePart := s
	var stage string
	if len(s) > len(dateLayout) {
		if s[len(dateLayout)] != '-' || len(s) == len(dateLayout)+1 {
			return Version{}, fmt.Errorf("invalid api version %q: expected YYYY-MM-DD with optional -stage suffix", s)
		}
		datePart = s[:len(dateLayout)]
		stage = s[len(dateLayout)+1:]
	}

	date, err := time.Parse(dateLayout, datePart)
	if err != nil {
		return Version{}, fmt.Errorf("invalid api version %q: expected YYYY-MM-DD with optional -stage suffix", s)
	}

	return Version{Date: date, Stage: stage}, nil
}

// String returns the version in wire form.
func (v Version) String() string {
	if v.Stage == "" {
		return v.Date.Format(dateLayout)
	}
	return v.Date.Format(dateLayout) + "-" + v.Stage
}

// Preview reports whether the version carries a lifecycle stage suffix.
func (v Version) Preview() bool {
	return v.Stage != ""
}

// Before orders versions by date. On equal dates the staged version
// precedes the GA one.
func (v Version) Before(other Version) bool {
	if !v.Date.Equal(other.Date) {
		return v.Date.Before(other.Date)
	}
	return v.Preview() && !other.Preview()
}
