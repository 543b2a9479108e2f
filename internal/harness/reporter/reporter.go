// Package reporter formats scenario results for terminal and CI output.
package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hubcred/hubcred-go/internal/harness/scenario"
	"github.com/hubcred/hubcred-go/pkg/issuance"
)

// Reporter formats and writes one scenario result.
type Reporter interface {
	Report(result *scenario.Result)
}

// TextReporter writes human-readable reports.
type TextReporter struct {
	writer  io.Writer
	verbose bool
}

// NewTextReporter creates a new text reporter. Verbose adds the state
// transition trace to every report.
func NewTextReporter(w io.Writer, verbose bool) *TextReporter {
	return &TextReporter{
		writer:  w,
		verbose: verbose,
	}
}

// Report writes the result in text format.
func (r *TextReporter) Report(result *scenario.Result) {
	fmt.Fprintf(r.writer, "[%s] %s (%s)\n",
		statusLabel(result), result.Scenario, result.Duration.Round(time.Millisecond))
	fmt.Fprintf(r.writer, "       Outcome: %s\n", result.Outcome)

	if result.RequestID != "" {
		fmt.Fprintf(r.writer, "       Request id: %s\n", result.RequestID)
	}
	if result.Reconnects > 0 {
		fmt.Fprintf(r.writer, "       Reconnects: %d\n", result.Reconnects)
	}
	if result.Certificate != "" {
		fmt.Fprintf(r.writer, "       Certificate: %d bytes\n", len(result.Certificate))
	}
	if result.Err != nil {
		fmt.Fprintf(r.writer, "       Error: %v\n", result.Err)
	}

	if r.verbose {
		for i, tr := range result.Transitions {
			fmt.Fprintf(r.writer, "    %2d. %s -> %s at +%s%s\n",
				i+1, tr.From, tr.To,
				tr.At.Sub(result.StartTime).Round(time.Millisecond),
				noteSuffix(tr.Note))
		}
	}
}

func noteSuffix(note string) string {
	if note == "" {
		return ""
	}
	return " (" + note + ")"
}

// statusLabel maps a result to its report status. Timeout keeps its own
// label: the hub never rejected the request.
func statusLabel(result *scenario.Result) string {
	switch {
	case result.Passed:
		return "PASS"
	case result.Outcome == issuance.OutcomeTimeout:
		return "TIMEOUT"
	default:
		return "FAIL"
	}
}

// JSONReporter writes JSON-formatted reports.
type JSONReporter struct {
	writer io.Writer
	pretty bool
}

// NewJSONReporter creates a new JSON reporter.
func NewJSONReporter(w io.Writer, pretty bool) *JSONReporter {
	return &JSONReporter{
		writer: w,
		pretty: pretty,
	}
}

// JSONResult is the JSON representation of a scenario result.
type JSONResult struct {
	Scenario    string           `json:"scenario"`
	RunID       string           `json:"run_id"`
	Status      string           `json:"status"`
	Outcome     string           `json:"outcome"`
	Duration    string           `json:"duration"`
	RequestID   string           `json:"request_id,omitempty"`
	Certificate string           `json:"certificate,omitempty"`
	Reconnects  int              `json:"reconnects,omitempty"`
	Error       string           `json:"error,omitempty"`
	Transitions []JSONTransition `json:"transitions,omitempty"`
}

// JSONTransition is the JSON representation of one state change.
type JSONTransition struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Offset string `json:"offset"`
	Note   string `json:"note,omitempty"`
}

// Report writes the result as one JSON document.
func (r *JSONReporter) Report(result *scenario.Result) {
	jr := JSONResult{
		Scenario:    result.Scenario,
		RunID:       result.RunID,
		Status:      strings.ToLower(statusLabel(result)),
		Outcome:     result.Outcome.String(),
		Duration:    result.Duration.Round(time.Millisecond).String(),
		RequestID:   result.RequestID,
		Certificate: result.Certificate,
		Reconnects:  result.Reconnects,
	}
	if result.Err != nil {
		jr.Error = result.Err.Error()
	}
	for _, tr := range result.Transitions {
		jr.Transitions = append(jr.Transitions, JSONTransition{
			From:   tr.From.String(),
			To:     tr.To.String(),
			Offset: tr.At.Sub(result.StartTime).Round(time.Millisecond).String(),
			Note:   tr.Note,
		})
	}
	r.writeJSON(jr)
}

func (r *JSONReporter) writeJSON(v any) {
	var data []byte
	var err error

	if r.pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}

	if err != nil {
		fmt.Fprintf(r.writer, `{"error": "failed to marshal: %s"}`, err)
		return
	}

	fmt.Fprintln(r.writer, string(data))
}

// JUnitReporter writes JUnit XML for CI integration. A scenario run maps
// to a suite with a single testcase; a timeout counts as a failure since
// JUnit has no separate verdict for it.
type JUnitReporter struct {
	writer io.Writer
}

// NewJUnitReporter creates a new JUnit reporter.
func NewJUnitReporter(w io.Writer) *JUnitReporter {
	return &JUnitReporter{writer: w}
}

// Report writes the result as a JUnit testsuite document.
func (r *JUnitReporter) Report(result *scenario.Result) {
	var b strings.Builder

	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString("\n")

	failures := 0
	if !result.Passed {
		failures = 1
	}
	fmt.Fprintf(&b, `<testsuite name="hubcred scenarios" tests="1" failures="%d" skipped="0" time="%.3f">`,
		failures, result.Duration.Seconds())
	b.WriteString("\n")

	fmt.Fprintf(&b, `  <testcase name="%s" classname="hubcred" time="%.3f">`,
		escapeXML(result.Scenario), result.Duration.Seconds())
	b.WriteString("\n")

	if !result.Passed {
		msg := result.Outcome.String()
		if result.Err != nil {
			msg = result.Err.Error()
		}
		fmt.Fprintf(&b, `    <failure message="%s">`, escapeXML(msg))
		b.WriteString("\n")

		// State trace in CDATA so CI surfaces where the exchange stalled.
		b.WriteString("      <![CDATA[")
		for _, tr := range result.Transitions {
			fmt.Fprintf(&b, "%s -> %s at +%s%s\n",
				tr.From, tr.To,
				tr.At.Sub(result.StartTime).Round(time.Millisecond),
				noteSuffix(tr.Note))
		}
		b.WriteString("]]>\n")
		b.WriteString("    </failure>\n")
	}

	b.WriteString("  </testcase>\n")
	b.WriteString("</testsuite>\n")

	fmt.Fprint(r.writer, b.String())
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	return s
}
