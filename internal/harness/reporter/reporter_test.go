package reporter_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hubcred/hubcred-go/internal/harness/reporter"
	"github.com/hubcred/hubcred-go/internal/harness/scenario"
	"github.com/hubcred/hubcred-go/pkg/issuance"
)

func passedResult() *scenario.Result {
	start := time.Date(2026, 2, 11, 9, 30, 0, 0, time.UTC)
	return &scenario.Result{
		Scenario:    scenario.HappyPath,
		RunID:       "run-1",
		Outcome:     issuance.OutcomeSuccess,
		Passed:      true,
		RequestID:   "abc-123",
		Certificate: "-----BEGIN CERTIFICATE-----\nZm9v\n-----END CERTIFICATE-----",
		StartTime:   start,
		EndTime:     start.Add(1200 * time.Millisecond),
		Duration:    1200 * time.Millisecond,
		Transitions: []issuance.Transition{
			{From: issuance.StateIdle, To: issuance.StatePublishing, At: start.Add(time.Millisecond)},
			{From: issuance.StatePublishing, To: issuance.StateAwaitingAccepted, At: start.Add(20 * time.Millisecond)},
			{From: issuance.StateAwaitingAccepted, To: issuance.StateAwaitingResult, At: start.Add(400 * time.Millisecond)},
			{From: issuance.StateAwaitingResult, To: issuance.StateResolved, At: start.Add(1200 * time.Millisecond), Note: "result received"},
		},
	}
}

func failedResult(err error) *scenario.Result {
	res := passedResult()
	res.Scenario = scenario.DisconnectReconnect
	res.Outcome = issuance.OutcomeFailure
	res.Passed = false
	res.Certificate = ""
	res.Err = err
	return res
}

func TestTextReporter(t *testing.T) {
	var buf bytes.Buffer
	r := reporter.NewTextReporter(&buf, false)

	r.Report(passedResult())
	output := buf.String()

	if !strings.Contains(output, "[PASS] happy_path") {
		t.Error("missing pass line")
	}
	if !strings.Contains(output, "Outcome: SUCCESS") {
		t.Error("missing outcome line")
	}
	if !strings.Contains(output, "Request id: abc-123") {
		t.Error("missing request id")
	}
	if strings.Contains(output, "Idle -> Publishing") {
		t.Error("transition trace should only appear in verbose mode")
	}
}

func TestTextReporterVerbose(t *testing.T) {
	var buf bytes.Buffer
	r := reporter.NewTextReporter(&buf, true)

	r.Report(passedResult())
	output := buf.String()

	if !strings.Contains(output, "Idle -> Publishing") {
		t.Error("missing first transition in verbose mode")
	}
	if !strings.Contains(output, "AwaitingResult -> Resolved") {
		t.Error("missing final transition in verbose mode")
	}
	if !strings.Contains(output, "(result received)") {
		t.Error("missing transition note in verbose mode")
	}
}

func TestTextReporterFailure(t *testing.T) {
	var buf bytes.Buffer
	r := reporter.NewTextReporter(&buf, false)

	r.Report(failedResult(errors.New("hub said no")))
	output := buf.String()

	if !strings.Contains(output, "[FAIL] disconnect_reconnect") {
		t.Error("missing fail line")
	}
	if !strings.Contains(output, "Error: hub said no") {
		t.Error("missing error line")
	}
}

func TestTextReporterTimeout(t *testing.T) {
	var buf bytes.Buffer
	r := reporter.NewTextReporter(&buf, false)

	res := failedResult(issuance.ErrTimeout)
	res.Outcome = issuance.OutcomeTimeout
	r.Report(res)

	if !strings.Contains(buf.String(), "[TIMEOUT]") {
		t.Error("timeout should report its own status, not FAIL")
	}
}

func TestJSONReporter(t *testing.T) {
	var buf bytes.Buffer
	r := reporter.NewJSONReporter(&buf, true)

	r.Report(passedResult())

	var jr reporter.JSONResult
	if err := json.Unmarshal(buf.Bytes(), &jr); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if jr.Scenario != scenario.HappyPath {
		t.Errorf("scenario: got %q, want %q", jr.Scenario, scenario.HappyPath)
	}
	if jr.Status != "pass" {
		t.Errorf("status: got %q, want %q", jr.Status, "pass")
	}
	if jr.Outcome != "SUCCESS" {
		t.Errorf("outcome: got %q, want SUCCESS", jr.Outcome)
	}
	if jr.RequestID != "abc-123" {
		t.Errorf("request id: got %q", jr.RequestID)
	}
	if len(jr.Transitions) != 4 {
		t.Fatalf("transitions: got %d, want 4", len(jr.Transitions))
	}
	if jr.Transitions[3].To != "Resolved" || jr.Transitions[3].Note != "result received" {
		t.Errorf("final transition: got %+v", jr.Transitions[3])
	}
	if jr.Error != "" {
		t.Errorf("error should be empty on success, got %q", jr.Error)
	}
}

func TestJSONReporterFailure(t *testing.T) {
	var buf bytes.Buffer
	r := reporter.NewJSONReporter(&buf, false)

	r.Report(failedResult(errors.New("boom")))

	var jr reporter.JSONResult
	if err := json.Unmarshal(buf.Bytes(), &jr); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if jr.Status != "fail" {
		t.Errorf("status: got %q, want fail", jr.Status)
	}
	if jr.Error != "boom" {
		t.Errorf("error: got %q, want boom", jr.Error)
	}
	if jr.Certificate != "" {
		t.Errorf("certificate should be omitted on failure, got %q", jr.Certificate)
	}
}

func TestJUnitReporter(t *testing.T) {
	var buf bytes.Buffer
	r := reporter.NewJUnitReporter(&buf)

	r.Report(passedResult())
	output := buf.String()

	if !strings.HasPrefix(output, `<?xml version="1.0"`) {
		t.Error("missing XML header")
	}
	if !strings.Contains(output, `<testsuite name="hubcred scenarios" tests="1" failures="0"`) {
		t.Error("missing testsuite element")
	}
	if !strings.Contains(output, `<testcase name="happy_path"`) {
		t.Error("missing testcase element")
	}
	if strings.Contains(output, "<failure") {
		t.Error("passed result should not contain a failure element")
	}
	if !strings.Contains(output, "</testsuite>") {
		t.Error("missing closing tag")
	}
}

func TestJUnitReporterFailure(t *testing.T) {
	var buf bytes.Buffer
	r := reporter.NewJUnitReporter(&buf)

	r.Report(failedResult(errors.New(`status <500> & "broken"`)))
	output := buf.String()

	if !strings.Contains(output, `failures="1"`) {
		t.Error("missing failure count")
	}
	if !strings.Contains(output, "&lt;500&gt;") || !strings.Contains(output, "&amp;") || !strings.Contains(output, "&quot;") {
		t.Errorf("failure message not escaped: %s", output)
	}
	if !strings.Contains(output, "AwaitingResult -> Resolved") {
		t.Error("missing transition trace in failure CDATA")
	}
}
