package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// runCLI executes the command tree in-process with the given stdin.
func runCLI(t *testing.T, input string, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(input))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)

	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

func parseOutput(t *testing.T, stdout string) map[string]any {
	t.Helper()
	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &result), "stdout: %s", stdout)
	return result
}

func parseError(t *testing.T, stderr string) map[string]any {
	t.Helper()
	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(stderr)), &result), "stderr: %s", stderr)
	return result
}

// =============================================================================
// CLASSIFY
// =============================================================================

func TestClassify(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		outcome      string
		bridge       string
		cancellation bool
	}{
		{"timeout state", `{"state":"TIMEOUT","message":"face not detected"}`, "analysis_timeout", "TIMEOUT", true},
		{"expired message", `{"message":"Session expired"}`, "session_expired", "EXPIRED", true},
		{"network string", `"Failed to fetch"`, "network_error", "NETWORK_ERROR", true},
		{"plain text", "NetworkError when attempting to fetch resource.", "network_error", "NETWORK_ERROR", true},
		{"unknown", `{"state":"CAMERA_ACCESS_ERROR"}`, "unknown_error", "", false},
		{"null", `null`, "unknown_error", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, _, err := runCLI(t, tt.input, "classify")
			require.NoError(t, err)

			result := parseOutput(t, stdout)
			assert.Equal(t, tt.outcome, result["outcome"])
			assert.Equal(t, tt.bridge, result["bridge_message"])
			assert.Equal(t, tt.cancellation, result["cancellation"])
		})
	}
}

func TestClassify_ReportsTimeoutStateAndDescription(t *testing.T) {
	stdout, _, err := runCLI(t, `{"state":"timeout","message":"took too long"}`, "classify")
	require.NoError(t, err)

	result := parseOutput(t, stdout)
	assert.Equal(t, true, result["timeout_state"])
	assert.Contains(t, result["description"], "took too long")
}

func TestClassify_EmptyInput(t *testing.T) {
	_, stderr, err := runCLI(t, "  \n", "classify")
	require.Error(t, err)

	errResult := parseError(t, stderr)
	assert.Equal(t, "read_error", errResult["error"])
}

// =============================================================================
// VERDICT
// =============================================================================

func TestVerdict_DerivesApprovalLocally(t *testing.T) {
	stdout, _, err := runCLI(t,
		`{"sessionId":"sess-1","status":"succeeded","confidence":97.5,"threshold":90,"approved":false}`,
		"verdict")
	require.NoError(t, err)

	result := parseOutput(t, stdout)
	assert.Equal(t, "approved", result["outcome"])
	assert.Equal(t, false, result["expired"])
	assert.Equal(t, "confidence 97.50% | threshold 90.00%", result["summary"])

	verdict := result["verdict"].(map[string]any)
	assert.Equal(t, true, verdict["approved"])
	assert.Equal(t, "SUCCEEDED", verdict["status"])
}

func TestVerdict_ThresholdIsInclusive(t *testing.T) {
	stdout, _, err := runCLI(t, `{"confidence":90,"threshold":90}`, "verdict")
	require.NoError(t, err)
	assert.Equal(t, "approved", parseOutput(t, stdout)["outcome"])
}

func TestVerdict_RejectedAndExpired(t *testing.T) {
	stdout, _, err := runCLI(t, `{"status":"EXPIRED","confidence":12,"threshold":90,"approved":true}`, "verdict")
	require.NoError(t, err)

	result := parseOutput(t, stdout)
	assert.Equal(t, "rejected", result["outcome"])
	assert.Equal(t, true, result["expired"])
}

func TestVerdict_InvalidJSON(t *testing.T) {
	_, stderr, err := runCLI(t, `{not json`, "verdict")
	require.Error(t, err)
	assert.Equal(t, "parse_error", parseError(t, stderr)["error"])
}

// =============================================================================
// DECODE
// =============================================================================

func TestDecode_Init(t *testing.T) {
	stdout, _, err := runCLI(t, `{"type":"INIT","payload":{"token":"tok","subjectId":"u-1"}}`, "decode")
	require.NoError(t, err)

	result := parseOutput(t, stdout)
	assert.Equal(t, "INIT", result["type"])
	assert.Equal(t, "query", result["category"])

	msg := result["message"].(map[string]any)
	payload := msg["payload"].(map[string]any)
	assert.Equal(t, "tok", payload["token"])
	assert.Equal(t, "u-1", payload["subjectId"])
}

func TestDecode_ResultIsNormalized(t *testing.T) {
	stdout, _, err := runCLI(t,
		`{"type":"RESULT","payload":{"confidence":50,"threshold":90,"approved":true}}`, "decode")
	require.NoError(t, err)

	result := parseOutput(t, stdout)
	assert.Equal(t, "RESULT", result["type"])
	assert.Equal(t, "event", result["category"])

	payload := result["message"].(map[string]any)["payload"].(map[string]any)
	assert.Equal(t, false, payload["approved"])
}

func TestDecode_SignalHasNoPayload(t *testing.T) {
	stdout, _, err := runCLI(t, `{"type":"CANCEL"}`, "decode")
	require.NoError(t, err)

	msg := parseOutput(t, stdout)["message"].(map[string]any)
	assert.Equal(t, "CANCEL", msg["type"])
	assert.NotContains(t, msg, "payload")
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		code  string
	}{
		{"unknown type", `{"type":"PING"}`, "decode_error"},
		{"missing type", `{"payload":{}}`, "decode_error"},
		{"missing payload", `{"type":"RESULT"}`, "decode_error"},
		{"blank token", `{"type":"INIT","payload":{"token":"  "}}`, "validation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, stderr, err := runCLI(t, tt.input, "decode")
			require.Error(t, err)
			assert.Equal(t, tt.code, parseError(t, stderr)["error"])
		})
	}
}

// =============================================================================
// TRANSLATE
// =============================================================================

func TestTranslate_Spanish(t *testing.T) {
	stdout, _, err := runCLI(t, `{"texts":["Hold still","Cancel","unchanged"]}`, "translate", "--locale", "es-AR")
	require.NoError(t, err)

	result := parseOutput(t, stdout)
	assert.Equal(t, "es", result["locale"])
	assert.Equal(t, []any{"Quédate quieto", "Cancelar", "unchanged"}, result["texts"])
}

func TestTranslate_EnglishLeavesTextAlone(t *testing.T) {
	stdout, _, err := runCLI(t, `{"texts":["Hold still"]}`, "translate", "--locale", "en-US")
	require.NoError(t, err)

	result := parseOutput(t, stdout)
	assert.Equal(t, "en", result["locale"])
	assert.Equal(t, float64(0), result["rules"])
	assert.Equal(t, []any{"Hold still"}, result["texts"])
}

func TestTranslate_ExtraPhrasesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phrases.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`[{"match":"Hold still","replacement":"No te muevas"}]`), 0o600))

	stdout, _, err := runCLI(t, `{"texts":["Hold still"]}`, "translate", "--phrases", path)
	require.NoError(t, err)
	assert.Equal(t, []any{"No te muevas"}, parseOutput(t, stdout)["texts"])
}

func TestTranslate_BadPhrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phrases.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"match":"(","regexp":true}]`), 0o600))

	_, stderr, err := runCLI(t, `{"texts":[]}`, "translate", "--phrases", path)
	require.Error(t, err)
	assert.Equal(t, "rule_error", parseError(t, stderr)["error"])
}

// =============================================================================
// VERSION
// =============================================================================

func TestVersion(t *testing.T) {
	stdout, _, err := runCLI(t, "", "version")
	require.NoError(t, err)

	result := parseOutput(t, stdout)
	assert.Equal(t, Version, result["version"])
	assert.Equal(t, BuildTime, result["build_time"])
	assert.NotEmpty(t, result["go_version"])
}

func TestUnknownCommand(t *testing.T) {
	_, _, err := runCLI(t, "", "bogus")
	assert.Error(t, err)
}
