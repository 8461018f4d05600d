// Package main provides livenessctl, a stdin/stdout tool for the liveness
// flow's pure components.
//
// Every command reads JSON from stdin and writes JSON to stdout. Errors are
// written to stderr as {"error": ..., "message": ...}.
//
// Usage:
//
//	# Classify a widget error detail
//	echo '{"state":"TIMEOUT"}' | livenessctl classify
//
//	# Normalize a backend verdict
//	echo '{"confidence":97.5,"threshold":90}' | livenessctl verdict
//
//	# Decode and validate a bridge message
//	echo '{"type":"INIT","payload":{"token":"t"}}' | livenessctl decode
//
//	# Localize widget texts
//	echo '{"texts":["Hold still"]}' | livenessctl translate --locale es-AR
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeeves-cluster-organization/livenessflow/commbus"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/classify"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/liveness"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/localizer"
)

// Version information
const (
	Version   = "1.0.0"
	BuildTime = "2026-10-17"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "livenessctl",
		Short:         "Inspect liveness flow decisions from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newClassifyCmd(),
		newVerdictCmd(),
		newDecodeCmd(),
		newTranslateCmd(),
		newVersionCmd(),
	)
	return root
}

// =============================================================================
// COMMANDS
// =============================================================================

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify",
		Short: "Classify a widget error detail (JSON value or plain text)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd)
			if err != nil {
				return fail(cmd, "read_error", err)
			}
			detail := parseDetail(input)
			outcome := classify.Classify(detail)

			bridgeType := ""
			if msg := commbus.ForOutcome(outcome, liveness.Verdict{}); msg != nil {
				bridgeType = commbus.GetMessageType(msg)
			}
			return writeJSON(cmd, map[string]any{
				"outcome":        outcome,
				"cancellation":   outcome.IsCancellation(),
				"timeout_state":  classify.HasTimeoutState(detail),
				"description":    classify.Describe(detail),
				"bridge_message": bridgeType,
			})
		},
	}
}

func newVerdictCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verdict",
		Short: "Normalize a backend verdict and derive its outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd)
			if err != nil {
				return fail(cmd, "read_error", err)
			}
			var v liveness.Verdict
			if err := json.Unmarshal(input, &v); err != nil {
				return fail(cmd, "parse_error", fmt.Errorf("invalid JSON: %w", err))
			}
			v = v.Normalize()
			return writeJSON(cmd, map[string]any{
				"verdict": v,
				"outcome": v.Outcome(),
				"expired": v.Expired(),
				"summary": v.Summary(),
			})
		},
	}
}

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode",
		Short: "Decode and validate a bridge message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd)
			if err != nil {
				return fail(cmd, "read_error", err)
			}
			msg, err := commbus.Decode(input)
			if err != nil {
				return fail(cmd, "decode_error", err)
			}
			if in, ok := msg.(*commbus.Init); ok {
				if err := in.Validate(); err != nil {
					return fail(cmd, "validation_error", err)
				}
			}
			encoded, err := commbus.Encode(msg)
			if err != nil {
				return fail(cmd, "encode_error", err)
			}
			return writeJSON(cmd, map[string]any{
				"type":     commbus.GetMessageType(msg),
				"category": msg.Category(),
				"message":  json.RawMessage(encoded),
			})
		},
	}
}

func newTranslateCmd() *cobra.Command {
	var locale string
	var phrasesFile string

	cmd := &cobra.Command{
		Use:   "translate",
		Short: `Localize {"texts": [...]} with the built-in phrase rules`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd)
			if err != nil {
				return fail(cmd, "read_error", err)
			}
			var req struct {
				Texts []string `json:"texts"`
			}
			if err := json.Unmarshal(input, &req); err != nil {
				return fail(cmd, "parse_error", fmt.Errorf("invalid JSON: %w", err))
			}

			var extra []localizer.Phrase
			if phrasesFile != "" {
				extra, err = readPhrases(phrasesFile)
				if err != nil {
					return fail(cmd, "read_error", err)
				}
			}
			rules, err := localizer.RulesFor(locale, extra)
			if err != nil {
				return fail(cmd, "rule_error", err)
			}

			l := localizer.New(rules, nil)
			out := make([]string, len(req.Texts))
			for i, text := range req.Texts {
				out[i] = l.Translate(text)
			}
			return writeJSON(cmd, map[string]any{
				"locale": localizer.ResolveLocale(locale).String(),
				"rules":  len(rules),
				"texts":  out,
			})
		},
	}
	cmd.Flags().StringVar(&locale, "locale", "es", "BCP 47 locale of the target language")
	cmd.Flags().StringVar(&phrasesFile, "phrases", "", "JSON file with extra phrases, applied before the built-ins")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeJSON(cmd, map[string]string{
				"version":    Version,
				"build_time": BuildTime,
				"go_version": runtime.Version(),
			})
		},
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// readInput reads all of stdin.
func readInput(cmd *cobra.Command) ([]byte, error) {
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	return data, nil
}

// parseDetail decodes stdin as a JSON value, falling back to the trimmed
// raw text.
func parseDetail(input []byte) any {
	var detail any
	if err := json.Unmarshal(input, &detail); err == nil {
		return detail
	}
	return strings.TrimSpace(string(input))
}

func readPhrases(path string) ([]localizer.Phrase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var phrases []localizer.Phrase
	if err := json.Unmarshal(data, &phrases); err != nil {
		return nil, fmt.Errorf("parse phrases %s: %w", path, err)
	}
	return phrases, nil
}

// writeJSON writes v to stdout as indented JSON.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// fail writes an error object to stderr and returns err.
func fail(cmd *cobra.Command, code string, err error) error {
	data, _ := json.Marshal(map[string]string{
		"error":   code,
		"message": err.Error(),
	})
	fmt.Fprintln(cmd.ErrOrStderr(), string(data))
	return err
}
