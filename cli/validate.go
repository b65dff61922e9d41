package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	cosmos "github.com/nebulalabs/cosmos"
	"github.com/nebulalabs/cosmos/section"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a setlist file without loading it",
		Long: "Checks an exported setlist document: structure and ids must be " +
			"sound, and values the studio would silently adjust on apply are " +
			"reported as warnings.",
		Args: cobra.ExactArgs(1),
		RunE: runValidate,
	}

	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Bool("strict", false, "Treat warnings as errors")

	return cmd
}

const (
	severityError   = "error"
	severityWarning = "warning"
)

// diagnostic is one validation finding, printable as text or JSON.
type diagnostic struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Section  string `json:"section,omitempty"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	format, _ := cmd.Flags().GetString("format")
	strict, _ := cmd.Flags().GetBool("strict")
	out := cmd.OutOrStdout()

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return exitError(exitFileNotFound, "file not found: %s", filePath)
		}
		return fmt.Errorf("reading file: %w", err)
	}

	sections, err := section.ParseExport(data)
	if err != nil {
		printDiagnostics(out, []diagnostic{{Severity: severityError, Message: err.Error()}}, format)
		return exitError(exitValidation, "validation failed")
	}

	diags := lintSections(sections)
	printDiagnostics(out, diags, format)

	if strict && len(diags) > 0 {
		return exitError(exitValidation, "validation failed")
	}
	return nil
}

// lintSections reports setlist values the studio adjusts or ignores on
// apply. These are warnings: the file loads, but probably not as intended.
func lintSections(sections []section.Section) []diagnostic {
	var diags []diagnostic
	warn := func(id, format string, args ...any) {
		diags = append(diags, diagnostic{
			Severity: severityWarning,
			Message:  fmt.Sprintf(format, args...),
			Section:  id,
		})
	}

	if len(sections) == 0 {
		warn("", "setlist has no sections")
		return diags
	}

	known := make(map[string]bool, len(cosmos.MacroChannels))
	for _, ch := range cosmos.MacroChannels {
		known[ch] = true
	}

	for _, s := range sections {
		if s.Name == "" {
			warn(s.ID, "section has no name")
		}
		if s.BPM <= 0 {
			warn(s.ID, "bpm %g keeps the current tempo when applied", s.BPM)
		}

		channels := make([]string, 0, len(s.Macros))
		for ch := range s.Macros {
			channels = append(channels, ch)
		}
		sort.Strings(channels)
		for _, ch := range channels {
			if !known[ch] {
				warn(s.ID, "unknown macro channel %q is ignored", ch)
				continue
			}
			if v := s.Macros[ch]; v < 0 || v > 1 {
				warn(s.ID, "macro %s value %g is clamped to [0,1]", ch, v)
			}
		}
	}
	return diags
}

// printDiagnostics writes diagnostics to the writer in the requested format,
// followed by a summary line (for text format).
func printDiagnostics(w io.Writer, diags []diagnostic, format string) {
	if format == "json" {
		printDiagnosticsJSON(w, diags)
		return
	}
	printDiagnosticsText(w, diags)
}

func printDiagnosticsText(w io.Writer, diags []diagnostic) {
	var errs, warns int
	for _, d := range diags {
		sev := strings.ToUpper(d.Severity)
		if d.Section != "" {
			fmt.Fprintf(w, "%s: %s (section %s)\n", sev, d.Message, d.Section)
		} else {
			fmt.Fprintf(w, "%s: %s\n", sev, d.Message)
		}
		if d.Severity == severityError {
			errs++
		} else {
			warns++
		}
	}

	switch {
	case errs == 0 && warns == 0:
		fmt.Fprintln(w, "Valid!")
	case errs == 0:
		fmt.Fprintf(w, "\nValid! (%d %s)\n", warns, pluralize("warning", warns))
	default:
		fmt.Fprintf(w, "\n%d %s, %d %s\n",
			errs, pluralize("error", errs),
			warns, pluralize("warning", warns))
	}
}

func printDiagnosticsJSON(w io.Writer, diags []diagnostic) {
	// Output an empty array rather than null when there are no diagnostics.
	if diags == nil {
		diags = []diagnostic{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(diags)
}

// pluralize returns the singular or plural form of a word based on count.
func pluralize(word string, count int) string {
	if count == 1 {
		return word
	}
	return word + "s"
}
