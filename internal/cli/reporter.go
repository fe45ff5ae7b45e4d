package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"SecureUSB/internal/util"
	"SecureUSB/internal/vault"
	"SecureUSB/internal/volume"

	"gopkg.in/yaml.v3"
)

// Reporter writes command results to stdout and messages to stderr.
// If quiet is true, only errors and requested data are printed.
type Reporter struct {
	out   io.Writer
	err   io.Writer
	quiet bool
}

// NewReporter creates a new CLI reporter.
func NewReporter(out, errOut io.Writer, quiet bool) *Reporter {
	return &Reporter{out: out, err: errOut, quiet: quiet}
}

// PrintSuccess prints a status message.
func (r *Reporter) PrintSuccess(format string, args ...any) {
	if r.quiet {
		return
	}
	fmt.Fprintf(r.err, format+"\n", args...)
}

// Confirm asks a yes/no question on stderr and reads the answer from in.
// assumeYes skips the question.
func (r *Reporter) Confirm(in *bufio.Reader, question string) bool {
	if assumeYes {
		return true
	}
	fmt.Fprintf(r.err, "%s [y/N]: ", question)
	response, _ := in.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
}

// FormatStatus renders a volume handle in the selected format.
func (r *Reporter) FormatStatus(h volume.Handle, format string) error {
	switch format {
	case "json":
		return r.formatJSON(h)
	case "yaml":
		return r.formatYAML(h)
	case "table":
		w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintf(w, "DEVICE\tMAPPED\tMOUNT\tFS\tSTATE\n")
		fmt.Fprintf(w, "------\t------\t-----\t--\t-----\n")
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", h.Device, h.MappedName, h.MountPath, h.FSType, h.State)
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// FormatEntries renders a file listing in the selected format.
func (r *Reporter) FormatEntries(entries []vault.Entry, format string) error {
	if entries == nil {
		entries = []vault.Entry{}
	}
	switch format {
	case "json":
		return r.formatJSON(entries)
	case "yaml":
		return r.formatYAML(entries)
	case "table":
		if len(entries) == 0 {
			fmt.Fprintln(r.out, "No files stored.")
			return nil
		}
		w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintf(w, "NAME\tSIZE\tMODIFIED\tENCRYPTED\n")
		fmt.Fprintf(w, "----\t----\t--------\t---------\n")
		var total int64
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", e.Name, util.Sizeify(e.Size), e.ModTime.Format("2006-01-02 15:04"), e.Encrypted)
			total += e.Size
		}
		fmt.Fprintf(w, "\t%s\t%d file(s)\t\n", util.Sizeify(total), len(entries))
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func (r *Reporter) formatJSON(v any) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func (r *Reporter) formatYAML(v any) error {
	encoder := yaml.NewEncoder(r.out)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(v)
}
