package app

import (
	"fmt"
	"io"
	"sync"
	"text/tabwriter"

	"SecureUSB/internal/util"
	"SecureUSB/internal/vault"
)

// Reporter prints session output. It is safe for concurrent use.
type Reporter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewReporter creates a reporter writing to out.
func NewReporter(out io.Writer) *Reporter {
	return &Reporter{out: out}
}

// Printf prints a line.
func (r *Reporter) Printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format+"\n", args...)
}

// Prompt prints text without a trailing newline.
func (r *Reporter) Prompt(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprint(r.out, text)
}

// Error prints an error message.
func (r *Reporter) Error(err error) {
	r.Printf("Error: %v", err)
}

// Entries prints a file listing as a table.
func (r *Reporter) Entries(entries []vault.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(entries) == 0 {
		fmt.Fprintln(r.out, "No files stored.")
		return
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "NAME\tSIZE\tMODIFIED\tENCRYPTED\n")
	fmt.Fprintf(w, "----\t----\t--------\t---------\n")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", e.Name, util.Sizeify(e.Size), e.ModTime.Format("2006-01-02 15:04"), e.Encrypted)
	}
	w.Flush()
}
