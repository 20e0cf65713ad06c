package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alfredjeanlab/castboard/internal/maintenance"
	"github.com/alfredjeanlab/castboard/internal/ui"
)

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

// printReport writes the summary of a maintenance run.
func printReport(w io.Writer, r *maintenance.Report) {
	title := r.Task
	if r.DryRun {
		title += " " + ui.RenderWarn("(dry run)")
	}
	fmt.Fprintln(w, ui.RenderAccent(strings.ToUpper(title[:1])+title[1:]+":"))
	fmt.Fprintf(w, "  objects:     %d\n", r.Objects)
	fmt.Fprintf(w, "  rows:        %d\n", r.Rows)
	printKeys(w, "orphans", r.Orphans)
	printKeys(w, "dangling", r.Dangling)
	printKeys(w, "quarantine", r.Quarantine)
	printKeys(w, "unparseable", r.Unparseable)
	fmt.Fprintf(w, "  processed:   %d\n", r.Processed)
	fmt.Fprintf(w, "  errors:      %s\n", ui.Count(r.Errors))
}

func printKeys(w io.Writer, label string, keys []string) {
	if len(keys) == 0 {
		return
	}
	fmt.Fprintf(w, "  %-12s %d\n", label+":", len(keys))
	for _, k := range keys {
		fmt.Fprintf(w, "    %s\n", ui.RenderMuted(k))
	}
}
