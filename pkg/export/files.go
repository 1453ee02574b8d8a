package export

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kilianp07/ugs/core/model"
)

// Options selects the artefacts written for a run.
type Options struct {
	Dir     string `json:"dir"`
	CSV     bool   `json:"csv"`
	JSON    bool   `json:"json"`
	PNG     bool   `json:"png"`
	HTML    bool   `json:"html"`
	Summary bool   `json:"summary"`
}

// SetDefaults writes every artefact to ./output when nothing is selected.
func (o *Options) SetDefaults() {
	if o.Dir == "" {
		o.Dir = "output"
	}
	if !o.CSV && !o.JSON && !o.PNG && !o.HTML && !o.Summary {
		o.CSV, o.JSON, o.PNG, o.HTML, o.Summary = true, true, true, true, true
	}
}

// WriteFiles writes the selected artefacts of rep into opts.Dir, named after
// the run id, and returns their paths.
func WriteFiles(rep model.Report, opts Options) ([]string, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, err
	}
	outputs := []struct {
		enabled bool
		suffix  string
		write   func(io.Writer) error
	}{
		{opts.CSV, "plan.csv", func(w io.Writer) error { return WritePlanCSV(w, rep.Plan, rep.Facility) }},
		{opts.JSON, "report.json", func(w io.Writer) error { return WriteJSON(w, rep) }},
		{opts.PNG, "schedule.png", func(w io.Writer) error { return WritePNG(w, rep) }},
		{opts.HTML, "schedule.html", func(w io.Writer) error { return WriteHTML(w, rep) }},
		{opts.Summary, "summary.txt", func(w io.Writer) error { return WriteSummary(w, rep) }},
	}
	var paths []string
	for _, o := range outputs {
		if !o.enabled {
			continue
		}
		path := filepath.Join(opts.Dir, fmt.Sprintf("%s-%s", rep.RunID, o.suffix))
		var buf bytes.Buffer
		if err := o.write(&buf); err != nil {
			return paths, fmt.Errorf("%s: %w", o.suffix, err)
		}
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
