package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	lg "github.com/charmbracelet/lipgloss/v2"
	lgtable "github.com/charmbracelet/lipgloss/v2/table"
	"github.com/charmbracelet/x/ansi"
	"sigs.k8s.io/yaml"

	"github.com/sttts/kconsole/internal/views"
	"github.com/sttts/kconsole/pkg/resources"
)

// row is one printed item of a view.
type row struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	Status   string   `json:"status,omitempty"`
	Services []string `json:"services,omitempty"`
	URL      string   `json:"url,omitempty"`
}

func podRows(l resources.List) []row {
	out := make([]row, 0, len(l))
	for _, r := range l {
		status := ""
		if p, ok := r.(*resources.Pod); ok {
			status = p.Phase()
		}
		out = append(out, row{Name: r.Name(), Kind: string(r.Kind()), Status: status})
	}
	return out
}

func serviceRows(vs []views.ServiceView) []row {
	out := make([]row, 0, len(vs))
	for _, v := range vs {
		out = append(out, row{Name: v.Name(), Kind: string(resources.KindService), URL: v.URL()})
	}
	return out
}

func workloadRows(vs []views.WorkloadView) []row {
	out := make([]row, 0, len(vs))
	for _, v := range vs {
		r := row{
			Name:   v.Name(),
			Kind:   string(v.Workload.Kind()),
			Status: strconv.Itoa(int(v.Workload.ReadyReplicas())) + "/" + strconv.Itoa(int(v.Workload.DesiredReplicas())),
			URL:    v.URL(),
		}
		for _, s := range v.Services {
			r.Services = append(r.Services, s.Name())
		}
		out = append(out, r)
	}
	return out
}

type printer struct {
	format string
	w      io.Writer
}

func newPrinter(format string, w io.Writer) (*printer, error) {
	switch format {
	case "table", "yaml":
		return &printer{format: format, w: w}, nil
	}
	return nil, fmt.Errorf("unknown output format %q, expected table or yaml", format)
}

func (p *printer) print(rows []row) error {
	if p.format == "yaml" {
		data, err := yaml.Marshal(rows)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(p.w, "---\n%s", data)
		return err
	}

	cells := make([][]string, 0, len(rows))
	for _, r := range rows {
		cells = append(cells, []string{r.Name, r.Kind, dash(r.Status), dash(strings.Join(r.Services, ",")), dash(r.URL)})
	}
	return renderTable(p.w, []string{"NAME", "KIND", "STATUS", "SERVICES", "URL"}, cells)
}

// maxCellWidth bounds a table cell; longer values are cut with an ellipsis.
const maxCellWidth = 60

// renderTable prints a borderless, left-aligned table followed by an empty
// line.
func renderTable(w io.Writer, headers []string, rows [][]string) error {
	cell := lg.NewStyle().PaddingRight(2)
	tb := lgtable.New().
		Wrap(false).
		Border(lg.HiddenBorder()).
		BorderTop(false).BorderBottom(false).BorderLeft(false).BorderRight(false).
		BorderColumn(false).
		BorderHeader(false).
		StyleFunc(func(row, col int) lg.Style { return cell })
	tb.Headers(headers...)
	for _, r := range rows {
		truncated := make([]string, len(r))
		for i, c := range r {
			truncated[i] = ansi.Truncate(c, maxCellWidth, "…")
		}
		tb.Row(truncated...)
	}
	_, err := fmt.Fprintf(w, "%s\n\n", tb.Render())
	return err
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
