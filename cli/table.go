package cli

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
)

var readingOrder = []string{
	"count", "value", "average", "last_value", "integrated_value", "integrated_average", "dropped",
	"generated_mean", "generated_stddev",
}

func printReadings(w io.Writer, title string, readings map[string]interface{}) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.AppendHeader(table.Row{"Reading", "Value"})
	for _, name := range readingOrder {
		v, ok := readings[name]
		if !ok {
			continue
		}
		if f, ok := v.(float64); ok {
			v = fmt.Sprintf("%.6f", f)
		}
		t.AppendRow(table.Row{name, v})
	}
	t.Render()
}
