package server

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/aitprotocol/logicnet-dashboard/internal/aggregator"
	"github.com/aitprotocol/logicnet-dashboard/internal/logging"
	"github.com/gin-gonic/gin"
)

//go:embed templates/*.html
var templateFiles embed.FS

const uncategorized = "uncategorized"

var templateFuncs = template.FuncMap{
	"num":      formatNum,
	"nums":     formatNums,
	"category": categoryLabel,
}

// loadTemplates parses the layout and clones it once per page so each page
// can override the content block.
func loadTemplates() (map[string]*template.Template, error) {
	layout, err := template.New("layout.html").Funcs(templateFuncs).ParseFS(templateFiles, "templates/layout.html")
	if err != nil {
		return nil, err
	}

	pages := []string{"dashboard.html", "error.html"}
	result := make(map[string]*template.Template, len(pages))
	for _, page := range pages {
		t, err := layout.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := t.ParseFS(templateFiles, "templates/"+page); err != nil {
			return nil, fmt.Errorf("%s: %w", page, err)
		}
		result[page] = t
	}
	return result, nil
}

// render executes a page into a buffer first so a template failure becomes
// a clean 500 instead of a truncated page.
func (s *Server) render(c *gin.Context, status int, name string, data any) {
	t, ok := s.templates[name]
	if !ok {
		c.String(http.StatusInternalServerError, "template not found")
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		logging.L(c.Request.Context()).Error("template render failed", "template", name, "error", err)
		c.String(http.StatusInternalServerError, "failed to render page")
		return
	}
	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
}

// pieChart feeds the category distribution chart.
type pieChart struct {
	Labels []string `json:"labels"`
	Values []int    `json:"values"`
}

// barChart feeds one per-category ranking chart.
type barChart struct {
	Title string    `json:"title"`
	X     []string  `json:"x"`
	Y     []float64 `json:"y"`
	Hover []string  `json:"hover"`
}

// lineChart feeds the accuracy timeline.
type lineChart struct {
	X []string  `json:"x"`
	Y []float64 `json:"y"`
}

// tableRow is a table line with the upstream fields the view does not model,
// one cell per extra column.
type tableRow struct {
	aggregator.DisplayRow
	ExtraCells []string
}

type dashboardPage struct {
	Validators   []string
	Selected     string
	View         *aggregator.View
	Pie          pieChart
	Bars         []barChart
	Timeline     *lineChart
	ExtraColumns []string
	Rows         []tableRow
	Columns      int
}

// fixedColumns is the number of modeled table columns.
const fixedColumns = 8

func newDashboardPage(validators []string, v *aggregator.View) dashboardPage {
	p := dashboardPage{
		Validators: validators,
		Selected:   v.Validator,
		View:       v,
		Pie:        pieChart{Labels: []string{}, Values: []int{}},
		Bars:       make([]barChart, 0, len(v.Charts)),
	}

	for _, cat := range v.Categories {
		p.Pie.Labels = append(p.Pie.Labels, categoryLabel(cat))
		p.Pie.Values = append(p.Pie.Values, v.CategoryCounts[cat])
	}

	for _, ch := range v.Charts {
		bc := barChart{Title: "category: " + ch.Category}
		for _, b := range ch.Bars {
			bc.X = append(bc.X, b.UID)
			bc.Y = append(bc.Y, b.MeanScore)
			bc.Hover = append(bc.Hover, b.HoverText)
		}
		p.Bars = append(p.Bars, bc)
	}

	if v.HasTimeline {
		lc := &lineChart{X: []string{}, Y: []float64{}}
		for _, pt := range v.Timeline {
			lc.X = append(lc.X, pt.Minute.Format("2006-01-02 15:04"))
			lc.Y = append(lc.Y, pt.MeanAccuracy)
		}
		p.Timeline = lc
	}

	p.ExtraColumns, p.Rows = tableRows(v.Rows)
	p.Columns = fixedColumns + len(p.ExtraColumns)
	return p
}

// tableRows adds a column for every extra upstream field seen in any row,
// sorted by name. Rows lacking a field get an empty cell.
func tableRows(rows []aggregator.DisplayRow) ([]string, []tableRow) {
	seen := make(map[string]struct{})
	for _, r := range rows {
		for k := range r.Extra {
			seen[k] = struct{}{}
		}
	}
	columns := slices.Sorted(maps.Keys(seen))

	out := make([]tableRow, 0, len(rows))
	for _, r := range rows {
		cells := make([]string, len(columns))
		for i, col := range columns {
			if raw, ok := r.Extra[col]; ok {
				cells[i] = extraCell(raw)
			}
		}
		out = append(out, tableRow{DisplayRow: r, ExtraCells: cells})
	}
	return columns, out
}

// extraCell shows JSON strings unquoted, null as empty and any other value
// as raw JSON.
func extraCell(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

type errorPage struct {
	Validators []string
	Selected   string
	Status     int
	Code       string
	Message    string
}

func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatNums(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = formatNum(v)
	}
	return strings.Join(parts, ", ")
}

func categoryLabel(c string) string {
	if c == "" {
		return uncategorized
	}
	return c
}
