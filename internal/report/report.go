// Package report builds ranking summaries from the latest stored checks and
// renders them as text, HTML, or email.
package report

import (
	"context"
	"fmt"
	htmltemplate "html/template"
	"io"
	"math"
	"sort"
	"strconv"
	"text/template"
	"time"

	"github.com/stoic-cipher/serp-tracker/internal/config"
	"github.com/stoic-cipher/serp-tracker/internal/storage"
)

// Stats aggregates one client's latest snapshot. Top10 and Top3 are
// cumulative counts (position <= N), matching the overview numbers.
type Stats struct {
	Total       int
	Ranking     int
	Top10       int
	Top3        int
	AvgPosition float64
}

// ClientReport is one client's section of a report. Rankings holds the full
// snapshot ordered best position first, not-ranking keywords last; the bucket
// slices partition the same checks for grouped display.
type ClientReport struct {
	ClientID   string
	Name       string
	Domain     string
	Stats      Stats
	Rankings   []*storage.Check
	Top3       []*storage.Check
	Top10      []*storage.Check
	Ranking    []*storage.Check
	NotRanking []*storage.Check
}

// Report is a point-in-time view over one or all clients plus the
// unacknowledged alerts.
type Report struct {
	GeneratedAt time.Time
	Clients     []*ClientReport
	Alerts      []*storage.Alert
}

// Build assembles a report from the latest check per keyword. An empty
// clientID covers every configured client, sorted by id.
func Build(ctx context.Context, store storage.Store, cfg *config.Config, clientID string) (*Report, error) {
	ids := cfg.ClientIDs()
	if clientID != "" {
		if _, ok := cfg.ClientByID(clientID); !ok {
			return nil, fmt.Errorf("unknown client %q", clientID)
		}
		ids = []string{clientID}
	}

	rep := &Report{GeneratedAt: time.Now()}
	for _, id := range ids {
		client, _ := cfg.ClientByID(id)
		checks, err := store.LatestChecks(ctx, id, time.Time{})
		if err != nil {
			return nil, fmt.Errorf("load rankings for %q: %w", id, err)
		}
		rep.Clients = append(rep.Clients, buildClient(id, client, checks))
	}

	alerts, err := store.Alerts(ctx, clientID, true, 0)
	if err != nil {
		return nil, fmt.Errorf("load alerts: %w", err)
	}
	rep.Alerts = alerts
	return rep, nil
}

func buildClient(id string, client config.Client, checks []*storage.Check) *ClientReport {
	cr := &ClientReport{
		ClientID: id,
		Name:     client.Name,
		Domain:   client.Domain,
		Rankings: checks,
	}

	sort.SliceStable(cr.Rankings, func(i, j int) bool {
		a, b := cr.Rankings[i].Position, cr.Rankings[j].Position
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})

	sum := 0
	for _, c := range cr.Rankings {
		cr.Stats.Total++
		if c.Position == nil {
			cr.NotRanking = append(cr.NotRanking, c)
			continue
		}
		cr.Stats.Ranking++
		sum += *c.Position
		switch p := *c.Position; {
		case p <= 3:
			cr.Stats.Top3++
			cr.Stats.Top10++
			cr.Top3 = append(cr.Top3, c)
		case p <= 10:
			cr.Stats.Top10++
			cr.Top10 = append(cr.Top10, c)
		default:
			cr.Ranking = append(cr.Ranking, c)
		}
	}
	if cr.Stats.Ranking > 0 {
		avg := float64(sum) / float64(cr.Stats.Ranking)
		cr.Stats.AvgPosition = math.Round(avg*10) / 10
	}
	return cr
}

// Template helpers shared by the text and HTML renderers.
var reportFuncs = map[string]any{
	"posnum": func(p *int) string {
		if p == nil {
			return "N/A"
		}
		return strconv.Itoa(*p)
	},
	"poslabel": func(p *int) string {
		if p == nil {
			return "Not Ranking"
		}
		return "#" + strconv.Itoa(*p)
	},
	"posclass": func(p *int) string {
		switch {
		case p == nil:
			return " not-ranking"
		case *p <= 3:
			return " top-3"
		case *p <= 10:
			return " top-10"
		default:
			return ""
		}
	},
	"abs": func(n int) int {
		if n < 0 {
			return -n
		}
		return n
	},
}

// WriteText renders the report as a plain-text summary.
func WriteText(w io.Writer, rep *Report) error {
	const textTmpl = `SERP Tracking Report - {{.GeneratedAt.Format "2006-01-02"}}
================================================================================
{{- range .Clients}}

{{.Name}} ({{.Domain}})
--------------------------------------------------------------------------------
  Total Keywords:   {{.Stats.Total}}
  Ranking:          {{.Stats.Ranking}}
  Top 10:           {{.Stats.Top10}}
  Top 3:            {{.Stats.Top3}}
{{- if gt .Stats.Ranking 0}}
  Average Position: {{printf "%.1f" .Stats.AvgPosition}}
{{- end}}
{{- if not .Rankings}}

  No ranking data available yet.
{{- end}}
{{- if .Top3}}

  Top 3:
{{- range .Top3}}
    #{{posnum .Position}} - {{.Keyword}}
{{- end}}
{{- end}}
{{- if .Top10}}

  Top 10 (4-10):
{{- range .Top10}}
    #{{posnum .Position}} - {{.Keyword}}
{{- end}}
{{- end}}
{{- if .Ranking}}

  Ranking (11+):
{{- range .Ranking}}
    #{{posnum .Position}} - {{.Keyword}}
{{- end}}
{{- end}}
{{- if .NotRanking}}

  Not Ranking:
{{- range .NotRanking}}
    {{.Keyword}}
{{- end}}
{{- end}}
{{- end}}
{{- if .Alerts}}

Recent Alerts:
{{- range .Alerts}}
  [{{.Type}}] {{.Keyword}}: {{posnum .PrevPosition}} -> {{posnum .NewPosition}}
{{- end}}
{{- end}}
`

	t, err := template.New("textReport").Funcs(template.FuncMap(reportFuncs)).Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("parse text template: %w", err)
	}
	if err := t.Execute(w, rep); err != nil {
		return fmt.Errorf("render text report: %w", err)
	}
	return nil
}

// WriteHTML renders the report as a standalone HTML page. Scraped titles and
// URLs pass through html/template escaping.
func WriteHTML(w io.Writer, rep *Report) error {
	const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>SERP Tracking Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  h2 { color: #667eea; margin-top: 30px; margin-bottom: 0; }
  .domain { color: #999; font-size: 14px; margin-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 120px; text-align: center; }
  .stat-val { font-size: 24px; font-weight: bold; color: #667eea; }
  .alerts { background: #fff3cd; border-left: 4px solid #ffc107; padding: 10px 20px; margin: 20px 0; border-radius: 5px; }
  table { border-collapse: collapse; margin-top: 10px; width: 100%; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
  .position { font-weight: bold; color: #667eea; }
  .position.top-3 { color: #28a745; }
  .position.top-10 { color: #17a2b8; }
  .position.not-ranking { color: #dc3545; }
</style>
</head>
<body>
  <h1>SERP Tracking Report</h1>
  <p><strong>Generated:</strong> {{.GeneratedAt.Format "2006-01-02 15:04:05"}}</p>
{{- if .Alerts}}

  <div class="alerts">
    <h3>Recent Alerts</h3>
    {{- range .Alerts}}
    <p><strong>{{.Keyword}}</strong> - {{.Type}}<br>
    Position: {{posnum .PrevPosition}} &rarr; {{posnum .NewPosition}} (change: {{abs .Change}})</p>
    {{- end}}
  </div>
{{- end}}
{{- range .Clients}}

  <h2>{{.Name}}</h2>
  <div class="domain">{{.Domain}}</div>

  <div class="stat-card"><div>Total Keywords</div><div class="stat-val">{{.Stats.Total}}</div></div>
  <div class="stat-card"><div>Ranking</div><div class="stat-val">{{.Stats.Ranking}}</div></div>
  <div class="stat-card"><div>Top 10</div><div class="stat-val">{{.Stats.Top10}}</div></div>
  <div class="stat-card"><div>Top 3</div><div class="stat-val">{{.Stats.Top3}}</div></div>
  {{- if gt .Stats.Ranking 0}}
  <div class="stat-card"><div>Avg Position</div><div class="stat-val">{{printf "%.1f" .Stats.AvgPosition}}</div></div>
  {{- end}}

  {{- if .Rankings}}
  <table>
    <tr><th>Position</th><th>Keyword</th><th>URL</th></tr>
    {{- range .Rankings}}
    <tr>
      <td><span class="position{{posclass .Position}}">{{poslabel .Position}}</span></td>
      <td>{{.Keyword}}</td>
      <td>{{if .FoundURL}}{{.FoundURL}}{{else}}N/A{{end}}</td>
    </tr>
    {{- end}}
  </table>
  {{- else}}
  <p>No ranking data available yet.</p>
  {{- end}}
{{- end}}
</body>
</html>
`

	t, err := htmltemplate.New("htmlReport").Funcs(htmltemplate.FuncMap(reportFuncs)).Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("parse html template: %w", err)
	}
	if err := t.Execute(w, rep); err != nil {
		return fmt.Errorf("render html report: %w", err)
	}
	return nil
}
