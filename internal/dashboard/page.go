package dashboard

import (
	"html/template"
	"io"

	"loan-risk/internal/loan"
)

// PageData feeds the dashboard page.
type PageData struct {
	Columns []string
	Records []loan.PredictionRecord
	Summary loan.Summary
}

var pageTmpl = template.Must(template.New("dashboard").Funcs(template.FuncMap{
	"field": func(r loan.PredictionRecord, name string) any {
		if v, ok := r.Categorical[name]; ok {
			return v
		}
		return r.Numeric[name]
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
    <title>Loan Risk - Dashboard</title>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; margin: 0; padding: 20px; background-color: #f5f5f5; }
        .container { max-width: 1400px; margin: 0 auto; }
        .header { background: linear-gradient(135deg, #667eea 0%, #764ba2 100%); color: white; padding: 20px; border-radius: 10px; margin-bottom: 20px; }
        .header h1 { margin: 0; text-align: center; }
        .grid { display: grid; grid-template-columns: repeat(3, 1fr); gap: 20px; margin-bottom: 20px; }
        .card { background: white; border-radius: 10px; padding: 20px; box-shadow: 0 4px 6px rgba(0,0,0,0.1); text-align: center; }
        .large-metric { font-size: 2em; font-weight: bold; }
        .metric-positive { color: #28a745; }
        .metric-negative { color: #dc3545; }
        table { width: 100%; border-collapse: collapse; background: white; }
        th, td { text-align: left; padding: 8px; border-bottom: 1px solid #eee; }
        th { background-color: #f8f9fa; }
    </style>
</head>
<body>
<div class="container">
    <div class="header"><h1>Loan Risk Dashboard</h1></div>
    <div class="grid">
        <div class="card"><div>Safe</div><div id="safe" class="large-metric metric-positive">{{.Summary.Safe}}</div></div>
        <div class="card"><div>Danger</div><div id="danger" class="large-metric metric-negative">{{.Summary.Danger}}</div></div>
        <div class="card"><div>Total</div><div id="total" class="large-metric">{{.Summary.Total}}</div></div>
    </div>
    <table>
        <thead><tr><th>Time</th>{{range .Columns}}<th>{{.}}</th>{{end}}<th>Outcome</th></tr></thead>
        <tbody>
        {{- $cols := .Columns}}
        {{- range .Records}}
            <tr><td>{{.CreatedAt.Format "2006-01-02 15:04:05"}}</td>{{$r := .}}{{range $cols}}<td>{{field $r .}}</td>{{end}}<td class="{{if eq .Label 1}}metric-negative{{else}}metric-positive{{end}}">{{.Label.Outcome}}</td></tr>
        {{- else}}
            <tr><td colspan="99">No predictions yet</td></tr>
        {{- end}}
        </tbody>
    </table>
</div>
<script>
    const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/dashboard/ws');
    ws.onmessage = function(event) {
        const data = JSON.parse(event.data);
        document.getElementById('safe').textContent = data.summary.safe_count;
        document.getElementById('danger').textContent = data.summary.danger_count;
        document.getElementById('total').textContent = data.summary.total_count;
    };
</script>
</body>
</html>
`))

// Render writes the dashboard page.
func Render(w io.Writer, data PageData) error {
	return pageTmpl.Execute(w, data)
}
