// Package render turns a raw ZAP JSON report plus an HTML template into the
// final report artifact. It is a pure transform: no shared state, no
// concurrency, one input file in, one output file out.
package render

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/zapscan/zapscan/internal/logging"
)

// Template placeholders replaced during rendering.
const (
	placeholderScanDate = "<!-- ZAP_SCAN_DATE_PLACEHOLDER -->"
	placeholderStats    = "<!-- ZAP_STATS_PLACEHOLDER -->"
	placeholderAlerts   = "<!-- ZAP_ALERTS_LIST_PLACEHOLDER -->"
)

// generatedTimeLayout is ZAP's "@generated" timestamp format.
const generatedTimeLayout = "Mon, 02 Jan 2006 15:04:05 -0700"

// displayTimeLayout is the dd/mm/yyyy format shown in the report header.
const displayTimeLayout = "02/01/2006 15:04:05"

// Stats aggregates alert counts by risk tier.
type Stats struct {
	High          int
	Medium        int
	Low           int
	Informational int
	Total         int
}

// Instance is one affected URL within an alert.
type Instance struct {
	URI    string `json:"uri"`
	Method string `json:"method"`
}

// Alert is a single ZAP finding. RiskCode is ZAP's numeric tier as a string
// ("3" high .. "0" informational); RiskDesc is its textual fallback.
type Alert struct {
	Name      string     `json:"name"`
	RiskCode  string     `json:"riskcode"`
	RiskDesc  string     `json:"riskdesc"`
	Desc      string     `json:"desc"`
	Solution  string     `json:"solution"`
	Reference string     `json:"reference"`
	CWEID     string     `json:"cweid"`
	WASCID    string     `json:"wascid"`
	Instances []Instance `json:"instances"`
}

type site struct {
	Name   string  `json:"@name"`
	Alerts []Alert `json:"alerts"`
}

// Report is the subset of ZAP's traditional JSON report that rendering and
// index bookkeeping need.
type Report struct {
	Generated string `json:"@generated"`
	Site      []site `json:"site"`
}

// TargetName returns the scanned site's identity, or a fallback when the
// report carries none.
func (r *Report) TargetName() string {
	if len(r.Site) > 0 && r.Site[0].Name != "" {
		return r.Site[0].Name
	}
	return "unidentified target"
}

// Alerts returns the first site's alert list; ZAP emits one site per scan.
func (r *Report) Alerts() []Alert {
	if len(r.Site) == 0 {
		return nil
	}
	return r.Site[0].Alerts
}

// ParseReport loads and decodes a raw ZAP JSON report.
func ParseReport(path string) (*Report, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scan report %s: %w", path, err)
	}
	var rep Report
	if err := json.Unmarshal(raw, &rep); err != nil {
		return nil, fmt.Errorf("decode scan report %s: %w", path, err)
	}
	return &rep, nil
}

// ComputeStats tallies alerts by risk code: 3 high, 2 medium, 1 low,
// anything else informational.
func ComputeStats(alerts []Alert) Stats {
	s := Stats{Total: len(alerts)}
	for _, a := range alerts {
		switch a.RiskCode {
		case "3":
			s.High++
		case "2":
			s.Medium++
		case "1":
			s.Low++
		default:
			s.Informational++
		}
	}
	return s
}

// Renderer materializes HTML reports from a fixed template.
type Renderer struct {
	templateDir  string
	templateFile string
	logger       logging.Logger
}

// New returns a Renderer reading its template from templateDir/templateFile.
func New(templateDir, templateFile string, logger logging.Logger) *Renderer {
	return &Renderer{
		templateDir:  templateDir,
		templateFile: templateFile,
		logger:       logger.With(logging.Field{Key: "component", Value: "render"}),
	}
}

// Result describes one rendered report.
type Result struct {
	TargetName string
	Stats      Stats
	OutputPath string
}

// Render reads the raw JSON report, substitutes the template placeholders and
// writes the final HTML to outputPath.
func (r *Renderer) Render(jsonPath, outputPath string) (*Result, error) {
	rep, err := ParseReport(jsonPath)
	if err != nil {
		return nil, err
	}

	tplPath := filepath.Join(r.templateDir, r.templateFile)
	tpl, err := os.ReadFile(tplPath)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", tplPath, err)
	}

	alerts := rep.Alerts()
	stats := ComputeStats(alerts)

	html := string(tpl)
	html = strings.Replace(html, placeholderScanDate, scanDate(rep.Generated), 1)
	html = strings.Replace(html, placeholderStats, statsCards(stats), 1)
	html = strings.Replace(html, placeholderAlerts, alertsList(alerts), 1)

	if err := os.WriteFile(outputPath, []byte(html), 0o644); err != nil {
		return nil, fmt.Errorf("write rendered report %s: %w", outputPath, err)
	}

	r.logger.Info("rendered report",
		logging.Field{Key: "output", Value: outputPath},
		logging.Field{Key: "alerts", Value: stats.Total})

	return &Result{
		TargetName: rep.TargetName(),
		Stats:      stats,
		OutputPath: outputPath,
	}, nil
}

// scanDate formats the report's "@generated" timestamp for display; an
// unparsable or missing value falls back to the raw string or now.
func scanDate(generated string) string {
	if generated == "" {
		return time.Now().Format(displayTimeLayout)
	}
	ts, err := time.Parse(generatedTimeLayout, generated)
	if err != nil {
		return generated
	}
	return ts.Format(displayTimeLayout)
}

func statsCards(s Stats) string {
	var b strings.Builder
	card := func(title, class string, n int) {
		fmt.Fprintf(&b, `
            <div class="stat-card">
                <h3>%s</h3>
                <p%s>%d</p>
            </div>`, title, class, n)
	}
	card("Total de Alertas", "", s.Total)
	card("Alto Risco", ` class="high"`, s.High)
	card("Médio Risco", ` class="medium"`, s.Medium)
	card("Baixo Risco", ` class="low"`, s.Low)
	card("Informativo", ` class="info"`, s.Informational)
	return b.String()
}

type riskInfo struct {
	class  string
	label  string
	filter string
}

var riskMap = map[string]riskInfo{
	"3":             {"high", "Alto", "high"},
	"2":             {"medium", "Médio", "medium"},
	"1":             {"low", "Baixo", "low"},
	"0":             {"info", "Informativo", "info"},
	"High":          {"high", "Alto", "high"},
	"Medium":        {"medium", "Médio", "medium"},
	"Low":           {"low", "Baixo", "low"},
	"Informational": {"info", "Informativo", "info"},
}

// riskFor resolves an alert's tier by riskcode, then by the leading word of
// riskdesc, defaulting to informational.
func riskFor(a Alert) riskInfo {
	if info, ok := riskMap[a.RiskCode]; ok {
		return info
	}
	word, _, _ := strings.Cut(a.RiskDesc, " ")
	if info, ok := riskMap[word]; ok {
		return info
	}
	return riskInfo{"info", "Desconhecido", "info"}
}

const emptyStateHTML = `
                <div class="empty-state" id="empty-message-no-alerts">
                    <h3>Nenhuma vulnerabilidade encontrada</h3>
                    <p>O scan não identificou problemas de segurança.</p>
                </div>`

func alertsList(alerts []Alert) string {
	if len(alerts) == 0 {
		return emptyStateHTML
	}

	var b strings.Builder
	for _, a := range alerts {
		info := riskFor(a)

		var instances strings.Builder
		for _, inst := range a.Instances {
			uri := inst.URI
			if uri == "" {
				uri = "#"
			}
			method := inst.Method
			if method == "" {
				method = "GET"
			}
			fmt.Fprintf(&instances,
				"\n                        <li><strong>URI:</strong> <a href=%q target=\"_blank\">%s</a> (%s)</li>",
				uri, uri, method)
		}
		if instances.Len() == 0 {
			instances.WriteString("<li>Nenhuma URL específica encontrada</li>")
		}

		refBlock := ""
		if a.Reference != "" {
			refBlock = fmt.Sprintf(`
                    <div class="alert-section">
                        <h4>Referência</h4>
                        <p>%s</p>
                    </div>`, linkifyReferences(a.Reference))
		}

		name := a.Name
		if name == "" {
			name = "Alerta sem nome"
		}
		desc := a.Desc
		if desc == "" {
			desc = "Sem descrição disponível."
		}
		solution := a.Solution
		if solution == "" {
			solution = "Sem solução recomendada disponível."
		}
		cwe := a.CWEID
		if cwe == "" {
			cwe = "N/A"
		}
		wasc := a.WASCID
		if wasc == "" {
			wasc = "N/A"
		}

		fmt.Fprintf(&b, `
                <div class="alert alert-%s" data-riskcode="%s">
                    <div class="alert-header">
                        <h3 class="alert-title">%s</h3>
                        <span class="alert-risk risk-%s">%s</span>
                    </div>
                    <div class="alert-body">
                        <div class="alert-section">
                            <h4>Descrição</h4>
                            <p>%s</p>
                        </div>
                        <div class="alert-extra" style="display:none">
                            <div class="alert-section">
                                <h4>Solução</h4>
                                <p>%s</p>
                            </div>
                            <div class="alert-section">
                                <h4>CWE ID:</h4>
                                <p>%s</p>
                            </div>
                            <div class="alert-section">
                                <h4>WASC ID:</h4>
                                <p>%s</p>
                            </div>
                            <div class="alert-section">
                                <h4>URLs Afetadas (%d)</h4>
                                <ul class="url-list">%s
                                </ul>
                            </div>%s
                        </div>
                        <button class="ver-mais-btn">Ver mais ▼</button>
                    </div>
                </div>`,
			info.class, info.filter, name, info.class, info.label,
			desc, solution, cwe, wasc,
			len(a.Instances), instances.String(), refBlock)
	}
	return b.String()
}

var urlRe = regexp.MustCompile(`https?://[^\s<>"]+`)

// linkifyReferences converts a ZAP reference fragment (URLs wrapped in <p>
// tags) into anchor tags separated by <br>. Fragments without URLs pass
// through unchanged.
func linkifyReferences(ref string) string {
	if ref == "" {
		return ""
	}

	// ZAP wraps each reference in its own <p>; strip the markup first so the
	// URL pattern never swallows tag remnants.
	text := ref
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(ref)); err == nil {
		var parts []string
		doc.Find("p").Each(func(_ int, sel *goquery.Selection) {
			if t := strings.TrimSpace(sel.Text()); t != "" {
				parts = append(parts, t)
			}
		})
		if len(parts) > 0 {
			text = strings.Join(parts, "\n")
		}
	}

	urls := urlRe.FindAllString(text, -1)
	if len(urls) == 0 {
		return ref
	}

	links := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimRight(u, `</p>"'`)
		links = append(links, fmt.Sprintf(`<a href="%s" target="_blank" rel="noopener noreferrer">%s</a>`, u, u))
	}
	return strings.Join(links, "<br>")
}
