// Package report renders run records and ablation reports as a markdown
// verdict summary, and as standalone HTML via gomarkdown.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gofingerprint/domain/core"
	"gofingerprint/domain/detection"
	"gofingerprint/domain/robustness"
	"gofingerprint/domain/run"
	"gofingerprint/internal/errors"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// Paths are the files written for one run
type Paths struct {
	JSON     string
	Markdown string
	HTML     string
}

func mark(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}

func pval(p float64) string {
	if p == 0 {
		return "0"
	}
	if p < 1e-3 {
		return fmt.Sprintf("%.2e", p)
	}
	return fmt.Sprintf("%.4f", p)
}

// RunMarkdown is the human-readable verdict for a run
func RunMarkdown(r *run.RunRecord) string {
	var b strings.Builder
	m := r.Manifest

	title := m.Name
	if title == "" {
		title = "Fingerprint scan"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)

	if r.Combined != nil {
		fmt.Fprintf(&b, "**Verdict: %s**\n\n", r.Combined.Status)
	}

	b.WriteString("| Run | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Run ID | `%s` |\n", m.RunID)
	fmt.Fprintf(&b, "| Config hash | `%s` |\n", m.ConfigHash.Short())
	fmt.Fprintf(&b, "| Seed | %d |\n", m.Seed)
	fmt.Fprintf(&b, "| Code version | %s |\n", m.CodeVersion)
	fmt.Fprintf(&b, "| Fingerprint | `%s` |\n", m.Fingerprint.Fingerprint.Short())
	for _, d := range m.Datasets {
		fmt.Fprintf(&b, "| %s (%s) | %s, %d bytes, `%s` %s |\n", d.Key, d.Role, d.Filename, d.Bytes, d.SHA256.Short(), mark(d.Verified))
	}
	b.WriteString("\n")

	if r.Combined != nil {
		b.WriteString("## Replication checklist\n\n")
		b.WriteString("| Criterion | Required | Observed | |\n|---|---|---|---|\n")
		for _, c := range r.Combined.Criteria {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", c.Name, c.Required, c.Observed, mark(c.Passed))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Datasets\n\n")
	b.WriteString("| Dataset | Role | Best period | Amplitude | Phase | Δχ² | p (corrected) | p (naive) | χ²(2) local p | Tier | Trials |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|---|---|---|\n")
	for _, d := range r.Datasets {
		v := d.Verdict
		fmt.Fprintf(&b, "| %s | %s | %d | %.4g | %.3f | %.3f | %s | %s | %s | %s | %d |\n",
			d.Key, d.Role, v.BestPeriod, v.Amplitude, v.Phase, v.ObservedDelta,
			pval(v.PValue), pval(v.NaivePValue), pval(v.AnalyticLocalP), v.Tier, v.Trials)
	}
	b.WriteString("\n")

	for _, d := range r.Datasets {
		writeDataset(&b, d)
	}

	if findings := r.Findings(); len(findings) > 0 {
		b.WriteString("## Findings\n\n")
		for _, f := range findings {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func writeDataset(b *strings.Builder, d run.DatasetRecord) {
	fmt.Fprintf(b, "### %s\n\n", d.Key)
	w := d.Whitening
	fmt.Fprintf(b, "- Units: observation %s (%s, median %.4g), model %s (%s)\n",
		d.Units.Detected, d.Units.Source, d.Units.Median, d.ModelUnits.Detected, d.ModelUnits.Source)
	fmt.Fprintf(b, "- Sanity: χ²_red %.3g over %d points, median |pull| %.3g\n", d.Sanity.ReducedChi2, d.Sanity.N, d.Sanity.MedianPull)
	fmt.Fprintf(b, "- Whitening: %s", w.AppliedMode)
	if w.FellBack {
		fmt.Fprintf(b, " (fell back from %s: %s)", w.RequestedMode, w.FallbackReason)
	}
	if !w.AppliedMode.Inferential() {
		b.WriteString(" (diagnostic only)")
	}
	b.WriteString("\n")
	writeRegularization(b, w.Regularization)
	fmt.Fprintf(b, "- Null: %d trials, median %.3f, 95%% %.3f, 99%% %.3f, max %.3f\n\n",
		d.Verdict.Null.Trials, d.Verdict.Null.Median, d.Verdict.Null.Percentile95, d.Verdict.Null.Percentile99, d.Verdict.Null.Max)

	b.WriteString("| Period | Δχ² | Amplitude | Phase |\n|---|---|---|---|\n")
	for _, res := range d.Scan.Results {
		best := ""
		if res.Period == d.Scan.Best.Period {
			best = " ⬅"
		}
		fmt.Fprintf(b, "| %d%s | %.3f | %.4g | %.3f |\n", res.Period, best, res.DeltaChi2, res.Amplitude, res.Phase)
	}
	b.WriteString("\n")
}

func writeRegularization(b *strings.Builder, r detection.Regularization) {
	if r.Symmetrized {
		fmt.Fprintf(b, "- Covariance symmetrized (max relative asymmetry %.2e)\n", r.MaxRelAsymmetry)
	}
	if r.Applied {
		fmt.Fprintf(b, "- Ridge λ=%.3e (%s): κ %.3e → %.3e\n", r.Lambda, r.Reason, r.ConditionBefore, r.ConditionAfter)
	}
}

// AblationMarkdown summarizes an ablation report
func AblationMarkdown(r *robustness.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Ablation: %s, period %d\n\n", r.Dataset, r.TargetPeriod)
	if r.Cancelled {
		fmt.Fprintf(&b, "> Cancelled after %d sub-runs; summaries cover completed sub-runs only.\n\n", len(r.Outcomes))
	}

	if s := r.Subsets; s != nil {
		fmt.Fprintf(&b, "## ℓ-range subsets %s\n\nSignificant in %d of %d subsets (%d completed, %d required).\n\n",
			mark(s.Robust), s.Significant, s.Subsets, s.Completed, s.Required)
	}
	if s := r.Modes; s != nil {
		fmt.Fprintf(&b, "## Whitening modes %s\n\n", mark(s.Stable && !s.Artifact))
		if s.Artifact {
			b.WriteString("Significant under diagonal whitening but not under full covariance: treated as an artifact.\n\n")
		}
		modes := make([]string, 0, len(s.BestPeriods))
		for m := range s.BestPeriods {
			modes = append(modes, string(m))
		}
		sort.Strings(modes)
		b.WriteString("| Mode | Best period | Significant |\n|---|---|---|\n")
		for _, m := range modes {
			mode := detection.WhiteningMode(m)
			fmt.Fprintf(&b, "| %s | %d | %s |\n", m, s.BestPeriods[mode], mark(s.Significant[mode]))
		}
		b.WriteString("\n")
	}
	if s := r.Ensembles; s != nil {
		fmt.Fprintf(&b, "## Synthetic null ensembles %s\n\n", mark(s.Consistent))
		fmt.Fprintf(&b, "False-positive rate %d/%d = %.3f, 95%% interval [%.3f, %.3f], nominal α = %.3f.\n\n",
			s.FalsePositives, s.Completed, s.Rate, s.Lower, s.Upper, s.Alpha)
	}
	if s := r.Channels; s != nil {
		fmt.Fprintf(&b, "## Channels\n\nReproduced in %d of %d: %s\n\n", len(s.Reproduced), len(s.Channels), strings.Join(s.Reproduced, ", "))
	}

	var failed []robustness.SubRunOutcome
	for _, o := range r.Outcomes {
		if o.Finding.Severity != core.SeverityOK {
			failed = append(failed, o)
		}
	}
	if len(failed) > 0 {
		b.WriteString("## Sub-run findings\n\n")
		for _, o := range failed {
			fmt.Fprintf(&b, "- `%s`: %s\n", o.Key, o.Finding)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// HTML renders markdown as a complete HTML page
func HTML(md, title string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	r := html.NewRenderer(html.RendererOptions{
		Title: title,
		Flags: html.CommonFlags | html.CompletePage | html.HrefTargetBlank,
	})
	return markdown.ToHTML([]byte(md), p, r)
}

// WriteRun writes record.json, summary.md and summary.html under dir
func WriteRun(dir string, r *run.RunRecord) (Paths, error) {
	md := RunMarkdown(r)
	return write(dir, "record", r, md, r.Manifest.Name)
}

// WriteAblation writes ablation.json, ablation.md and ablation.html under dir
func WriteAblation(dir string, r *robustness.Report) (Paths, error) {
	return write(dir, "ablation", r, AblationMarkdown(r), "Ablation "+r.Dataset)
}

func write(dir, stem string, v any, md, title string) (Paths, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Paths{}, errors.WithCode(errors.CodeStorage, err)
	}
	summary := "summary"
	if stem != "record" {
		summary = stem
	}
	p := Paths{
		JSON:     filepath.Join(dir, stem+".json"),
		Markdown: filepath.Join(dir, summary+".md"),
		HTML:     filepath.Join(dir, summary+".html"),
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return p, errors.WithCode(errors.CodeStorage, err)
	}
	if err := os.WriteFile(p.JSON, data, 0o644); err != nil {
		return p, errors.WithCode(errors.CodeStorage, err)
	}
	if err := os.WriteFile(p.Markdown, []byte(md), 0o644); err != nil {
		return p, errors.WithCode(errors.CodeStorage, err)
	}
	if err := os.WriteFile(p.HTML, HTML(md, title), 0o644); err != nil {
		return p, errors.WithCode(errors.CodeStorage, err)
	}
	return p, nil
}
