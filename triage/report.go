package triage

import (
	"time"

	"soctriage/core"
	"soctriage/threat"
)

// Result is the triage outcome for one finding
type Result struct {
	FindingID     string           `json:"finding_id"`
	Title         string           `json:"title"`
	Type          string           `json:"type"`
	Severity      float64          `json:"severity"`
	Enrichments   []threat.Result  `json:"enrichments"`
	Score         float64          `json:"score"`
	Verdict       core.Verdict     `json:"verdict"`
	ScoreMode     ScoreMode        `json:"score_mode"`
	MaxReputation int              `json:"max_reputation,omitempty"`
	Warnings      []threat.Warning `json:"warnings,omitempty"`
	Errors        []string         `json:"errors,omitempty"`
	Failed        bool             `json:"failed,omitempty"`
}

// Report is the output of one pipeline run
type Report struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Input      int            `json:"input"`
	Retained   int            `json:"retained"`
	Truncated  int            `json:"truncated"`
	Failed     int            `json:"failed"`
	Verdicts   map[string]int `json:"verdicts"`
	Results    []Result       `json:"results"`
}

// Duration returns how long the run took
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Count returns the number of results with the given verdict
func (r *Report) Count(v core.Verdict) int {
	return r.Verdicts[v.String()]
}

func newReport(runID string, started time.Time, input int, results []Result) *Report {
	report := &Report{
		RunID:     runID,
		StartedAt: started,
		Input:     input,
		Retained:  len(results),
		Truncated: input - len(results),
		Verdicts:  make(map[string]int, len(core.AllVerdicts)),
		Results:   results,
	}
	for _, v := range core.AllVerdicts {
		report.Verdicts[v.String()] = 0
	}
	for _, r := range results {
		report.Verdicts[r.Verdict.String()]++
		if r.Failed {
			report.Failed++
		}
	}
	return report
}
