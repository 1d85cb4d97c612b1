package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"partforge/internal/extraction"
	"partforge/internal/geometry"
	"partforge/internal/hierarchy"
	"partforge/internal/parts"
	"partforge/internal/runstore"
	"partforge/internal/workflow"
)

const shortIDLength = 8

func shortID(id string) string {
	if len(id) <= shortIDLength {
		return id
	}
	return id[:shortIDLength]
}

func formatPoint(p geometry.Point) string {
	return fmt.Sprintf("%.3f,%.3f", p.X, p.Y)
}

func shapeKind(s geometry.Shape) string {
	if s.IsZero() {
		return "-"
	}
	return string(s.Kind())
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func runRows(runs []runstore.Run) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		source := "-"
		if run.SourcePath != "" {
			source = filepath.Base(run.SourcePath)
		}
		rows = append(rows, []string{
			shortID(run.ID),
			string(run.State),
			source,
			strconv.Itoa(run.UnitCount),
			strconv.Itoa(run.FailedUnits),
			formatTime(run.UpdatedAt),
		})
	}
	return rows
}

func manifestRows(m *parts.Manifest) [][]string {
	if m == nil {
		return nil
	}
	rows := make([][]string, 0, len(m.Units))
	for _, u := range m.Units {
		rows = append(rows, []string{u.ID, u.DisplayName, string(u.TypeHint), string(u.Strategy), u.RoughBox.String()})
	}
	return rows
}

// extractionRows lists every manifest unit with its result or failure.
func extractionRows(rec workflow.Record) [][]string {
	if rec.Manifest == nil {
		return nil
	}
	failures := make(map[string]parts.UnitError, len(rec.ExtractionErrors))
	for _, e := range rec.ExtractionErrors {
		failures[e.ID] = e
	}
	rows := make([][]string, 0, len(rec.Manifest.Units))
	for _, u := range rec.Manifest.Units {
		rounds := strconv.Itoa(len(rec.Histories[u.ID]))
		if e, failed := failures[u.ID]; failed {
			status := "failed: " + e.Message
			if e.RetryCount > 0 {
				status += fmt.Sprintf(" (retries %d)", e.RetryCount)
			}
			rows = append(rows, []string{u.ID, "-", "-", "-", "-", rounds, status})
			continue
		}
		x, ok := rec.Extraction(u.ID)
		if !ok {
			rows = append(rows, []string{u.ID, "-", "-", "-", "-", rounds, "pending"})
			continue
		}
		rows = append(rows, []string{
			u.ID,
			shapeKind(x.Shape),
			x.BBox.String(),
			fmt.Sprintf("%.2f", x.Confidence),
			yesNo(x.Amodal),
			rounds,
			"ok",
		})
	}
	return rows
}

func assemblyRows(a *parts.Assembly) [][]string {
	if a == nil {
		return nil
	}
	rows := make([][]string, 0, len(a.Parts))
	for _, p := range a.Parts {
		parent := p.ParentID
		if p.IsRoot() {
			parent = "(root)"
		}
		rows = append(rows, []string{p.ID, p.DisplayName, parent, string(p.Motion), formatPoint(p.Pivot)})
	}
	return rows
}

func historyRows(rounds []extraction.Round) [][]string {
	rows := make([][]string, 0, len(rounds))
	for _, r := range rounds {
		verdict := string(r.Verdict)
		if verdict == "" {
			verdict = "-"
		}
		note := r.Feedback
		if r.Fallback != "" {
			note = "fallback: " + r.Fallback
		}
		rows = append(rows, []string{
			strconv.Itoa(r.Number),
			string(r.Source),
			shapeKind(r.Shape),
			fmt.Sprintf("%.2f", r.Confidence),
			verdict,
			note,
		})
	}
	return rows
}

func callRows(calls []workflow.CallEntry) [][]string {
	rows := make([][]string, 0, len(calls))
	for i, c := range calls {
		unit := c.UnitID
		if unit == "" {
			unit = "-"
		}
		errText := c.Error
		if errText == "" {
			errText = "-"
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			c.Stage,
			c.Operation,
			unit,
			c.Duration.Round(time.Millisecond).String(),
			errText,
		})
	}
	return rows
}

func issueRows(issues []hierarchy.Issue) [][]string {
	rows := make([][]string, 0, len(issues))
	for _, issue := range issues {
		part := issue.PartID
		if part == "" {
			part = "-"
		}
		rows = append(rows, []string{string(issue.Severity), part, issue.Code, issue.Message})
	}
	return rows
}
