package main

import (
	"fmt"
	"io"
	"sync"

	"partforge/internal/workflow"
)

// progressPrinter writes stage and unit round progress to w. Round events
// arrive concurrently from extraction workers.
type progressPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w}
}

func (p *progressPrinter) observe(ev workflow.Event) {
	var line string
	switch ev.Type {
	case workflow.EventStageStarted:
		line = fmt.Sprintf("%s: started", ev.Stage)
	case workflow.EventStageFailed:
		line = fmt.Sprintf("%s: failed: %v", ev.Stage, ev.Err)
	case workflow.EventUnitRound:
		if ev.Round == nil {
			return
		}
		verdict := string(ev.Round.Verdict)
		if verdict == "" {
			verdict = string(ev.Round.Source)
		}
		line = fmt.Sprintf("  %s round %d: %s", ev.UnitID, ev.Round.Number, verdict)
		if ev.Round.Feedback != "" {
			line += " (" + ev.Round.Feedback + ")"
		}
	default:
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}
