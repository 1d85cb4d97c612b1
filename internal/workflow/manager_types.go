package workflow

import (
	"slices"
	"time"

	"partforge/internal/atlas"
	"partforge/internal/extraction"
	"partforge/internal/imageio"
	"partforge/internal/parts"
)

// State is the pipeline position. Discovery, extraction and assembly mean
// that stage's output is in the record awaiting confirmation.
type State string

const (
	StateIdle       State = "idle"
	StateDiscovery  State = "discovery"
	StateExtraction State = "extraction"
	StateAssembly   State = "assembly"
	StateComplete   State = "complete"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateIdle, StateDiscovery, StateExtraction, StateAssembly, StateComplete:
		return true
	default:
		return false
	}
}

// SourceInfo identifies the image a record was built from.
type SourceInfo struct {
	Path   string `json:"path,omitempty"`
	MIME   string `json:"mime"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Digest string `json:"digest"`
}

func sourceInfo(src *imageio.Source) *SourceInfo {
	return &SourceInfo{
		Path:   src.Path,
		MIME:   src.MIME,
		Width:  src.Width,
		Height: src.Height,
		Digest: src.Digest(),
	}
}

// CallEntry is one external call. The log is for observability only.
type CallEntry struct {
	ID             string        `json:"id"`
	Stage          string        `json:"stage"`
	Operation      string        `json:"operation"`
	UnitID         string        `json:"unit_id,omitempty"`
	PromptDigest   string        `json:"prompt_digest"`
	ResponseDigest string        `json:"response_digest,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	Error          string        `json:"error,omitempty"`
}

// Record is the pipeline aggregate for one source image.
type Record struct {
	Source           *SourceInfo                   `json:"source,omitempty"`
	Manifest         *parts.Manifest               `json:"manifest,omitempty"`
	Extractions      []parts.Extraction            `json:"extractions,omitempty"`
	ExtractionErrors []parts.UnitError             `json:"extraction_errors,omitempty"`
	Histories        map[string][]extraction.Round `json:"histories,omitempty"`
	Assembly         *parts.Assembly               `json:"assembly,omitempty"`
	// AssemblyStale is set when a unit retry changed an extraction after
	// assembly ran.
	AssemblyStale bool         `json:"assembly_stale,omitempty"`
	Atlas         *atlas.Atlas `json:"atlas,omitempty"`
	CallLog       []CallEntry  `json:"call_log,omitempty"`
}

// Extraction finds a unit's extraction.
func (r Record) Extraction(id string) (parts.Extraction, bool) {
	for _, e := range r.Extractions {
		if e.ID == id {
			return e, true
		}
	}
	return parts.Extraction{}, false
}

func (r Record) unitError(id string) int {
	return slices.IndexFunc(r.ExtractionErrors, func(e parts.UnitError) bool { return e.ID == id })
}

// clone copies every slice and map so the copy can be handed out while the
// manager keeps mutating its own record.
func (r Record) clone() Record {
	out := r
	if r.Source != nil {
		src := *r.Source
		out.Source = &src
	}
	if r.Manifest != nil {
		out.Manifest = &parts.Manifest{Units: slices.Clone(r.Manifest.Units)}
	}
	out.Extractions = slices.Clone(r.Extractions)
	out.ExtractionErrors = slices.Clone(r.ExtractionErrors)
	if r.Histories != nil {
		out.Histories = make(map[string][]extraction.Round, len(r.Histories))
		for id, rounds := range r.Histories {
			out.Histories[id] = slices.Clone(rounds)
		}
	}
	if r.Assembly != nil {
		out.Assembly = &parts.Assembly{Parts: slices.Clone(r.Assembly.Parts)}
	}
	if r.Atlas != nil {
		a := *r.Atlas
		a.Parts = slices.Clone(a.Parts)
		a.Layout.Placements = slices.Clone(a.Layout.Placements)
		a.Layout.Overflow = slices.Clone(a.Layout.Overflow)
		out.Atlas = &a
	}
	out.CallLog = slices.Clone(r.CallLog)
	return out
}

// Snapshot is an immutable view of the manager.
type Snapshot struct {
	RunID  string `json:"run_id"`
	State  State  `json:"state"`
	Record Record `json:"record"`
	// Running and Retrying describe a stage invocation in flight.
	Running   bool   `json:"running,omitempty"`
	Retrying  bool   `json:"retrying,omitempty"`
	LastError string `json:"last_error,omitempty"`
}
