package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"partforge/internal/extraction"
	"partforge/internal/geometry"
	"partforge/internal/services"
	"partforge/internal/services/llm"
	"partforge/internal/services/segmentation"
	"partforge/internal/stage"
)

// callSink collects entries for one stage invocation. Extraction units
// append concurrently.
type callSink struct {
	mu      sync.Mutex
	entries []CallEntry
}

func (s *callSink) add(entry CallEntry) {
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
}

func (s *callSink) drain() []CallEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.entries
	s.entries = nil
	return out
}

type callSinkKey struct{}

func withCallSink(ctx context.Context, sink *callSink) context.Context {
	return context.WithValue(ctx, callSinkKey{}, sink)
}

func recordCall(ctx context.Context, op, promptDigest, responseDigest string, started time.Time, err error) {
	sink, ok := ctx.Value(callSinkKey{}).(*callSink)
	if !ok {
		return
	}
	entry := CallEntry{
		ID:             uuid.NewString(),
		Operation:      op,
		PromptDigest:   promptDigest,
		ResponseDigest: responseDigest,
		StartedAt:      started.UTC(),
		Duration:       time.Since(started),
	}
	entry.Stage, _ = services.StageFromContext(ctx)
	entry.UnitID, _ = services.UnitIDFromContext(ctx)
	if err != nil {
		entry.Error = err.Error()
	}
	sink.add(entry)
}

// recordingReasoner logs every completion into the invocation's call sink.
type recordingReasoner struct {
	inner stage.Reasoner
}

func recordReasoner(r stage.Reasoner) stage.Reasoner {
	if r == nil {
		return nil
	}
	return recordingReasoner{inner: r}
}

func (r recordingReasoner) Complete(ctx context.Context, req llm.Request) (string, error) {
	started := time.Now()
	raw, err := r.inner.Complete(ctx, req)
	var response string
	if raw != "" {
		response = stage.DigestText(raw)
	}
	recordCall(ctx, req.Name, stage.Digest(req), response, started, err)
	return raw, err
}

type recordingSegmenter struct {
	inner extraction.Segmenter
}

func (s recordingSegmenter) Segment(ctx context.Context, req segmentation.Request) (geometry.Outline, error) {
	started := time.Now()
	outline, err := s.inner.Segment(ctx, req)
	var response string
	if err == nil {
		response = stage.DigestText(outline.Path.String())
	}
	recordCall(ctx, "segment", stage.DigestText(req.Box.String()+"\x00"+string(req.Image)), response, started, err)
	return outline, err
}
