package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"partforge/internal/packing"
	"partforge/internal/parts"
	"partforge/internal/services"
	"partforge/internal/stage"
	"partforge/internal/workflow"
)

func TestEndToEndVehicle(t *testing.T) {
	ctx := context.Background()
	r := newVehicleReasoner()
	m := newManager(t, r)
	src := testSource("vehicle")

	if got := m.State(); got != workflow.StateIdle {
		t.Fatalf("new manager state = %s", got)
	}
	advance(t, m, src, workflow.StateAssembly)

	snap := m.Snapshot()
	if diff := cmp.Diff([]string{"wheel_front", "wheel_rear", "chassis"}, snap.Record.Manifest.IDs()); diff != "" {
		t.Fatalf("unexpected manifest (-want +got):\n%s", diff)
	}
	if len(snap.Record.Extractions) != 3 || len(snap.Record.ExtractionErrors) != 0 {
		t.Fatalf("expected 3 clean extractions, got %d results and %v", len(snap.Record.Extractions), snap.Record.ExtractionErrors)
	}
	if err := m.PartialFailure(); err != nil {
		t.Fatalf("unexpected partial failure: %v", err)
	}
	chassis, ok := snap.Record.Assembly.Lookup("chassis")
	if !ok || !chassis.IsRoot() {
		t.Fatalf("chassis should be the root: %+v", chassis)
	}
	for _, id := range []string{"wheel_front", "wheel_rear"} {
		wheel, _ := snap.Record.Assembly.Lookup(id)
		if wheel.ParentID != "chassis" || wheel.Motion != parts.MotionRotation {
			t.Fatalf("unexpected %s: %+v", id, wheel)
		}
	}

	a, err := m.Pack(ctx, packing.Options{Algorithm: packing.AlgorithmMaxRects, CanvasSize: 1024, Padding: 4})
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if err := packing.Verify(a.Layout); err != nil {
		t.Fatalf("packed layout invalid: %v", err)
	}
	if len(a.Rects()) != 3 {
		t.Fatalf("expected 3 atlas rects, got %v", a.Rects())
	}

	report, err := m.Validate(ctx)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.HasErrors() {
		t.Fatalf("unexpected structural errors: %v", report.Errors())
	}
	if _, err := m.ConfirmAssembly(ctx, false); err != nil {
		t.Fatalf("ConfirmAssembly: %v", err)
	}
	final := m.Snapshot()
	if final.State != workflow.StateComplete || final.Record.Atlas == nil {
		t.Fatalf("expected complete state with atlas, got %s", final.State)
	}

	stages := map[string]int{}
	for _, entry := range final.Record.CallLog {
		stages[entry.Stage+"/"+entry.Operation]++
		if entry.ID == "" || entry.PromptDigest == "" || entry.ResponseDigest == "" {
			t.Fatalf("incomplete call entry %+v", entry)
		}
		if entry.Stage == stage.NameExtraction && entry.UnitID == "" {
			t.Fatalf("extraction call without unit id: %+v", entry)
		}
	}
	want := map[string]int{"discovery/discovery": 1, "extraction/propose": 3, "extraction/critique": 3, "assembly/assembly": 1}
	if diff := cmp.Diff(want, stages); diff != "" {
		t.Fatalf("unexpected call log (-want +got):\n%s", diff)
	}
}

func TestTransitionsRequireReviewedOutput(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, newVehicleReasoner())
	calls := map[string]func() error{
		"confirm discovery":  func() error { return m.ConfirmDiscovery(ctx) },
		"retry discovery":    func() error { return m.RetryDiscovery(ctx, stage.ModeFresh, "") },
		"confirm extraction": func() error { return m.ConfirmExtraction(ctx) },
		"retry extraction":   func() error { return m.RetryExtraction(ctx, stage.ModeFresh, "") },
		"retry unit":         func() error { return m.RetryUnit(ctx, "chassis", stage.ModeFresh, "") },
		"retry assembly":     func() error { return m.RetryAssembly(ctx, stage.ModeFresh, "") },
		"confirm assembly":   func() error { _, err := m.ConfirmAssembly(ctx, true); return err },
		"pack":               func() error { _, err := m.Pack(ctx, workflow.DefaultSettings().Packing); return err },
		"validate":           func() error { _, err := m.Validate(ctx); return err },
	}
	for name, call := range calls {
		if err := call(); !errors.Is(err, services.ErrState) {
			t.Fatalf("%s from idle: expected ErrState, got %v", name, err)
		}
	}
	if m.State() != workflow.StateIdle {
		t.Fatalf("state changed to %s", m.State())
	}

	advance(t, m, testSource("vehicle"), workflow.StateDiscovery)
	if err := m.ConfirmExtraction(ctx); !errors.Is(err, services.ErrState) {
		t.Fatalf("stage skipping should fail, got %v", err)
	}
}

func TestStageFailureLeavesRecordUnchanged(t *testing.T) {
	ctx := context.Background()
	r := newVehicleReasoner()
	m := newManager(t, r)
	advance(t, m, testSource("vehicle"), workflow.StateAssembly)
	before := m.Snapshot()

	r.reply("discovery", "I am not sure what this is.")
	if err := m.RetryDiscovery(ctx, stage.ModeFresh, ""); !errors.Is(err, services.ErrService) {
		t.Fatalf("expected ErrService, got %v", err)
	}
	r.fail("assembly")
	if err := m.RetryAssembly(ctx, stage.ModeFresh, ""); !errors.Is(err, services.ErrService) {
		t.Fatalf("expected ErrService, got %v", err)
	}

	after := m.Snapshot()
	if after.State != before.State {
		t.Fatalf("state moved from %s to %s", before.State, after.State)
	}
	if diff := cmp.Diff(before.Record, after.Record, cmpopts.IgnoreFields(workflow.Record{}, "CallLog")); diff != "" {
		t.Fatalf("record changed by failed stages (-before +after):\n%s", diff)
	}
	added := after.Record.CallLog[len(before.Record.CallLog):]
	if len(added) != 2 || added[1].Error == "" {
		t.Fatalf("failed calls should still be logged: %+v", added)
	}
	if after.LastError == "" {
		t.Fatal("expected last error to be recorded")
	}
}

func TestRetryDiscoveryConversationalClearsDownstream(t *testing.T) {
	ctx := context.Background()
	r := newVehicleReasoner()
	m := newManager(t, r)
	advance(t, m, testSource("vehicle"), workflow.StateAssembly)

	if err := m.RetryDiscovery(ctx, stage.ModeConversational, " "); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("conversational retry without feedback: expected ErrValidation, got %v", err)
	}
	if m.State() != workflow.StateAssembly {
		t.Fatalf("rejected retry must not move the state, got %s", m.State())
	}

	r.reply("discovery", `{"units":[{"id":"chassis","rough_box":[0.1,0.2,0.9,0.7]}]}`)
	if err := m.RetryDiscovery(ctx, stage.ModeConversational, "merge the wheels into the chassis"); err != nil {
		t.Fatalf("RetryDiscovery: %v", err)
	}
	snap := m.Snapshot()
	if snap.State != workflow.StateDiscovery {
		t.Fatalf("state = %s, want discovery", snap.State)
	}
	if len(snap.Record.Manifest.Units) != 1 {
		t.Fatalf("manifest not replaced: %v", snap.Record.Manifest.IDs())
	}
	if snap.Record.Extractions != nil || snap.Record.Assembly != nil || snap.Record.Histories != nil {
		t.Fatal("discovery retry must clear extraction and assembly outputs")
	}
	req := r.last("discovery")
	if len(req.History) != 2 || req.History[1].Role != "assistant" {
		t.Fatalf("conversational retry should replay the prior manifest: %+v", req.History)
	}
}

func TestRetryAssemblyKeepsExtraction(t *testing.T) {
	ctx := context.Background()
	r := newVehicleReasoner()
	m := newManager(t, r)
	advance(t, m, testSource("vehicle"), workflow.StateComplete)
	before := m.Snapshot()

	if err := m.RetryAssembly(ctx, stage.ModeConversational, "the rear wheel should slide"); err != nil {
		t.Fatalf("RetryAssembly: %v", err)
	}
	after := m.Snapshot()
	if after.State != workflow.StateAssembly {
		t.Fatalf("state = %s, want assembly", after.State)
	}
	if diff := cmp.Diff(before.Record.Extractions, after.Record.Extractions); diff != "" {
		t.Fatalf("assembly retry changed extractions (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(before.Record.Histories, after.Record.Histories); diff != "" {
		t.Fatalf("assembly retry changed histories (-before +after):\n%s", diff)
	}
}

func TestPartialFailureAndRetryUnit(t *testing.T) {
	ctx := context.Background()
	r := newVehicleReasoner()
	r.on("propose", func(unit string, call int) (string, error) {
		if unit == "wheel_rear" && call <= 2 {
			return "", errors.New("timeout")
		}
		return vehicleProposals[unit], nil
	})
	m := newManager(t, r)
	advance(t, m, testSource("vehicle"), workflow.StateExtraction)

	snap := m.Snapshot()
	if diff := cmp.Diff([]string{"wheel_front", "chassis"}, ids(snap.Record.Extractions)); diff != "" {
		t.Fatalf("unexpected results (-want +got):\n%s", diff)
	}
	if len(snap.Record.ExtractionErrors) != 1 || snap.Record.ExtractionErrors[0].ID != "wheel_rear" {
		t.Fatalf("unexpected errors %+v", snap.Record.ExtractionErrors)
	}
	if err := m.PartialFailure(); !errors.Is(err, services.ErrPartialFailure) {
		t.Fatalf("expected ErrPartialFailure, got %v", err)
	}

	if err := m.RetryUnit(ctx, "wheel_rear", stage.ModeConversational, "try again"); !errors.Is(err, services.ErrState) {
		t.Fatalf("conversational retry of a failed unit: expected ErrState, got %v", err)
	}
	if err := m.RetryUnit(ctx, "ghost", stage.ModeFresh, ""); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("unknown unit: expected ErrNotFound, got %v", err)
	}

	if err := m.RetryUnit(ctx, "wheel_rear", stage.ModeFresh, ""); !errors.Is(err, services.ErrService) {
		t.Fatalf("expected second failure, got %v", err)
	}
	snap = m.Snapshot()
	if got := snap.Record.ExtractionErrors[0]; got.RetryCount != 1 || got.Message == "" {
		t.Fatalf("expected retry count 1 with message, got %+v", got)
	}
	if len(snap.Record.Extractions) != 2 {
		t.Fatalf("sibling results must be untouched, got %v", ids(snap.Record.Extractions))
	}

	if err := m.RetryUnit(ctx, "wheel_rear", stage.ModeFresh, ""); err != nil {
		t.Fatalf("RetryUnit: %v", err)
	}
	snap = m.Snapshot()
	if len(snap.Record.ExtractionErrors) != 0 {
		t.Fatalf("error should be cleared, got %+v", snap.Record.ExtractionErrors)
	}
	if diff := cmp.Diff([]string{"wheel_front", "wheel_rear", "chassis"}, ids(snap.Record.Extractions)); diff != "" {
		t.Fatalf("results should follow manifest order (-want +got):\n%s", diff)
	}
	if len(snap.Record.Histories["wheel_rear"]) != 1 {
		t.Fatalf("history not replaced: %+v", snap.Record.Histories["wheel_rear"])
	}
	if err := m.PartialFailure(); err != nil {
		t.Fatalf("partial failure should clear, got %v", err)
	}
	if m.State() != workflow.StateExtraction {
		t.Fatalf("unit retry must not move the state, got %s", m.State())
	}
}

func TestRetryUnitAfterAssemblyMarksItStale(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, newVehicleReasoner())
	advance(t, m, testSource("vehicle"), workflow.StateAssembly)

	if err := m.RetryUnit(ctx, "chassis", stage.ModeConversational, "include the bumper"); err != nil {
		t.Fatalf("RetryUnit: %v", err)
	}
	if !m.Snapshot().Record.AssemblyStale {
		t.Fatal("assembly should be marked stale")
	}
	if _, err := m.ConfirmAssembly(ctx, false); !errors.Is(err, services.ErrState) {
		t.Fatalf("stale assembly confirm: expected ErrState, got %v", err)
	}
	if err := m.RetryAssembly(ctx, stage.ModeFresh, ""); err != nil {
		t.Fatalf("RetryAssembly: %v", err)
	}
	if m.Snapshot().Record.AssemblyStale {
		t.Fatal("assembly retry should clear the stale flag")
	}
}

func TestRetryUnitAfterCompletionReopensAssembly(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, newVehicleReasoner())
	advance(t, m, testSource("vehicle"), workflow.StateAssembly)
	if _, err := m.ConfirmAssembly(ctx, false); err != nil {
		t.Fatalf("ConfirmAssembly: %v", err)
	}
	if m.State() != workflow.StateComplete {
		t.Fatalf("state = %s, want complete", m.State())
	}

	if err := m.RetryUnit(ctx, "wheel_rear", stage.ModeFresh, ""); err != nil {
		t.Fatalf("RetryUnit: %v", err)
	}
	snap := m.Snapshot()
	if snap.State != workflow.StateAssembly || !snap.Record.AssemblyStale {
		t.Fatalf("stale hierarchy must not stay complete: state=%s stale=%v", snap.State, snap.Record.AssemblyStale)
	}
	if err := m.RetryAssembly(ctx, stage.ModeFresh, ""); err != nil {
		t.Fatalf("RetryAssembly: %v", err)
	}
	if _, err := m.ConfirmAssembly(ctx, false); err != nil {
		t.Fatalf("ConfirmAssembly after refresh: %v", err)
	}
	if m.State() != workflow.StateComplete {
		t.Fatalf("state = %s, want complete", m.State())
	}
}

func TestConfirmAssemblyBlocksStructuralErrors(t *testing.T) {
	ctx := context.Background()
	r := newVehicleReasoner()
	r.reply("assembly", cyclicAssembly)
	m := newManager(t, r)
	advance(t, m, testSource("vehicle"), workflow.StateAssembly)

	report, err := m.ConfirmAssembly(ctx, false)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if !report.HasErrors() {
		t.Fatal("report should carry the structural errors")
	}
	if m.State() != workflow.StateAssembly {
		t.Fatalf("blocked confirm moved state to %s", m.State())
	}
	if _, err := m.ConfirmAssembly(ctx, true); err != nil {
		t.Fatalf("forced confirm: %v", err)
	}
	if m.State() != workflow.StateComplete {
		t.Fatalf("state = %s, want complete", m.State())
	}
}

func TestObserversReceiveImmutableSnapshots(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, newVehicleReasoner())
	var events []workflow.Event
	cancel := m.Subscribe(func(ev workflow.Event) {
		if ev.Snapshot != nil && ev.Snapshot.Record.Manifest != nil {
			ev.Snapshot.Record.Manifest.Units[0].ID = "tampered"
		}
		events = append(events, ev)
	})
	if err := m.RunDiscovery(ctx, testSource("vehicle")); err != nil {
		t.Fatalf("RunDiscovery: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != workflow.EventStageStarted || !events[0].Snapshot.Running {
		t.Fatalf("first event should report a running stage: %+v", events[0])
	}
	if events[1].Type != workflow.EventStateChanged || events[1].Snapshot.State != workflow.StateDiscovery {
		t.Fatalf("second event should carry the discovery state: %+v", events[1])
	}
	if got := m.Snapshot().Record.Manifest.Units[0].ID; got != "wheel_front" {
		t.Fatalf("observer mutated manager state: %q", got)
	}

	cancel()
	if err := m.ConfirmDiscovery(ctx); err != nil {
		t.Fatalf("ConfirmDiscovery: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("cancelled observer still received %d events", len(events)-2)
	}
}

func TestObserversSeeUnitRounds(t *testing.T) {
	m := newManager(t, newVehicleReasoner())
	rounds := make(chan string, 16)
	m.Subscribe(func(ev workflow.Event) {
		if ev.Type == workflow.EventUnitRound {
			rounds <- ev.UnitID
		}
	})
	advance(t, m, testSource("vehicle"), workflow.StateExtraction)
	close(rounds)
	seen := map[string]bool{}
	for id := range rounds {
		seen[id] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected rounds for 3 units, got %v", seen)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := testSource("vehicle")
	m := newManager(t, newVehicleReasoner())
	advance(t, m, src, workflow.StateExtraction)

	data, err := json.Marshal(m.Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var saved workflow.Snapshot
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	restored := workflow.NewManager(workflow.Deps{Reasoner: newVehicleReasoner(), Compositor: fakeCompositor{}}, nil)
	if err := restored.Restore(saved, testSource("other")); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("mismatched source: expected ErrValidation, got %v", err)
	}
	if err := restored.Restore(saved, src); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.RunID() != "run-test" {
		t.Fatalf("run id not restored: %q", restored.RunID())
	}
	if diff := cmp.Diff(m.Snapshot(), restored.Snapshot(), cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("restored snapshot differs (-original +restored):\n%s", diff)
	}
	if err := restored.ConfirmExtraction(ctx); err != nil {
		t.Fatalf("restored manager should continue: %v", err)
	}
}

func TestConcurrentStageRejected(t *testing.T) {
	ctx := context.Background()
	r := newVehicleReasoner()
	entered := make(chan struct{})
	release := make(chan struct{})
	r.on("discovery", func(string, int) (string, error) {
		close(entered)
		<-release
		return vehicleDiscovery, nil
	})
	m := newManager(t, r)
	done := make(chan error, 1)
	go func() { done <- m.RunDiscovery(ctx, testSource("vehicle")) }()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("discovery never started")
	}
	if !m.Snapshot().Running {
		t.Fatal("snapshot should report the running stage")
	}
	if err := m.RunDiscovery(ctx, testSource("vehicle")); !errors.Is(err, services.ErrState) {
		t.Fatalf("second invocation: expected ErrState, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("RunDiscovery: %v", err)
	}
}

func ids(list []parts.Extraction) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.ID
	}
	return out
}
