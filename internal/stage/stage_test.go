package stage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"partforge/internal/geometry"
	"partforge/internal/parts"
	"partforge/internal/services"
	"partforge/internal/services/llm"
)

type fakeReasoner struct {
	mu        sync.Mutex
	responses []string
	err       error
	requests  []llm.Request
}

func (f *fakeReasoner) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

var testImage = llm.Image{MIME: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}

func TestDiscoverNormalizesUnits(t *testing.T) {
	r := &fakeReasoner{responses: []string{"```json\n" + `{"units":[
		{"id":"Wheel Front","anchor":[0.9,0.9],"rough_box":[0.3,0.6,0.1,0.8],"type_hint":"WHEEL","strategy":"primitive"},
		{"id":"wheel_front","display_name":"Rear Wheel","anchor":{"x":0.7,"y":0.7},"bbox":[0.6,0.6,0.8,0.8],"type_hint":"wheel"},
		{"name":"Chassis","rough_box":[-0.1,0.2,1.3,0.7],"type_hint":"car","strategy":"segment"}
	]}` + "\n```"}}

	manifest, trace, err := Discover(context.Background(), r, DiscoveryInput{Image: testImage})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if trace.PromptDigest == "" || trace.ResponseDigest == "" {
		t.Fatalf("expected digests, got %+v", trace)
	}
	want := []parts.Unit{
		{ID: "wheel_front", DisplayName: "Wheel Front", Anchor: geometry.Pt(0.3, 0.8), RoughBox: geometry.Box(0.1, 0.6, 0.3, 0.8), TypeHint: parts.TypeWheel, Strategy: parts.StrategyPrimitive},
		{ID: "wheel_front_2", DisplayName: "Rear Wheel", Anchor: geometry.Pt(0.7, 0.7), RoughBox: geometry.Box(0.6, 0.6, 0.8, 0.8), TypeHint: parts.TypeWheel, Strategy: parts.StrategyPrimitive},
		{ID: "chassis", DisplayName: "Chassis", Anchor: geometry.Pt(0.5, 0.45), RoughBox: geometry.Box(0, 0.2, 1, 0.7), TypeHint: parts.TypeOther, Strategy: parts.StrategyMask},
	}
	if diff := cmp.Diff(want, manifest.Units, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Fatalf("unexpected manifest (-want +got):\n%s", diff)
	}
	for _, u := range manifest.Units {
		if !u.RoughBox.Contains(u.Anchor) {
			t.Fatalf("anchor %v outside box %v", u.Anchor, u.RoughBox)
		}
	}
}

func TestDiscoverFailuresAreServiceErrors(t *testing.T) {
	cases := map[string]*fakeReasoner{
		"call fails":  {err: errors.New("connection reset")},
		"prose":       {responses: []string{"I could not find any parts."}},
		"empty":       {responses: []string{`{"units":[]}`}},
		"missing box": {responses: []string{`{"units":[{"id":"a"}]}`}},
		"bad box":     {responses: []string{`{"units":[{"id":"a","rough_box":[0.1]}]}`}},
	}
	for name, r := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := Discover(context.Background(), r, DiscoveryInput{Image: testImage})
			if !errors.Is(err, services.ErrService) {
				t.Fatalf("expected ErrService, got %v", err)
			}
		})
	}
}

func TestDiscoverDegenerateBoxIsInflated(t *testing.T) {
	r := &fakeReasoner{responses: []string{`{"units":[{"id":"pin","rough_box":[0.5,0.5,0.5,0.5]}]}`}}
	manifest, _, err := Discover(context.Background(), r, DiscoveryInput{Image: testImage})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if box := manifest.Units[0].RoughBox; !box.WellFormed() {
		t.Fatalf("expected well-formed box, got %v", box)
	}
}

func TestConversationalRevisionReplaysPriorOutput(t *testing.T) {
	prior := parts.Manifest{Units: []parts.Unit{{ID: "door", RoughBox: geometry.Box(0.1, 0.1, 0.4, 0.4)}}}
	r := &fakeReasoner{responses: []string{`{"units":[{"id":"door","rough_box":[0.1,0.1,0.4,0.4]},{"id":"hinge","rough_box":[0.1,0.1,0.15,0.4]}]}`}}

	manifest, _, err := Discover(context.Background(), r, DiscoveryInput{
		Image:    testImage,
		Revision: Conversational(prior, "you missed the hinge"),
	})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(manifest.Units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(manifest.Units))
	}
	req := r.requests[0]
	if len(req.History) != 2 {
		t.Fatalf("expected two history turns, got %d", len(req.History))
	}
	if req.History[0].Role != llm.RoleUser || len(req.History[0].Images) != 1 {
		t.Fatalf("first turn should carry the original prompt and image: %+v", req.History[0])
	}
	if req.History[1].Role != llm.RoleAssistant || !strings.Contains(req.History[1].Content, `"door"`) {
		t.Fatalf("second turn should replay the prior manifest: %+v", req.History[1])
	}
	if !strings.Contains(req.Prompt, "you missed the hinge") || len(req.Images) != 0 {
		t.Fatalf("correction turn should carry only the feedback: %q images=%d", req.Prompt, len(req.Images))
	}
}

func TestFreshRevisionSendsIdenticalRequests(t *testing.T) {
	body := `{"units":[{"id":"a","rough_box":[0.1,0.1,0.2,0.2]}]}`
	r := &fakeReasoner{responses: []string{body, body}}
	for range 2 {
		if _, _, err := Discover(context.Background(), r, DiscoveryInput{Image: testImage, Revision: Fresh[parts.Manifest]()}); err != nil {
			t.Fatalf("Discover: %v", err)
		}
	}
	if Digest(r.requests[0]) != Digest(r.requests[1]) {
		t.Fatal("fresh retries should send identical inputs")
	}
}

func TestConversationalRevisionRequiresFeedback(t *testing.T) {
	r := &fakeReasoner{}
	_, _, err := Discover(context.Background(), r, DiscoveryInput{Image: testImage, Revision: Conversational(parts.Manifest{}, "  ")})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(r.requests) != 0 {
		t.Fatal("no call should be made")
	}
}

func TestProposeClampsShapeAndDerivesBBox(t *testing.T) {
	r := &fakeReasoner{responses: []string{`{"shape":{"type":"circle","center":[0.95,0.5],"radius":0.1},"bbox":[0,0,1,1],"amodal_completed":true,"confidence":1.4}`}}
	unit := parts.Unit{ID: "wheel_front", DisplayName: "Front Wheel", Anchor: geometry.Pt(0.9, 0.5), RoughBox: geometry.Box(0.8, 0.4, 1, 0.6)}

	got, _, err := Propose(context.Background(), r, ProposalInput{Image: testImage, Unit: unit})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if got.ID != "wheel_front" || !got.Amodal || got.Confidence != 1 {
		t.Fatalf("unexpected extraction %+v", got)
	}
	if !got.BBox.WellFormed() || !got.BBox.InRange() {
		t.Fatalf("bbox should be well-formed and in range: %v", got.BBox)
	}
	if diff := cmp.Diff(geometry.Box(0.85, 0.4, 1, 0.6), got.BBox, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Fatalf("bbox should follow the clamped shape (-want +got):\n%s", diff)
	}
}

func TestProposeDefaultsConfidence(t *testing.T) {
	r := &fakeReasoner{responses: []string{`{"shape":{"type":"rect","origin":[0.1,0.1],"size":[0.2,0.2]}}`}}
	got, _, err := Propose(context.Background(), r, ProposalInput{Image: testImage, Unit: parts.Unit{ID: "door"}})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if got.Confidence != defaultConfidence {
		t.Fatalf("confidence = %v", got.Confidence)
	}
}

func TestProposeRejectsMissingOrInvalidShape(t *testing.T) {
	for _, body := range []string{
		`{"bbox":[0.1,0.1,0.2,0.2]}`,
		`{"shape":{"type":"circle","center":[0.5,0.5],"radius":-1}}`,
		`{"shape":{"type":"hexagon"}}`,
	} {
		r := &fakeReasoner{responses: []string{body}}
		if _, _, err := Propose(context.Background(), r, ProposalInput{Image: testImage, Unit: parts.Unit{ID: "x"}}); !errors.Is(err, services.ErrService) {
			t.Fatalf("%s: expected ErrService, got %v", body, err)
		}
	}
}

func TestProposeClipsOverhangingRect(t *testing.T) {
	r := &fakeReasoner{responses: []string{`{"shape":{"type":"rect","origin":[-0.05,0.2],"size":[0.3,0.3]}}`}}
	got, _, err := Propose(context.Background(), r, ProposalInput{Image: testImage, Unit: parts.Unit{ID: "door"}})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if diff := cmp.Diff(geometry.Box(0, 0.2, 0.25, 0.5), got.BBox, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Fatalf("bbox should cover only the visible part (-want +got):\n%s", diff)
	}
}

func TestProposeShapeOutsideImageFallsBack(t *testing.T) {
	unit := parts.Unit{ID: "flag", RoughBox: geometry.Box(0.7, 0.1, 0.9, 0.3)}
	cases := []struct {
		name string
		body string
		want geometry.BBox
	}{
		{"reported box", `{"shape":{"type":"rect","origin":[1.1,0.2],"size":[0.2,0.2]},"bbox":[0.8,0.2,1.3,0.4]}`, geometry.Box(0.8, 0.2, 1, 0.4)},
		{"rough box", `{"shape":{"type":"rect","origin":[1.1,0.2],"size":[0.2,0.2]}}`, unit.RoughBox},
	}
	for _, tc := range cases {
		r := &fakeReasoner{responses: []string{tc.body}}
		got, _, err := Propose(context.Background(), r, ProposalInput{Image: testImage, Unit: unit})
		if err != nil {
			t.Fatalf("%s: Propose: %v", tc.name, err)
		}
		if diff := cmp.Diff(tc.want, got.BBox, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
			t.Fatalf("%s: bbox (-want +got):\n%s", tc.name, diff)
		}
		if diff := cmp.Diff(tc.want, got.Shape.Bounds(), cmpopts.EquateApprox(0, 1e-9)); diff != "" {
			t.Fatalf("%s: shape should be replaced by the fallback box (-want +got):\n%s", tc.name, diff)
		}
	}
}

func TestProposeAttachesCompositeOnCorrectionRounds(t *testing.T) {
	r := &fakeReasoner{responses: []string{`{"shape":{"type":"ellipse","center":[0.5,0.5],"radii":[0.2,0.1]}}`}}
	composite := llm.Image{MIME: "image/png", Data: []byte("composite")}
	_, _, err := Propose(context.Background(), r, ProposalInput{
		Image:     testImage,
		Unit:      parts.Unit{ID: "body", DisplayName: "Body"},
		Composite: &composite,
		Critique:  "too wide on the left",
	})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	req := r.requests[0]
	if len(req.Images) != 2 {
		t.Fatalf("expected source and composite images, got %d", len(req.Images))
	}
	if !strings.Contains(req.Prompt, "too wide on the left") {
		t.Fatalf("prompt should carry the critique: %q", req.Prompt)
	}
}

func TestCritiqueVerdictForms(t *testing.T) {
	cases := []struct {
		body string
		want Status
	}{
		{`{"verdict":"acceptable"}`, StatusAcceptable},
		{`{"verdict":"Needs Improvement","feedback":"shift left"}`, StatusNeedsImprovement},
		{`{"verdict":true}`, StatusAcceptable},
		{`{"acceptable":false,"feedback":"too small"}`, StatusNeedsImprovement},
		{`{"status":"pass"}`, StatusAcceptable},
	}
	for _, tc := range cases {
		r := &fakeReasoner{responses: []string{tc.body}}
		v, _, err := Critique(context.Background(), r, CritiqueInput{Composite: testImage, Unit: parts.Unit{ID: "a"}})
		if err != nil {
			t.Fatalf("%s: %v", tc.body, err)
		}
		if v.Status != tc.want {
			t.Fatalf("%s: status = %s, want %s", tc.body, v.Status, tc.want)
		}
	}
}

func TestCritiqueUnknownVerdictIsServiceError(t *testing.T) {
	for _, body := range []string{`{"verdict":"maybe"}`, `{"feedback":"hm"}`, `{"verdict":3}`} {
		r := &fakeReasoner{responses: []string{body}}
		if _, _, err := Critique(context.Background(), r, CritiqueInput{Composite: testImage, Unit: parts.Unit{ID: "a"}}); !errors.Is(err, services.ErrService) {
			t.Fatalf("%s: expected ErrService, got %v", body, err)
		}
	}
}

func testExtractions() ([]parts.Extraction, parts.Manifest) {
	exs := []parts.Extraction{
		{ID: "chassis", Shape: geometry.Of(geometry.Rect{Origin: geometry.Pt(0.1, 0.3), Size: geometry.Pt(0.8, 0.3)}), BBox: geometry.Box(0.1, 0.3, 0.9, 0.6), Confidence: 0.9},
		{ID: "wheel_front", Shape: geometry.Of(geometry.Circle{Center: geometry.Pt(0.75, 0.7), Radius: 0.1}), BBox: geometry.Box(0.65, 0.6, 0.85, 0.8), Confidence: 0.8},
	}
	manifest := parts.Manifest{Units: []parts.Unit{{ID: "chassis", DisplayName: "Chassis"}, {ID: "wheel_front", DisplayName: "Front Wheel"}}}
	return exs, manifest
}

func TestAssembleMergesPayloadWithExtractions(t *testing.T) {
	exs, manifest := testExtractions()
	r := &fakeReasoner{responses: []string{`{"parts":[
		{"id":"wheel_front","parent_id":"chassis","pivot":[0.75,0.7],"motion_class":"rotation"},
		{"id":"chassis","parent_id":null,"motion_class":"fixed"},
		{"id":"ghost","parent_id":"chassis","motion_class":"fixed"}
	]}`}}

	asm, _, err := Assemble(context.Background(), r, AssemblyInput{Image: testImage, Manifest: manifest, Extractions: exs})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(asm.Parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(asm.Parts))
	}
	chassis, wheel := asm.Parts[0], asm.Parts[1]
	if !chassis.IsRoot() || chassis.Motion != parts.MotionFixed || chassis.DisplayName != "Chassis" {
		t.Fatalf("unexpected chassis %+v", chassis)
	}
	if chassis.Pivot != chassis.BBox.Center() {
		t.Fatalf("missing pivot should default to bbox center, got %v", chassis.Pivot)
	}
	if wheel.ParentID != "chassis" || wheel.Motion != parts.MotionRotation {
		t.Fatalf("unexpected wheel %+v", wheel)
	}
	if diff := cmp.Diff(exs[1], wheel.Extraction); diff != "" {
		t.Fatalf("extraction fields must pass through (-want +got):\n%s", diff)
	}
}

func TestAssembleKeepsDanglingParentsForValidation(t *testing.T) {
	exs, manifest := testExtractions()
	r := &fakeReasoner{responses: []string{`{"parts":[
		{"id":"chassis","parent_id":"chassis","motion_class":"fixed"},
		{"id":"wheel_front","parent_id":"axle","motion_class":"spin"}
	]}`}}
	asm, _, err := Assemble(context.Background(), r, AssemblyInput{Image: testImage, Manifest: manifest, Extractions: exs})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if asm.Parts[0].ParentID != "chassis" || asm.Parts[1].ParentID != "axle" {
		t.Fatalf("parent references should be preserved: %+v", asm.Parts)
	}
}

func TestAssembleRejectsIncompletePayload(t *testing.T) {
	exs, manifest := testExtractions()
	for _, body := range []string{
		`{"parts":[{"id":"chassis","motion_class":"fixed"}]}`,
		`{"parts":[{"id":"chassis","motion_class":"wobble"},{"id":"wheel_front","motion_class":"rotation"}]}`,
		`{"parts":[]}`,
	} {
		r := &fakeReasoner{responses: []string{body}}
		if _, _, err := Assemble(context.Background(), r, AssemblyInput{Image: testImage, Manifest: manifest, Extractions: exs}); !errors.Is(err, services.ErrService) {
			t.Fatalf("%s: expected ErrService, got %v", body, err)
		}
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode(""); err != nil || m != ModeFresh {
		t.Fatalf("empty mode = %q, %v", m, err)
	}
	if m, err := ParseMode("Conversational"); err != nil || m != ModeConversational {
		t.Fatalf("conversational = %q, %v", m, err)
	}
	if _, err := ParseMode("replay"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
