package geometry

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestBBoxClampIdempotent(t *testing.T) {
	cases := []BBox{
		Box(0.1, 0.2, 0.3, 0.4),
		Box(-0.5, 0.2, 1.7, 0.9),
		Box(1.2, -3, -0.1, 2),
		Box(math.NaN(), 0.5, 0.6, math.Inf(1)),
		Box(0, 0, 1, 1),
	}
	for _, box := range cases {
		once := box.Clamp()
		twice := once.Clamp()
		if once != twice {
			t.Fatalf("clamp not idempotent for %v: %v then %v", box, once, twice)
		}
		if !once.InRange() {
			t.Fatalf("clamped box out of range: %v", once)
		}
	}
}

func TestBBoxClampNoOpInRange(t *testing.T) {
	box := Box(0.05, 0.1, 0.95, 0.6)
	if got := box.Clamp(); got != box {
		t.Fatalf("expected in-range clamp to be a no-op, got %v", got)
	}
}

func TestBBoxWellFormed(t *testing.T) {
	if !Box(0, 0, 0.5, 0.5).WellFormed() {
		t.Fatal("expected well-formed box")
	}
	if Box(0.5, 0, 0.5, 0.5).WellFormed() {
		t.Fatal("zero width box must not be well-formed")
	}
	if Box(0.6, 0, 0.5, 0.5).Clamp().WellFormed() {
		t.Fatal("clamp must not repair inverted boxes")
	}
	if !Box(0.6, 0.7, 0.5, 0.5).Canon().WellFormed() {
		t.Fatal("canon should order edges")
	}
}

func TestBBoxJSONForms(t *testing.T) {
	var a, b BBox
	if err := json.Unmarshal([]byte(`[0.1,0.2,0.3,0.4]`), &a); err != nil {
		t.Fatalf("array form: %v", err)
	}
	if err := json.Unmarshal([]byte(`{"min_x":0.1,"min_y":0.2,"max_x":0.3,"max_y":0.4}`), &b); err != nil {
		t.Fatalf("object form: %v", err)
	}
	if a != b {
		t.Fatalf("forms disagree: %v vs %v", a, b)
	}
	if err := json.Unmarshal([]byte(`[0.1,0.2]`), &a); err == nil {
		t.Fatal("expected error for short array")
	}
}

func TestShapeClampIdempotent(t *testing.T) {
	outline, err := ParsePath("M -0.2 0.1 L 1.4 0.1 L 0.5 0.9 Z")
	if err != nil {
		t.Fatalf("ParsePath: %v", err)
	}
	shapes := []Primitive{
		Circle{Center: Pt(1.2, -0.1), Radius: 1.5},
		Rect{Origin: Pt(0.8, 0.8), Size: Pt(0.5, 0.5), CornerRadius: 0.4},
		Ellipse{Center: Pt(0.5, 0.5), Radii: Pt(0.2, 1.3)},
		Outline{Path: outline},
	}
	for _, shape := range shapes {
		once := shape.Clamp()
		twice := once.Clamp()
		if diff := cmp.Diff(once, twice); diff != "" {
			t.Fatalf("%s clamp not idempotent (-once +twice):\n%s", shape.Kind(), diff)
		}
	}
}

func TestRectClampKeepsFarCornerInside(t *testing.T) {
	r := Rect{Origin: Pt(0.8, 0.7), Size: Pt(0.5, 0.5)}.Clamp().(Rect)
	b := r.Bounds()
	if !b.InRange() {
		t.Fatalf("clamped rect escapes unit square: %v", b)
	}
}

func TestCircleTransformNonUniformBecomesEllipse(t *testing.T) {
	c := Circle{Center: Pt(0.5, 0.5), Radius: 0.1}
	if _, ok := c.Transform(100, 100, 0, 0).(Circle); !ok {
		t.Fatal("uniform scale should keep a circle")
	}
	e, ok := c.Transform(200, 100, 0, 0).(Ellipse)
	if !ok {
		t.Fatal("non-uniform scale should produce an ellipse")
	}
	if e.Radii.X != 20 || e.Radii.Y != 10 {
		t.Fatalf("unexpected radii %+v", e.Radii)
	}
}

func TestParsePathRelativeAndImplicit(t *testing.T) {
	path, err := ParsePath("m0.1,0.1 0.2,0 0,0.2 h-0.2 z")
	if err != nil {
		t.Fatalf("ParsePath: %v", err)
	}
	want := Path{
		MoveTo(Pt(0.1, 0.1)),
		LineTo(Pt(0.3, 0.1)),
		LineTo(Pt(0.3, 0.3)),
		LineTo(Pt(0.1, 0.3)),
		Close(),
	}
	if diff := cmp.Diff(want, path, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Fatalf("unexpected path (-want +got):\n%s", diff)
	}
}

func TestParsePathRejectsArcsAndGarbage(t *testing.T) {
	for _, input := range []string{"", "L 0 0", "M 0 0 A 1 1 0 0 1 1 1", "M 0 x", "M 0"} {
		if _, err := ParsePath(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestPathRoundTripThroughString(t *testing.T) {
	src := "M 0.1 0.1 C 0.2 0 0.4 0 0.5 0.1 Q 0.6 0.4 0.3 0.5 Z"
	path, err := ParsePath(src)
	if err != nil {
		t.Fatalf("ParsePath: %v", err)
	}
	again, err := ParsePath(path.String())
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if diff := cmp.Diff(path, again); diff != "" {
		t.Fatalf("path changed through String (-first +second):\n%s", diff)
	}
}

func TestOutlineContainsAndBounds(t *testing.T) {
	path, err := ParsePath("M 0.2 0.2 L 0.8 0.2 L 0.8 0.8 L 0.2 0.8 Z")
	if err != nil {
		t.Fatalf("ParsePath: %v", err)
	}
	o := Outline{Path: path}
	if !o.Contains(Pt(0.5, 0.5)) {
		t.Fatal("expected center inside")
	}
	if o.Contains(Pt(0.1, 0.5)) {
		t.Fatal("expected point outside")
	}
	if got, want := o.Bounds(), Box(0.2, 0.2, 0.8, 0.8); got != want {
		t.Fatalf("bounds = %v, want %v", got, want)
	}
}

func TestShapeJSONTaggedUnion(t *testing.T) {
	cases := []string{
		`{"type":"circle","center":[0.5,0.5],"radius":0.2}`,
		`{"type":"rect","origin":[0.1,0.1],"size":[0.3,0.2],"corner_radius":0.05}`,
		`{"type":"ellipse","center":[0.5,0.4],"radii":[0.2,0.1]}`,
		`{"type":"outline","path":"M 0.1 0.1 L 0.4 0.1 L 0.2 0.3 Z"}`,
	}
	for _, raw := range cases {
		var s Shape
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if err := s.Valid(); err != nil {
			t.Fatalf("decoded shape invalid: %v", err)
		}
		encoded, err := json.Marshal(s)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var back Shape
		if err := json.Unmarshal(encoded, &back); err != nil {
			t.Fatalf("re-unmarshal %s: %v", encoded, err)
		}
		if diff := cmp.Diff(s, back); diff != "" {
			t.Fatalf("shape changed (-first +second):\n%s", diff)
		}
	}
	var bad Shape
	if err := json.Unmarshal([]byte(`{"type":"star"}`), &bad); err == nil {
		t.Fatal("expected unknown type to fail")
	}
}

func TestDistanceUsesEuclideanNorm(t *testing.T) {
	if got := Distance(Pt(0, 0), Pt(0.3, 0.4)); math.Abs(got-0.5) > 1e-12 {
		t.Fatalf("distance = %v", got)
	}
}

func TestPathOfTracesPrimitiveBounds(t *testing.T) {
	shapes := []Primitive{
		Circle{Center: Pt(0.5, 0.5), Radius: 0.2},
		Ellipse{Center: Pt(0.4, 0.6), Radii: Pt(0.3, 0.1)},
		Rect{Origin: Pt(0.1, 0.2), Size: Pt(0.4, 0.3)},
		Rect{Origin: Pt(0.1, 0.2), Size: Pt(0.4, 0.3), CornerRadius: 0.05},
	}
	for _, shape := range shapes {
		outline := Outline{Path: PathOf(shape)}
		if err := outline.Valid(); err != nil {
			t.Fatalf("%s: traced path invalid: %v", shape.Kind(), err)
		}
		if diff := cmp.Diff(shape.Bounds(), outline.Bounds(), cmpopts.EquateApprox(0, 1e-3)); diff != "" {
			t.Fatalf("%s: traced bounds differ (-shape +path):\n%s", shape.Kind(), diff)
		}
	}
}

func TestRectClampTrimsOverhangOnEveryEdge(t *testing.T) {
	cases := []struct {
		name string
		rect Rect
		want BBox
	}{
		{"left", Rect{Origin: Pt(-0.05, 0.2), Size: Pt(0.3, 0.3)}, Box(0, 0.2, 0.25, 0.5)},
		{"top", Rect{Origin: Pt(0.4, -0.1), Size: Pt(0.2, 0.3)}, Box(0.4, 0, 0.6, 0.2)},
		{"right", Rect{Origin: Pt(0.9, 0.1), Size: Pt(0.3, 0.2)}, Box(0.9, 0.1, 1, 0.3)},
		{"both", Rect{Origin: Pt(-0.5, -0.5), Size: Pt(2, 2)}, Box(0, 0, 1, 1)},
	}
	for _, tc := range cases {
		got := tc.rect.Clamp().Bounds()
		if diff := cmp.Diff(tc.want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
			t.Fatalf("%s: clamped bounds (-want +got):\n%s", tc.name, diff)
		}
	}
}

func TestRectClampOutsideCollapses(t *testing.T) {
	r := Rect{Origin: Pt(1.1, 0.2), Size: Pt(0.2, 0.2)}.Clamp().(Rect)
	if r.Size.X != 0 {
		t.Fatalf("rect beyond the right edge should have zero width, got %+v", r)
	}
}
