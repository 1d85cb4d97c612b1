package atlas

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"partforge/internal/geometry"
	"partforge/internal/packing"
	"partforge/internal/parts"
	"partforge/internal/services"
)

func vehicleParts() []parts.Part {
	mk := func(id, name, parent string, box geometry.BBox) parts.Part {
		return parts.Part{
			Extraction:  parts.Extraction{ID: id, BBox: box},
			DisplayName: name,
			ParentID:    parent,
			Pivot:       box.Center(),
		}
	}
	return []parts.Part{
		mk("chassis", "Chassis", "", geometry.Box(0.1, 0.2, 0.9, 0.7)),
		mk("wheel_front", "Wheel Front", "chassis", geometry.Box(0.65, 0.6, 0.85, 0.85)),
		mk("wheel_rear", "", "chassis", geometry.Box(0.15, 0.6, 0.35, 0.85)),
	}
}

func TestSourceRectCoversBox(t *testing.T) {
	tests := []struct {
		box  geometry.BBox
		want packing.Rect
	}{
		{geometry.Box(0.1, 0.2, 0.9, 0.7), packing.Rect{X: 100, Y: 100, W: 800, H: 250}},
		{geometry.Box(0.1005, 0, 0.2, 1), packing.Rect{X: 100, Y: 0, W: 100, H: 500}},
		{geometry.Box(1, 1, 1, 1), packing.Rect{X: 999, Y: 499, W: 1, H: 1}},
		{geometry.Box(0.5, 0.5, -0.2, 0.1), packing.Rect{X: 0, Y: 50, W: 500, H: 200}},
	}
	for _, tc := range tests {
		if got := SourceRect(tc.box, 1000, 500); got != tc.want {
			t.Fatalf("SourceRect(%v) = %+v, want %+v", tc.box, got, tc.want)
		}
	}
}

func TestBuildPacksEveryPart(t *testing.T) {
	opts := packing.Options{Algorithm: packing.AlgorithmMaxRects, CanvasSize: 1024, Padding: 4}
	a, err := Build(vehicleParts(), 1200, 800, opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := packing.Verify(a.Layout); err != nil {
		t.Fatalf("layout invalid: %v", err)
	}
	if len(a.Parts) != 3 {
		t.Fatalf("expected 3 packed parts, got %d", len(a.Parts))
	}
	rects := a.Rects()
	for i, p := range a.Parts {
		if p.ID != vehicleParts()[i].ID {
			t.Fatalf("part order changed: %s at %d", p.ID, i)
		}
		if rects[p.ID] != p.AtlasRect {
			t.Fatalf("rect map disagrees for %s", p.ID)
		}
		if !p.AtlasRect.Within(4, 1020) {
			t.Fatalf("%s outside padding: %v", p.ID, p.AtlasRect)
		}
		if p.Overflow {
			t.Fatalf("%s unexpectedly overflowed", p.ID)
		}
	}
}

func TestBuildRejectsBadSource(t *testing.T) {
	_, err := Build(vehicleParts(), 0, 800, packing.Options{Algorithm: packing.AlgorithmRow, CanvasSize: 1024, Padding: 4})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCorrespondenceFormats(t *testing.T) {
	opts := packing.Options{Algorithm: packing.AlgorithmRow, CanvasSize: 1024, Padding: 4}
	a, err := Build(vehicleParts(), 1000, 1000, opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	c := a.Correspondence()
	if c.Entries[2].DisplayName != "Wheel Rear" {
		t.Fatalf("expected derived display name, got %q", c.Entries[2].DisplayName)
	}

	var buf bytes.Buffer
	if err := c.WriteText(&buf); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 || lines[0] != "atlas 1024x1024 row padding 4" {
		t.Fatalf("unexpected text:\n%s", buf.String())
	}
	if !strings.HasPrefix(lines[1], `chassis "Chassis": source 800x500+100+200 -> atlas `) {
		t.Fatalf("unexpected first entry: %q", lines[1])
	}

	encoded, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Correspondence
	if err := json.Unmarshal(encoded, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := cmp.Diff(c, back); diff != "" {
		t.Fatalf("correspondence changed through JSON (-want +got):\n%s", diff)
	}
}

func TestRenderCopiesSourceRegions(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 100, 100))
	red := color.RGBA{R: 255, A: 255}
	for y := 0; y < 50; y++ {
		for x := 0; x < 50; x++ {
			src.SetRGBA(x, y, red)
		}
	}
	list := []parts.Part{{Extraction: parts.Extraction{ID: "block", BBox: geometry.Box(0, 0, 0.5, 0.5)}}}
	a, err := Build(list, 100, 100, packing.Options{Algorithm: packing.AlgorithmRow, CanvasSize: 128, Padding: 4})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	out := a.Render(src)
	if out.Bounds().Dx() != 128 {
		t.Fatalf("canvas size %d", out.Bounds().Dx())
	}
	r := a.Parts[0].AtlasRect
	if got := out.RGBAAt(r.X+r.W/2, r.Y+r.H/2); got.R < 250 || got.G > 5 || got.A < 250 {
		t.Fatalf("centre of placed part = %v, want red", got)
	}
	if got := out.RGBAAt(1, 1); got.A != 0 {
		t.Fatalf("padding should stay transparent, got %v", got)
	}
}
