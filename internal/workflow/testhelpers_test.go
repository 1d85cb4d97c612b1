package workflow_test

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"

	"partforge/internal/geometry"
	"partforge/internal/imageio"
	"partforge/internal/services"
	"partforge/internal/services/llm"
	"partforge/internal/workflow"
)

const (
	vehicleDiscovery = `{"units":[
		{"id":"wheel_front","display_name":"Front Wheel","anchor":[0.75,0.72],"rough_box":[0.65,0.62,0.85,0.82],"type_hint":"wheel"},
		{"id":"wheel_rear","display_name":"Rear Wheel","anchor":[0.25,0.72],"rough_box":[0.15,0.62,0.35,0.82],"type_hint":"wheel"},
		{"id":"chassis","display_name":"Chassis","anchor":[0.5,0.45],"rough_box":[0.1,0.2,0.9,0.7],"type_hint":"body"}
	]}`
	vehicleAssembly = `{"parts":[
		{"id":"chassis","parent_id":null,"motion_class":"fixed"},
		{"id":"wheel_front","parent_id":"chassis","pivot":[0.75,0.72],"motion_class":"rotation"},
		{"id":"wheel_rear","parent_id":"chassis","pivot":[0.25,0.72],"motion_class":"rotation"}
	]}`
	cyclicAssembly = `{"parts":[
		{"id":"chassis","parent_id":"wheel_front","motion_class":"fixed"},
		{"id":"wheel_front","parent_id":"chassis","motion_class":"rotation"},
		{"id":"wheel_rear","parent_id":"chassis","motion_class":"rotation"}
	]}`
	acceptable = `{"verdict":"acceptable"}`
)

var vehicleProposals = map[string]string{
	"wheel_front": `{"shape":{"type":"circle","center":[0.75,0.72],"radius":0.1},"confidence":0.9}`,
	"wheel_rear":  `{"shape":{"type":"circle","center":[0.25,0.72],"radius":0.1},"confidence":0.9}`,
	"chassis":     `{"shape":{"type":"rect","origin":[0.1,0.2],"size":[0.8,0.5]},"confidence":0.8}`,
}

type handler func(unit string, call int) (string, error)

// pipelineReasoner answers each call by request name. Calls are counted per
// unit and name.
type pipelineReasoner struct {
	mu       sync.Mutex
	handlers map[string]handler
	calls    map[string]int
	requests map[string][]llm.Request
}

func newVehicleReasoner() *pipelineReasoner {
	r := &pipelineReasoner{
		handlers: map[string]handler{},
		calls:    map[string]int{},
		requests: map[string][]llm.Request{},
	}
	r.reply("discovery", vehicleDiscovery)
	r.reply("critique", acceptable)
	r.reply("assembly", vehicleAssembly)
	r.on("propose", func(unit string, _ int) (string, error) {
		if p, ok := vehicleProposals[unit]; ok {
			return p, nil
		}
		return "", errors.New("unknown unit " + unit)
	})
	return r
}

func (r *pipelineReasoner) on(name string, h handler) {
	r.mu.Lock()
	r.handlers[name] = h
	r.mu.Unlock()
}

func (r *pipelineReasoner) reply(name, response string) {
	r.on(name, func(string, int) (string, error) { return response, nil })
}

func (r *pipelineReasoner) fail(name string) {
	r.on(name, func(string, int) (string, error) { return "", errors.New("upstream unavailable") })
}

func (r *pipelineReasoner) last(name string) llm.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	reqs := r.requests[name]
	return reqs[len(reqs)-1]
}

func (r *pipelineReasoner) Complete(ctx context.Context, req llm.Request) (string, error) {
	unit, _ := services.UnitIDFromContext(ctx)
	r.mu.Lock()
	key := unit + "/" + req.Name
	r.calls[key]++
	call := r.calls[key]
	r.requests[req.Name] = append(r.requests[req.Name], req)
	h := r.handlers[req.Name]
	r.mu.Unlock()
	if h == nil {
		return "", errors.New("unscripted call " + req.Name)
	}
	return h(unit, call)
}

type fakeCompositor struct{}

func (fakeCompositor) Composite(image.Image, geometry.Shape) (llm.Image, error) {
	return llm.Image{MIME: "image/png", Data: []byte("composite")}, nil
}

func testSource(seed string) *imageio.Source {
	return &imageio.Source{
		Path:   "/tmp/" + seed + ".png",
		MIME:   "image/png",
		Data:   []byte(seed),
		Width:  1200,
		Height: 800,
		Image:  image.NewRGBA(image.Rect(0, 0, 12, 8)),
	}
}

func newManager(t *testing.T, r *pipelineReasoner) *workflow.Manager {
	t.Helper()
	return workflow.NewManager(workflow.Deps{Reasoner: r, Compositor: fakeCompositor{}}, nil, workflow.WithRunID("run-test"))
}

// advance runs the pipeline up to and including the given state.
func advance(t *testing.T, m *workflow.Manager, src *imageio.Source, target workflow.State) {
	t.Helper()
	ctx := context.Background()
	steps := []struct {
		state workflow.State
		run   func() error
	}{
		{workflow.StateDiscovery, func() error { return m.RunDiscovery(ctx, src) }},
		{workflow.StateExtraction, func() error { return m.ConfirmDiscovery(ctx) }},
		{workflow.StateAssembly, func() error { return m.ConfirmExtraction(ctx) }},
		{workflow.StateComplete, func() error { _, err := m.ConfirmAssembly(ctx, false); return err }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			t.Fatalf("advance to %s: %v", step.state, err)
		}
		if got := m.State(); got != step.state {
			t.Fatalf("state = %s, want %s", got, step.state)
		}
		if step.state == target {
			return
		}
	}
}
