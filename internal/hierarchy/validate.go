package hierarchy

import (
	"fmt"
	"strings"

	"partforge/internal/geometry"
	"partforge/internal/parts"
)

// rotationPivotRatio bounds a rotating part's pivot distance from its box
// centre, as a share of the box diagonal.
const rotationPivotRatio = 0.6

// Severity grades an issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue codes.
const (
	CodeDuplicateID    = "duplicate_id"
	CodeDanglingParent = "dangling_parent"
	CodeNoRoot         = "no_root"
	CodeMultipleRoots  = "multiple_roots"
	CodeCycle          = "cycle"
	CodeUnreachable    = "unreachable"
	CodeBBoxMalformed  = "bbox_malformed"
	CodeBBoxRange      = "bbox_out_of_range"
	CodePivotOutside   = "pivot_outside_bbox"
	CodePivotDistance  = "pivot_far_from_center"
)

// Issue is one validation finding. PartID is empty for list-wide issues.
type Issue struct {
	Severity Severity `json:"severity"`
	PartID   string   `json:"part_id,omitempty"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	if i.PartID == "" {
		return fmt.Sprintf("%s: %s", i.Severity, i.Message)
	}
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.PartID, i.Message)
}

// Tree is the parent-to-children index. Roots and children keep input order.
type Tree struct {
	Roots    []string            `json:"roots"`
	Children map[string][]string `json:"children"`
}

// Walk visits the tree depth first from every root. Nodes already visited
// are skipped, so cyclic input terminates.
func (t Tree) Walk(fn func(id string, depth int)) {
	seen := make(map[string]bool)
	var visit func(id string, depth int)
	visit = func(id string, depth int) {
		if seen[id] {
			return
		}
		seen[id] = true
		fn(id, depth)
		for _, child := range t.Children[id] {
			visit(child, depth+1)
		}
	}
	for _, root := range t.Roots {
		visit(root, 0)
	}
}

// Report is the validation result.
type Report struct {
	Tree   Tree    `json:"tree"`
	Issues []Issue `json:"issues"`
}

// Errors returns error-severity issues.
func (r Report) Errors() []Issue { return r.filter(SeverityError) }

// Warnings returns warning-severity issues.
func (r Report) Warnings() []Issue { return r.filter(SeverityWarning) }

// HasErrors reports whether any issue blocks progression.
func (r Report) HasErrors() bool { return len(r.Errors()) > 0 }

func (r Report) filter(s Severity) []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Severity == s {
			out = append(out, issue)
		}
	}
	return out
}

// Validate checks the part list. The input is never modified.
func Validate(list []parts.Part) Report {
	v := &validator{
		byID:     make(map[string]parts.Part, len(list)),
		flagged:  make(map[string]bool),
		children: make(map[string][]string),
	}
	v.index(list)
	v.checkParents()
	v.checkRoots()
	v.checkCycles()
	v.checkReachable()
	for _, p := range v.order {
		v.checkGeometry(v.byID[p])
	}
	return Report{Tree: Tree{Roots: v.roots, Children: v.children}, Issues: v.issues}
}

type validator struct {
	order    []string
	byID     map[string]parts.Part
	roots    []string
	children map[string][]string
	issues   []Issue
	// flagged marks parts that already carry a structural error.
	flagged map[string]bool
}

func (v *validator) add(sev Severity, id, code, format string, args ...any) {
	v.issues = append(v.issues, Issue{Severity: sev, PartID: id, Code: code, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) index(list []parts.Part) {
	for _, p := range list {
		if _, dup := v.byID[p.ID]; dup {
			v.add(SeverityError, p.ID, CodeDuplicateID, "duplicate part id; only the first occurrence is used")
			continue
		}
		v.byID[p.ID] = p
		v.order = append(v.order, p.ID)
	}
}

func (v *validator) checkParents() {
	for _, id := range v.order {
		p := v.byID[id]
		if p.IsRoot() {
			v.roots = append(v.roots, id)
			continue
		}
		if _, ok := v.byID[p.ParentID]; !ok {
			v.add(SeverityError, id, CodeDanglingParent, "parent %q does not exist", p.ParentID)
			v.flagged[id] = true
			continue
		}
		v.children[p.ParentID] = append(v.children[p.ParentID], id)
	}
}

func (v *validator) checkRoots() {
	switch {
	case len(v.order) == 0:
	case len(v.roots) == 0:
		v.add(SeverityError, "", CodeNoRoot, "no root part: every part has a parent")
	case len(v.roots) > 1:
		v.add(SeverityWarning, "", CodeMultipleRoots, "%d root parts: %s", len(v.roots), strings.Join(v.roots, ", "))
	}
}

// checkCycles follows parent links depth first, keeping the current chain on
// a recursion stack. Reaching a part already on the stack closes a cycle and
// every part on it is reported.
func (v *validator) checkCycles() {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int, len(v.order))
	var stack []string
	var visit func(id string)
	visit = func(id string) {
		state[id] = onStack
		stack = append(stack, id)
		parent := v.byID[id].ParentID
		if _, ok := v.byID[parent]; ok && parent != "" {
			switch state[parent] {
			case unvisited:
				visit(parent)
			case onStack:
				start := len(stack) - 1
				for stack[start] != parent {
					start--
				}
				cycle := stack[start:]
				chain := strings.Join(append(append([]string(nil), cycle...), parent), " -> ")
				for _, member := range cycle {
					v.add(SeverityError, member, CodeCycle, "part is on a parent cycle: %s", chain)
					v.flagged[member] = true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
	}
	for _, id := range v.order {
		if state[id] == unvisited {
			visit(id)
		}
	}
}

func (v *validator) checkReachable() {
	reached := make(map[string]bool, len(v.order))
	Tree{Roots: v.roots, Children: v.children}.Walk(func(id string, _ int) {
		reached[id] = true
	})
	for _, id := range v.order {
		if reached[id] || v.flagged[id] {
			continue
		}
		v.add(SeverityWarning, id, CodeUnreachable, "part is not reachable from any root")
	}
}

func (v *validator) checkGeometry(p parts.Part) {
	box := p.BBox
	if !box.WellFormed() {
		v.add(SeverityError, p.ID, CodeBBoxMalformed, "bounding box %s is not well formed", box)
		return
	}
	if !box.InRange() {
		v.add(SeverityWarning, p.ID, CodeBBoxRange, "bounding box %s extends outside [0,1]", box)
	}
	if !box.Contains(p.Pivot) {
		v.add(SeverityWarning, p.ID, CodePivotOutside, "pivot (%.3f, %.3f) lies outside its bounding box", p.Pivot.X, p.Pivot.Y)
	}
	if p.Motion == parts.MotionRotation {
		dist := geometry.Distance(p.Pivot, box.Center())
		if limit := rotationPivotRatio * box.Diagonal(); dist > limit {
			v.add(SeverityWarning, p.ID, CodePivotDistance,
				"rotation pivot is %.3f from the box centre, beyond %.0f%% of the diagonal (%.3f)", dist, rotationPivotRatio*100, limit)
		}
	}
}
