package packing

import (
	"fmt"
	"strings"

	"partforge/internal/services"
)

// Verify checks that no two placements overlap and every placement lies in
// [padding, canvas-padding]. It returns services.ErrValidation listing every
// violation.
func Verify(l Layout) error {
	lo, hi := l.Padding, l.CanvasSize-l.Padding
	var problems []string
	for i, p := range l.Placements {
		if p.Rect.W <= 0 || p.Rect.H <= 0 {
			problems = append(problems, fmt.Sprintf("%s has empty rect %s", p.ID, p.Rect))
		}
		if !p.Rect.Within(lo, hi) {
			problems = append(problems, fmt.Sprintf("%s rect %s leaves [%d,%d]", p.ID, p.Rect, lo, hi))
		}
		for _, q := range l.Placements[i+1:] {
			if p.Rect.Intersects(q.Rect) {
				problems = append(problems, fmt.Sprintf("%s overlaps %s", p.ID, q.ID))
			}
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return services.Wrap(services.ErrValidation, "packing", "verify", strings.Join(problems, "; "), nil)
}
