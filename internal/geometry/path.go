package geometry

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Op identifies a path segment kind.
type Op uint8

const (
	OpMove Op = iota
	OpLine
	OpQuad
	OpCubic
	OpClose
)

// Segment is one typed path command in absolute coordinates. Pts holds the
// control points followed by the end point: Move/Line use one point, Quad two,
// Cubic three, Close none.
type Segment struct {
	Op  Op
	Pts []Point
}

// End returns the segment end point. Close has none.
func (s Segment) End() (Point, bool) {
	if len(s.Pts) == 0 {
		return Point{}, false
	}
	return s.Pts[len(s.Pts)-1], true
}

// MoveTo, LineTo, QuadTo, CubicTo and Close build segments.
func MoveTo(p Point) Segment          { return Segment{Op: OpMove, Pts: []Point{p}} }
func LineTo(p Point) Segment          { return Segment{Op: OpLine, Pts: []Point{p}} }
func QuadTo(c, p Point) Segment       { return Segment{Op: OpQuad, Pts: []Point{c, p}} }
func CubicTo(c1, c2, p Point) Segment { return Segment{Op: OpCubic, Pts: []Point{c1, c2, p}} }
func Close() Segment                  { return Segment{Op: OpClose} }

// Path is an ordered list of segments.
type Path []Segment

// Map applies fn to every point of the path and returns a new path.
func (p Path) Map(fn func(Point) Point) Path {
	out := make(Path, len(p))
	for i, seg := range p {
		pts := make([]Point, len(seg.Pts))
		for j, pt := range seg.Pts {
			pts[j] = fn(pt)
		}
		out[i] = Segment{Op: seg.Op, Pts: pts}
	}
	return out
}

// Points returns every point referenced by the path, control points included.
func (p Path) Points() []Point {
	var pts []Point
	for _, seg := range p {
		pts = append(pts, seg.Pts...)
	}
	return pts
}

// Flatten converts the path into closed polygons, subdividing curves into
// steps line pieces each.
func (p Path) Flatten(steps int) [][]Point {
	if steps < 1 {
		steps = 1
	}
	var (
		polys   [][]Point
		current []Point
		cursor  Point
		start   Point
	)
	flush := func() {
		if len(current) >= 3 {
			polys = append(polys, current)
		}
		current = nil
	}
	for _, seg := range p {
		switch seg.Op {
		case OpMove:
			flush()
			cursor = seg.Pts[0]
			start = cursor
			current = []Point{cursor}
		case OpLine:
			if current == nil {
				current = []Point{cursor}
				start = cursor
			}
			cursor = seg.Pts[0]
			current = append(current, cursor)
		case OpQuad:
			if current == nil {
				current = []Point{cursor}
				start = cursor
			}
			c, end := seg.Pts[0], seg.Pts[1]
			for i := 1; i <= steps; i++ {
				t := float64(i) / float64(steps)
				current = append(current, cursor.Lerp(c, t).Lerp(c.Lerp(end, t), t))
			}
			cursor = end
		case OpCubic:
			if current == nil {
				current = []Point{cursor}
				start = cursor
			}
			c1, c2, end := seg.Pts[0], seg.Pts[1], seg.Pts[2]
			for i := 1; i <= steps; i++ {
				t := float64(i) / float64(steps)
				a := cursor.Lerp(c1, t)
				b := c1.Lerp(c2, t)
				c := c2.Lerp(end, t)
				current = append(current, a.Lerp(b, t).Lerp(b.Lerp(c, t), t))
			}
			cursor = end
		case OpClose:
			cursor = start
			flush()
		}
	}
	flush()
	return polys
}

// Validate checks structural sanity: the path starts with a move, every
// segment carries the right number of points, and coordinates are finite.
func (p Path) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("path: empty")
	}
	if p[0].Op != OpMove {
		return fmt.Errorf("path: must start with a move")
	}
	for i, seg := range p {
		want := map[Op]int{OpMove: 1, OpLine: 1, OpQuad: 2, OpCubic: 3, OpClose: 0}[seg.Op]
		if len(seg.Pts) != want {
			return fmt.Errorf("path: segment %d has %d points, want %d", i, len(seg.Pts), want)
		}
		for _, pt := range seg.Pts {
			if !pt.Finite() {
				return fmt.Errorf("path: segment %d has non-finite coordinate", i)
			}
		}
	}
	return nil
}

// String formats the path as SVG path data using absolute commands.
func (p Path) String() string {
	var b strings.Builder
	for i, seg := range p {
		if i > 0 {
			b.WriteByte(' ')
		}
		switch seg.Op {
		case OpMove:
			b.WriteString("M")
		case OpLine:
			b.WriteString("L")
		case OpQuad:
			b.WriteString("Q")
		case OpCubic:
			b.WriteString("C")
		case OpClose:
			b.WriteString("Z")
			continue
		}
		for j, pt := range seg.Pts {
			if j > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(formatCoord(pt.X))
			b.WriteByte(' ')
			b.WriteString(formatCoord(pt.Y))
		}
	}
	return b.String()
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParsePath decodes SVG path data (M, L, H, V, Q, T, C, S, Z and their
// relative forms) into absolute typed segments. Arcs are rejected.
func ParsePath(data string) (Path, error) {
	toks, err := tokenizePath(data)
	if err != nil {
		return nil, err
	}
	var (
		out     Path
		cursor  Point
		start   Point
		lastCtl Point
		lastOp  byte
		cmd     byte
		i       int
		haveCmd bool
	)
	next := func() (float64, error) {
		if i >= len(toks) || toks[i].isCmd {
			return 0, fmt.Errorf("path: command %q missing coordinates", string(cmd))
		}
		v := toks[i].num
		i++
		return v, nil
	}
	pair := func(rel bool) (Point, error) {
		x, err := next()
		if err != nil {
			return Point{}, err
		}
		y, err := next()
		if err != nil {
			return Point{}, err
		}
		if rel {
			return Point{X: cursor.X + x, Y: cursor.Y + y}, nil
		}
		return Point{X: x, Y: y}, nil
	}
	for i < len(toks) {
		if toks[i].isCmd {
			cmd = toks[i].cmd
			haveCmd = true
			i++
		} else if !haveCmd {
			return nil, fmt.Errorf("path: coordinates before first command")
		}
		rel := unicode.IsLower(rune(cmd))
		upper := byte(unicode.ToUpper(rune(cmd)))
		switch upper {
		case 'M':
			pt, err := pair(rel)
			if err != nil {
				return nil, err
			}
			out = append(out, MoveTo(pt))
			cursor, start = pt, pt
			// Subsequent pairs after a move are implicit line-tos.
			if rel {
				cmd = 'l'
			} else {
				cmd = 'L'
			}
		case 'L':
			pt, err := pair(rel)
			if err != nil {
				return nil, err
			}
			out = append(out, LineTo(pt))
			cursor = pt
		case 'H':
			x, err := next()
			if err != nil {
				return nil, err
			}
			if rel {
				x += cursor.X
			}
			cursor = Point{X: x, Y: cursor.Y}
			out = append(out, LineTo(cursor))
		case 'V':
			y, err := next()
			if err != nil {
				return nil, err
			}
			if rel {
				y += cursor.Y
			}
			cursor = Point{X: cursor.X, Y: y}
			out = append(out, LineTo(cursor))
		case 'Q':
			c, err := pair(rel)
			if err != nil {
				return nil, err
			}
			end, err := pair(rel)
			if err != nil {
				return nil, err
			}
			out = append(out, QuadTo(c, end))
			lastCtl, cursor = c, end
		case 'T':
			c := cursor
			if lastOp == 'Q' || lastOp == 'T' {
				c = reflect(lastCtl, cursor)
			}
			end, err := pair(rel)
			if err != nil {
				return nil, err
			}
			out = append(out, QuadTo(c, end))
			lastCtl, cursor = c, end
		case 'C':
			c1, err := pair(rel)
			if err != nil {
				return nil, err
			}
			c2, err := pair(rel)
			if err != nil {
				return nil, err
			}
			end, err := pair(rel)
			if err != nil {
				return nil, err
			}
			out = append(out, CubicTo(c1, c2, end))
			lastCtl, cursor = c2, end
		case 'S':
			c1 := cursor
			if lastOp == 'C' || lastOp == 'S' {
				c1 = reflect(lastCtl, cursor)
			}
			c2, err := pair(rel)
			if err != nil {
				return nil, err
			}
			end, err := pair(rel)
			if err != nil {
				return nil, err
			}
			out = append(out, CubicTo(c1, c2, end))
			lastCtl, cursor = c2, end
		case 'Z':
			out = append(out, Close())
			cursor = start
			haveCmd = false
		case 'A':
			return nil, fmt.Errorf("path: arc commands are not supported")
		default:
			return nil, fmt.Errorf("path: unknown command %q", string(cmd))
		}
		lastOp = upper
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func reflect(ctl, about Point) Point {
	return Point{X: 2*about.X - ctl.X, Y: 2*about.Y - ctl.Y}
}

type pathToken struct {
	isCmd bool
	cmd   byte
	num   float64
}

func tokenizePath(data string) ([]pathToken, error) {
	var toks []pathToken
	s := data
	for len(s) > 0 {
		c := s[0]
		switch {
		case c == ' ' || c == ',' || c == '\t' || c == '\n' || c == '\r':
			s = s[1:]
		case strings.IndexByte("MmLlHhVvQqTtCcSsZzAa", c) >= 0:
			toks = append(toks, pathToken{isCmd: true, cmd: c})
			s = s[1:]
		default:
			n := numberPrefix(s)
			if n == 0 {
				return nil, fmt.Errorf("path: unexpected character %q", string(c))
			}
			v, err := strconv.ParseFloat(s[:n], 64)
			if err != nil {
				return nil, fmt.Errorf("path: bad number %q: %w", s[:n], err)
			}
			toks = append(toks, pathToken{num: v})
			s = s[n:]
		}
	}
	return toks, nil
}

// numberPrefix returns the length of the numeric literal at the start of s.
// SVG allows "0.5.5" to mean two numbers and "1-2" to mean 1 and -2.
func numberPrefix(s string) int {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits, dot := false, false
	for i < len(s) {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits = true
			i++
		case c == '.' && !dot:
			dot = true
			i++
		case (c == 'e' || c == 'E') && digits:
			j := i + 1
			if j < len(s) && (s[j] == '+' || s[j] == '-') {
				j++
			}
			if j < len(s) && s[j] >= '0' && s[j] <= '9' {
				i = j
				for i < len(s) && s[i] >= '0' && s[i] <= '9' {
					i++
				}
			}
			return i
		default:
			if !digits {
				return 0
			}
			return i
		}
	}
	if !digits {
		return 0
	}
	return i
}
