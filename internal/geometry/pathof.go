package geometry

// kappa places cubic control points for a quarter ellipse.
const kappa = 0.5522847498

// PathOf returns a closed path tracing the primitive. Circles and ellipses
// use four cubic arcs; rounded rect corners use one cubic each.
func PathOf(p Primitive) Path {
	switch v := p.(type) {
	case Circle:
		return ellipsePath(v.Center, Point{X: v.Radius, Y: v.Radius})
	case Ellipse:
		return ellipsePath(v.Center, v.Radii)
	case Rect:
		return rectPath(v)
	case Outline:
		return v.Path
	default:
		return nil
	}
}

func ellipsePath(c, r Point) Path {
	kx, ky := r.X*kappa, r.Y*kappa
	return Path{
		MoveTo(Pt(c.X+r.X, c.Y)),
		CubicTo(Pt(c.X+r.X, c.Y+ky), Pt(c.X+kx, c.Y+r.Y), Pt(c.X, c.Y+r.Y)),
		CubicTo(Pt(c.X-kx, c.Y+r.Y), Pt(c.X-r.X, c.Y+ky), Pt(c.X-r.X, c.Y)),
		CubicTo(Pt(c.X-r.X, c.Y-ky), Pt(c.X-kx, c.Y-r.Y), Pt(c.X, c.Y-r.Y)),
		CubicTo(Pt(c.X+kx, c.Y-r.Y), Pt(c.X+r.X, c.Y-ky), Pt(c.X+r.X, c.Y)),
		Close(),
	}
}

func rectPath(r Rect) Path {
	b := r.Bounds()
	cr := r.CornerRadius
	if half := min(r.Size.X, r.Size.Y) / 2; cr > half {
		cr = half
	}
	if cr <= 0 {
		return Path{
			MoveTo(Pt(b.MinX, b.MinY)),
			LineTo(Pt(b.MaxX, b.MinY)),
			LineTo(Pt(b.MaxX, b.MaxY)),
			LineTo(Pt(b.MinX, b.MaxY)),
			Close(),
		}
	}
	k := cr * (1 - kappa)
	return Path{
		MoveTo(Pt(b.MinX+cr, b.MinY)),
		LineTo(Pt(b.MaxX-cr, b.MinY)),
		CubicTo(Pt(b.MaxX-k, b.MinY), Pt(b.MaxX, b.MinY+k), Pt(b.MaxX, b.MinY+cr)),
		LineTo(Pt(b.MaxX, b.MaxY-cr)),
		CubicTo(Pt(b.MaxX, b.MaxY-k), Pt(b.MaxX-k, b.MaxY), Pt(b.MaxX-cr, b.MaxY)),
		LineTo(Pt(b.MinX+cr, b.MaxY)),
		CubicTo(Pt(b.MinX+k, b.MaxY), Pt(b.MinX, b.MaxY-k), Pt(b.MinX, b.MaxY-cr)),
		LineTo(Pt(b.MinX, b.MinY+cr)),
		CubicTo(Pt(b.MinX, b.MinY+k), Pt(b.MinX+k, b.MinY), Pt(b.MinX+cr, b.MinY)),
		Close(),
	}
}
