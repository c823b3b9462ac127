package render

import (
	"fmt"
	"image"

	"golang.org/x/image/math/f64"
)

// Orientation decides where a frame lands on the surface. Placement returns the
// destination size the frame is stretched into and the matrix mapping destination
// coordinates onto the surface.
type Orientation interface {
	Name() string
	Placement(surface image.Rectangle) (dst image.Point, toSurface f64.Aff3)
}

// Rotate270 is the handheld's fixed compensation: rotate the canvas by 270 degrees and
// translate by minus the surface height. The destination is the surface with width and
// height swapped, so destination (x, y) lands on surface (y, H-x).
type Rotate270 struct{}

func (Rotate270) Name() string { return "rotate270" }

func (Rotate270) Placement(s image.Rectangle) (image.Point, f64.Aff3) {
	w, h := s.Dx(), s.Dy()
	return image.Pt(h, w), f64.Aff3{
		0, 1, float64(s.Min.X),
		-1, 0, float64(s.Min.Y + h),
	}
}

// Rotate90 turns the other way: destination (x, y) lands on surface (W-y, x).
type Rotate90 struct{}

func (Rotate90) Name() string { return "rotate90" }

func (Rotate90) Placement(s image.Rectangle) (image.Point, f64.Aff3) {
	w, h := s.Dx(), s.Dy()
	return image.Pt(h, w), f64.Aff3{
		0, -1, float64(s.Min.X + w),
		1, 0, float64(s.Min.Y),
	}
}

// Upright stretches the frame over the surface as is.
type Upright struct{}

func (Upright) Name() string { return "none" }

func (Upright) Placement(s image.Rectangle) (image.Point, f64.Aff3) {
	return s.Size(), f64.Aff3{
		1, 0, float64(s.Min.X),
		0, 1, float64(s.Min.Y),
	}
}

var orientations = map[string]Orientation{
	Rotate270{}.Name(): Rotate270{},
	Rotate90{}.Name():  Rotate90{},
	Upright{}.Name():   Upright{},
}

func OrientationByName(name string) (Orientation, error) {
	if name == "" {
		return Rotate270{}, nil
	}
	o, ok := orientations[name]
	if !ok {
		return nil, fmt.Errorf("Unknown orientation %q", name)
	}
	return o, nil
}

// Frame-to-surface matrix: scale the source rectangle into the destination size, then
// apply the orientation.
func sourceToSurface(o Orientation, surface, src image.Rectangle) f64.Aff3 {
	dst, toSurface := o.Placement(surface)
	sx := float64(dst.X) / float64(src.Dx())
	sy := float64(dst.Y) / float64(src.Dy())
	stretch := f64.Aff3{
		sx, 0, -float64(src.Min.X) * sx,
		0, sy, -float64(src.Min.Y) * sy,
	}
	return mul(toSurface, stretch)
}

// a after b
func mul(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3],
		a[0]*b[1] + a[1]*b[4],
		a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3],
		a[3]*b[1] + a[4]*b[4],
		a[3]*b[2] + a[4]*b[5] + a[5],
	}
}
