// Package viewport turns a page's intrinsic size, the reader's container and
// the current zoom policy into the scale and pixel size a page renders at.
package viewport

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/csheth/lumiread/internal/geom"
)

const (
	MinScale = 0.3
	MaxScale = 5.0

	// ZoomStep is the increment applied by ZoomIn and ZoomOut.
	ZoomStep = 0.25

	// ContainerPadding is subtracted from each container dimension before
	// fitting (8px per side).
	ContainerPadding = 16

	// MinLayoutSize is the smallest container dimension accepted as laid out.
	MinLayoutSize = 20

	// LayoutDeadline bounds how long WaitForLayout polls.
	LayoutDeadline = 2500 * time.Millisecond

	frameInterval = 16 * time.Millisecond
)

type FitMode int

const (
	// Fixed uses Policy.Zoom directly.
	Fixed FitMode = iota
	FitWidth
	FitPage
)

func (m FitMode) String() string {
	switch m {
	case FitWidth:
		return "fit-width"
	case FitPage:
		return "fit-page"
	default:
		return "fixed"
	}
}

// Policy is the user's zoom choice.
type Policy struct {
	Mode FitMode
	Zoom float64
}

// DefaultPolicy fits the page width, which is what the reader opens with.
func DefaultPolicy() Policy {
	return Policy{Mode: FitWidth, Zoom: 1}
}

// ZoomIn switches to a fixed zoom one step above current.
func (p Policy) ZoomIn(current float64) Policy {
	return Policy{Mode: Fixed, Zoom: clamp(current+ZoomStep, MinScale, MaxScale)}
}

// ZoomOut switches to a fixed zoom one step below current.
func (p Policy) ZoomOut(current float64) Policy {
	return Policy{Mode: Fixed, Zoom: clamp(current-ZoomStep, MinScale, MaxScale)}
}

// Label is the short form shown in the status bar.
func (p Policy) Label() string {
	switch p.Mode {
	case FitWidth:
		return "Auto"
	case FitPage:
		return "Fit"
	default:
		return fmt.Sprintf("%d%%", int(math.Round(clamp(p.Zoom, MinScale, MaxScale)*100)))
	}
}

// Viewport is the result of fitting one page.
type Viewport struct {
	Scale  float64
	Width  float64
	Height float64
}

func (v Viewport) WidthPx() int  { return int(math.Floor(v.Width)) }
func (v Viewport) HeightPx() int { return int(math.Floor(v.Height)) }

// Transform maps page space (origin bottom-left, y up) into screen space
// (origin top-left, y down) as an affine [a b c d e f] matrix.
func (v Viewport) Transform() [6]float64 {
	return [6]float64{v.Scale, 0, 0, -v.Scale, 0, v.Height}
}

// Compute fits a page of the given intrinsic size into container. The
// container is expected to be padded already (see Available).
func Compute(intrinsic, container geom.Size, policy Policy) Viewport {
	scale := 1.0
	switch policy.Mode {
	case FitWidth:
		if container.W > 0 && intrinsic.W > 0 {
			scale = math.Max(MinScale, container.W/intrinsic.W)
		}
	case FitPage:
		if !container.Empty() && !intrinsic.Empty() {
			scale = math.Max(MinScale, math.Min(container.W/intrinsic.W, container.H/intrinsic.H))
		}
	default:
		scale = clamp(policy.Zoom, MinScale, MaxScale)
	}
	return Viewport{
		Scale:  scale,
		Width:  intrinsic.W * scale,
		Height: intrinsic.H * scale,
	}
}

// Available removes the container padding from a measured container size.
func Available(container geom.Size) geom.Size {
	return container.Inset(ContainerPadding)
}

// WaitForLayout polls probe once per frame until both dimensions exceed
// MinLayoutSize or deadline elapses. The last measured size is returned in
// either case, so callers proceed with degraded dimensions rather than fail.
func WaitForLayout(ctx context.Context, probe func() geom.Size, deadline time.Duration) (geom.Size, error) {
	if deadline <= 0 {
		deadline = LayoutDeadline
	}
	size := probe()
	if laidOut(size) {
		return size, nil
	}
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return size, ctx.Err()
		case <-timer.C:
			return size, nil
		case <-ticker.C:
			size = probe()
			if laidOut(size) {
				return size, nil
			}
		}
	}
}

func laidOut(s geom.Size) bool {
	return s.W > MinLayoutSize && s.H > MinLayoutSize
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
