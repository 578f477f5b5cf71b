// Package screen grabs the local display and streams it as JPEG frames
// over WebRTC data channels.
package screen

import (
	"errors"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
	xdraw "golang.org/x/image/draw"
)

var ErrNoDisplay = errors.New("display not available")

// DisplayInfo describes one attached display.
type DisplayInfo struct {
	Index  int
	Bounds image.Rectangle
	Label  string
}

// Capture grabs one display, optionally cropped and scaled.
type Capture struct {
	screenIndex int
	region      *image.Rectangle
	width       int
	height      int
}

func NewCapture(index int) *Capture {
	return &Capture{screenIndex: index}
}

// SetRegion crops to region, relative to the display's top-left corner.
// nil captures the whole display.
func (c *Capture) SetRegion(region *image.Rectangle) {
	c.region = region
}

// SetSize scales every frame to width x height. Zero keeps the native size.
func (c *Capture) SetSize(width, height int) {
	c.width = max(width, 0)
	c.height = max(height, 0)
}

func ListDisplays() []DisplayInfo {
	n := screenshot.NumActiveDisplays()
	out := make([]DisplayInfo, 0, n)
	for i := 0; i < n; i++ {
		b := screenshot.GetDisplayBounds(i)
		out = append(out, DisplayInfo{
			Index:  i,
			Bounds: b,
			Label:  displayLabel(i, b),
		})
	}
	return out
}

// Grab captures the current frame. It has the shape FrameSource expects.
func (c *Capture) Grab() (image.Image, error) {
	if c.screenIndex < 0 || c.screenIndex >= screenshot.NumActiveDisplays() {
		return nil, fmt.Errorf("%w: index %d", ErrNoDisplay, c.screenIndex)
	}
	bounds := screenshot.GetDisplayBounds(c.screenIndex)
	target, err := cropTo(bounds, c.region)
	if err != nil {
		return nil, err
	}

	img, err := screenshot.CaptureRect(target)
	if err != nil {
		return nil, fmt.Errorf("capture display %d: %w", c.screenIndex, err)
	}
	return Scale(img, c.width, c.height), nil
}

func cropTo(bounds image.Rectangle, region *image.Rectangle) (image.Rectangle, error) {
	if region == nil {
		return bounds, nil
	}
	crop := region.Add(bounds.Min).Intersect(bounds)
	if crop.Empty() {
		return image.Rectangle{}, fmt.Errorf("capture region %v outside display %v", *region, bounds)
	}
	return crop, nil
}

// Scale resizes src to width x height. A non-positive dimension returns src.
func Scale(src image.Image, width, height int) image.Image {
	if width <= 0 || height <= 0 {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}

func displayLabel(index int, bounds image.Rectangle) string {
	return fmt.Sprintf("Display %d (%dx%d)", index, bounds.Dx(), bounds.Dy())
}
