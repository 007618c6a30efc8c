package capture

import (
	"context"
	"image"

	"github.com/disintegration/gift"
	"github.com/spieswl/webrtc-perception/raster"
)

// Resize scales every frame of a Source to a fixed size
type Resize struct {
	Source Source
	Width  int
	Height int
}

// Capture grabs a frame from the wrapped source and resamples it.  Frames
// already at the target size pass through untouched.
func (r Resize) Capture(ctx context.Context) (*raster.PixelBuffer, error) {
	buf, err := r.Source.Capture(ctx)
	if err != nil {
		return nil, err
	}
	if buf.Width == r.Width && buf.Height == r.Height {
		return buf, nil
	}
	g := gift.New(gift.Resize(r.Width, r.Height, gift.LinearResampling))
	dst := image.NewRGBA(g.Bounds(image.Rect(0, 0, buf.Width, buf.Height)))
	g.Draw(dst, buf.ToImage())
	return raster.FromImage(dst)
}
