package effects

import (
	"image"
	"math"
	"time"
)

// ApplyGlitch runs the pixel-level pass: horizontal slice displacement,
// RGB channel shift, then color-multiply tint. The displacement pattern is a
// function of now's time bucket and the slice index only, so equal
// timestamps produce equal frames.
func (p *Processor) ApplyGlitch(frame *image.RGBA, params Params, now time.Time) {
	if params.Glitch > threshold {
		p.displaceSlices(frame, params.Glitch, now)
	}
	if params.RGBShift > threshold {
		p.shiftChannels(frame, params.RGBShift)
	}
	if params.RGBMultiply > threshold {
		multiply(frame, params)
	}
}

func (p *Processor) displaceSlices(frame *image.RGBA, amount float64, now time.Time) {
	b := frame.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return
	}

	src := p.scratchFor(frame)
	copyFrame(src, frame)

	bucket := uint64(now.UnixNano() / int64(glitchBucket))
	sliceHeight := (h + glitchSlices - 1) / glitchSlices

	for s := 0; s < glitchSlices; s++ {
		// Higher amounts displace more slices, further.
		if unitHash(bucket, uint64(s), 0) >= amount {
			continue
		}
		offset := int(math.Round((unitHash(bucket, uint64(s), 1)*2 - 1) * amount * glitchMaxShift * float64(w)))
		if offset == 0 {
			continue
		}

		for y := s * sliceHeight; y < (s+1)*sliceHeight && y < h; y++ {
			row := frame.PixOffset(b.Min.X, b.Min.Y+y)
			srcRow := src.PixOffset(b.Min.X, b.Min.Y+y)
			for x := 0; x < w; x++ {
				sx := ((x-offset)%w + w) % w
				copy(frame.Pix[row+x*4:row+x*4+4], src.Pix[srcRow+sx*4:srcRow+sx*4+4])
			}
		}
	}
}

func (p *Processor) shiftChannels(frame *image.RGBA, amount float64) {
	shift := int(math.Round(amount * rgbShiftMaxPixel))
	if shift == 0 {
		return
	}

	src := p.scratchFor(frame)
	copyFrame(src, frame)

	b := frame.Bounds()
	w := b.Dx()
	for y := 0; y < b.Dy(); y++ {
		row := frame.PixOffset(b.Min.X, b.Min.Y+y)
		srcRow := src.PixOffset(b.Min.X, b.Min.Y+y)
		for x := 0; x < w; x++ {
			i := row + x*4
			frame.Pix[i] = src.Pix[srcRow+clampInt(x-shift, 0, w-1)*4]
			frame.Pix[i+2] = src.Pix[srcRow+clampInt(x+shift, 0, w-1)*4+2]
		}
	}
}

func multiply(frame *image.RGBA, params Params) {
	c := params.RGBMultiplyColor
	a := params.RGBMultiply
	tint := [3]float64{
		mix(1, float64(c.R)/255, a),
		mix(1, float64(c.G)/255, a),
		mix(1, float64(c.B)/255, a),
	}

	b := frame.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := frame.PixOffset(b.Min.X, y)
		for x := 0; x < b.Dx(); x++ {
			i := row + x*4
			for ch := 0; ch < 3; ch++ {
				frame.Pix[i+ch] = toByte(float64(frame.Pix[i+ch]) / 255 * tint[ch])
			}
		}
	}
}

// copyFrame copies src into dst row by row; both share the same bounds.
func copyFrame(dst, src *image.RGBA) {
	b := src.Bounds()
	n := b.Dx() * 4
	for y := b.Min.Y; y < b.Max.Y; y++ {
		d := dst.PixOffset(b.Min.X, y)
		s := src.PixOffset(b.Min.X, y)
		copy(dst.Pix[d:d+n], src.Pix[s:s+n])
	}
}

// unitHash maps its inputs to [0, 1) with a splitmix64 finalizer.
func unitHash(a, b, c uint64) float64 {
	z := a*0x9e3779b97f4a7c15 + b*0xbf58476d1ce4e5b9 + c*0x94d049bb133111eb + 1
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	z ^= z >> 31
	return float64(z>>11) / float64(1<<53)
}
