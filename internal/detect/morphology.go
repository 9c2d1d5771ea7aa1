package detect

import (
	"image"
	"image/color"
)

// rethreshold re-binarizes a grayscale image in place after a blur softened
// its edges back toward 0/255, using cutoff as the midpoint.
func rethreshold(img *image.Gray, cutoff uint8) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			idx := img.PixOffset(x, y)
			if img.Pix[idx] >= cutoff {
				img.Pix[idx] = 255
			} else {
				img.Pix[idx] = 0
			}
		}
	}
}

// morphOpen erodes then dilates with a 5x5 square structuring element,
// suppressing speckle smaller than the kernel.
func morphOpen(src *image.Gray, iterations int) *image.Gray {
	img := src
	for i := 0; i < iterations; i++ {
		img = erode(img)
	}
	for i := 0; i < iterations; i++ {
		img = dilate(img)
	}
	return img
}

// morphClose dilates then erodes with a 5x5 square structuring element,
// closing small pinholes inside an otherwise solid blob.
func morphClose(src *image.Gray, iterations int) *image.Gray {
	img := src
	for i := 0; i < iterations; i++ {
		img = dilate(img)
	}
	for i := 0; i < iterations; i++ {
		img = erode(img)
	}
	return img
}

const kernelRadius = 2 // 5x5 kernel

func erode(src *image.Gray) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			allSet := true
		loop:
			for dy := -kernelRadius; dy <= kernelRadius; dy++ {
				for dx := -kernelRadius; dx <= kernelRadius; dx++ {
					nx, ny := x+dx, y+dy
					if nx < b.Min.X || nx >= b.Max.X || ny < b.Min.Y || ny >= b.Max.Y {
						allSet = false
						break loop
					}
					if src.GrayAt(nx, ny).Y == 0 {
						allSet = false
						break loop
					}
				}
			}
			if allSet {
				dst.SetGray(x, y, src.GrayAt(x, y))
			}
		}
	}
	return dst
}

func dilate(src *image.Gray) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			anySet := false
		loop:
			for dy := -kernelRadius; dy <= kernelRadius; dy++ {
				for dx := -kernelRadius; dx <= kernelRadius; dx++ {
					nx, ny := x+dx, y+dy
					if nx < b.Min.X || nx >= b.Max.X || ny < b.Min.Y || ny >= b.Max.Y {
						continue
					}
					if src.GrayAt(nx, ny).Y == 255 {
						anySet = true
						break loop
					}
				}
			}
			if anySet {
				dst.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return dst
}
