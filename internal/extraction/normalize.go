package extraction

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Normalize prepares an image for text recognition: grayscale, upscale to
// the minimum working width, contrast boost, light smoothing, then Otsu
// binarization. Warehouse tags print dark text on strongly colored stock;
// a global threshold over the boosted grayscale recovers it better than
// recognizing the color image directly.
func Normalize(img image.Image, minWidth int) *image.Gray {
	gray := imaging.Grayscale(img)

	if gray.Bounds().Dx() < minWidth {
		gray = imaging.Resize(gray, minWidth, 0, imaging.CatmullRom)
	}

	gray = imaging.AdjustSigmoid(gray, 0.5, 6.0)
	gray = imaging.Blur(gray, 0.6)

	return binarizeOtsu(toGray(gray))
}

// toGray converts the NRGBA the imaging package works in back to Gray.
func toGray(img *image.NRGBA) *image.Gray {
	bounds := img.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return out
}

// binarizeOtsu thresholds a grayscale image at the level that maximizes
// between-class variance over its histogram.
func binarizeOtsu(img *image.Gray) *image.Gray {
	bounds := img.Bounds()

	var hist [256]int
	total := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			hist[img.GrayAt(x, y).Y]++
			total++
		}
	}
	if total == 0 {
		return img
	}

	var sum float64
	for i, count := range hist {
		sum += float64(i) * float64(count)
	}

	var sumBack, weightBack float64
	var maxVariance float64
	threshold := 0
	for i, count := range hist {
		weightBack += float64(count)
		if weightBack == 0 {
			continue
		}
		weightFore := float64(total) - weightBack
		if weightFore == 0 {
			break
		}
		sumBack += float64(i) * float64(count)
		meanBack := sumBack / weightBack
		meanFore := (sum - sumBack) / weightFore
		variance := weightBack * weightFore * (meanBack - meanFore) * (meanBack - meanFore)
		if variance > maxVariance {
			maxVariance = variance
			threshold = i
		}
	}

	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if int(img.GrayAt(x, y).Y) > threshold {
				out.SetGray(x, y, color.Gray{Y: 255})
			} else {
				out.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}
	return out
}
