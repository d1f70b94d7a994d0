package extraction

import (
	"fmt"
	"image"

	"github.com/corona10/goimagehash"
)

// Fingerprint computes the 64-bit DCT perceptual hash of an image as a
// 16-character hex string. The hash is computed on the original image, not
// the binarized working copy: it must stay stable under re-encoding while
// remaining sensitive to genuinely different photos of different tags.
func Fingerprint(img image.Image) (string, error) {
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return "", fmt.Errorf("computing perceptual hash: %w", err)
	}
	return fmt.Sprintf("%016x", hash.GetHash()), nil
}
