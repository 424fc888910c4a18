package ocr

import (
	"fmt"
	"image"

	"github.com/corona10/goimagehash"
	"github.com/nfnt/resize"
	"gocv.io/x/gocv"
)

// Fixed preprocessing parameters.
const (
	ContrastFactor  = 1.5
	BinaryThreshold = 128

	hashWidth = 64
)

// sharpenKernel is the classic 3x3 sharpen filter (weights sum to 1).
var sharpenKernel = [3][3]float32{
	{-2.0 / 16, -2.0 / 16, -2.0 / 16},
	{-2.0 / 16, 32.0 / 16, -2.0 / 16},
	{-2.0 / 16, -2.0 / 16, -2.0 / 16},
}

// Preprocess prepares a crop for text recognition: grayscale, contrast
// stretched by ContrastFactor around the mean, sharpened, then binarized at
// BinaryThreshold. The output has the same size as the input.
func Preprocess(img image.Image) (image.Image, error) {
	if empty(img) {
		return nil, ErrEmptyImage
	}

	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("preprocess: to mat: %w", err)
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)

	// out = mean + f*(p - mean) = f*p + (1-f)*mean
	mean := gray.Mean().Val1
	contrasted := gocv.NewMat()
	defer contrasted.Close()
	gray.ConvertToWithParams(&contrasted, gocv.MatTypeCV8U, ContrastFactor, float32((1-ContrastFactor)*mean))

	kernel := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV32F)
	defer kernel.Close()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			kernel.SetFloatAt(r, c, sharpenKernel[r][c])
		}
	}
	sharp := gocv.NewMat()
	defer sharp.Close()
	gocv.Filter2D(contrasted, &sharp, -1, kernel, image.Pt(-1, -1), 0, gocv.BorderReplicate)

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(sharp, &binary, BinaryThreshold, 255, gocv.ThresholdBinary)

	out, err := binary.ToImage()
	if err != nil {
		return nil, fmt.Errorf("preprocess: to image: %w", err)
	}
	return out, nil
}

// AverageHash returns the perceptual average hash of img after scaling it
// down to a fixed width.
func AverageHash(img image.Image) (uint64, error) {
	if empty(img) {
		return 0, ErrEmptyImage
	}
	small := resize.Resize(hashWidth, 0, img, resize.Bilinear)
	h, err := goimagehash.AverageHash(small)
	if err != nil {
		return 0, fmt.Errorf("average hash: %w", err)
	}
	return h.GetHash(), nil
}
