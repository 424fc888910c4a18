// Package ocr wraps the tesseract engine and the image preparation shared by
// the text and number modules.
package ocr

import (
	"context"
	"errors"
	"image"
)

// ErrEmptyImage is returned for nil or zero-sized input.
var ErrEmptyImage = errors.New("ocr: empty image")

// Page segmentation modes used by the modules.
const (
	PSMSingleBlock = 6
	PSMSingleLine  = 7
)

// NumberWhitelist restricts recognition to "current/max" readouts.
const NumberWhitelist = "0123456789/"

// Options select language, segmentation and an optional whitelist.
// Priority orders callers sharing one engine, highest first.
type Options struct {
	Language    string
	PageSegMode int
	Whitelist   string
	Priority    int
}

// GeneralText is the keyword-module preset.
func GeneralText(language string, priority int) Options {
	if language == "" {
		language = "eng"
	}
	return Options{Language: language, PageSegMode: PSMSingleBlock, Priority: priority}
}

// NumericLine is the number-module preset.
func NumericLine(priority int) Options {
	return Options{Language: "eng", PageSegMode: PSMSingleLine, Whitelist: NumberWhitelist, Priority: priority}
}

// Word is one recognized word with its box relative to the input image.
type Word struct {
	Text       string
	Box        image.Rectangle
	Confidence float64
}

// Recognizer turns images into text.
type Recognizer interface {
	Text(ctx context.Context, img image.Image, opts Options) (string, error)
	Words(ctx context.Context, img image.Image, opts Options) ([]Word, error)
}

func empty(img image.Image) bool {
	return img == nil || img.Bounds().Empty()
}
