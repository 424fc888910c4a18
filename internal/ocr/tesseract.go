package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"

	"github.com/otiai10/gosseract/v2"

	"github.com/syzsky/autodoor/internal/prioritylock"
)

// Tesseract is a Recognizer backed by one gosseract client. The client is
// not safe for concurrent use, so calls take turns in Options.Priority order.
type Tesseract struct {
	lock   *prioritylock.Lock
	client *gosseract.Client
}

// NewTesseract creates a tesseract-backed recognizer.
func NewTesseract() *Tesseract {
	return &Tesseract{lock: prioritylock.New(), client: gosseract.NewClient()}
}

// Close releases the engine once pending recognitions have finished.
func (t *Tesseract) Close() error {
	var err error
	t.exclusive(math.MinInt, func() { err = t.client.Close() })
	return err
}

// exclusive runs fn with sole use of the client.
func (t *Tesseract) exclusive(priority int, fn func()) {
	t.lock.Do(priority, fn)
}

// Text recognizes all text in img.
func (t *Tesseract) Text(ctx context.Context, img image.Image, opts Options) (string, error) {
	var text string
	err := t.with(ctx, img, opts, func() error {
		var err error
		text, err = t.client.Text()
		return err
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// Words recognizes img at word level.
func (t *Tesseract) Words(ctx context.Context, img image.Image, opts Options) ([]Word, error) {
	var words []Word
	err := t.with(ctx, img, opts, func() error {
		boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_WORD)
		if err != nil {
			return err
		}
		words = make([]Word, 0, len(boxes))
		for _, b := range boxes {
			words = append(words, Word{Text: b.Word, Box: b.Box, Confidence: b.Confidence})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return words, nil
}

func (t *Tesseract) with(ctx context.Context, img image.Image, opts Options, fn func() error) error {
	if empty(img) {
		return ErrEmptyImage
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("ocr: encode image: %w", err)
	}

	var err error
	t.exclusive(opts.Priority, func() {
		if err = t.configure(opts); err != nil {
			return
		}
		if err = t.client.SetImageFromBytes(buf.Bytes()); err != nil {
			err = fmt.Errorf("ocr: set image: %w", err)
			return
		}
		if err = fn(); err != nil {
			err = fmt.Errorf("ocr: recognize: %w", err)
		}
	})
	return err
}

func (t *Tesseract) configure(opts Options) error {
	language := opts.Language
	if language == "" {
		language = "eng"
	}
	if err := t.client.SetLanguage(language); err != nil {
		return fmt.Errorf("ocr: set language %q: %w", language, err)
	}

	psm := gosseract.PSM_SINGLE_BLOCK
	if opts.PageSegMode == PSMSingleLine {
		psm = gosseract.PSM_SINGLE_LINE
	}
	if err := t.client.SetPageSegMode(psm); err != nil {
		return fmt.Errorf("ocr: set page segmentation mode: %w", err)
	}

	// An empty whitelist clears the previous call's restriction.
	if err := t.client.SetVariable("tessedit_char_whitelist", opts.Whitelist); err != nil {
		return fmt.Errorf("ocr: set whitelist: %w", err)
	}
	return nil
}
