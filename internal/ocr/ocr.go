// Package ocr wraps on-device text recognition engines.
//
// This package is pure transport: it returns the text lines an engine
// observed, with their positions, and leaves ordering and interpretation to
// the caller.
package ocr

import (
	"context"
	"fmt"
	"os/exec"
)

// Line is one recognized line of text in image pixel coordinates.
type Line struct {
	Text       string
	Left       int
	Top        int
	Width      int
	Height     int
	Confidence float64 // 0-100, mean of word confidences
}

// Recognizer extracts text lines from an encoded image.
type Recognizer interface {
	// Name returns the engine name (e.g., "tesseract").
	Name() string

	// Recognize returns the lines found in image, in engine order.
	Recognize(ctx context.Context, image []byte) ([]Line, error)
}

// Detect returns the first engine installed on this machine.
func Detect() (Recognizer, error) {
	if path, err := exec.LookPath("tesseract"); err == nil && path != "" {
		return NewTesseract(TesseractConfig{Binary: path}), nil
	}
	return nil, fmt.Errorf("no supported OCR engine detected (install tesseract)")
}

// FromName creates a Recognizer by name.
func FromName(name string) (Recognizer, error) {
	switch name {
	case "", "auto":
		return Detect()
	case "tesseract":
		t := NewTesseract(TesseractConfig{})
		if !t.Available() {
			return nil, fmt.Errorf("tesseract binary not found in PATH")
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unsupported OCR engine %q (supported: tesseract)", name)
	}
}
