package ocr

import (
	"context"
	"strings"
	"testing"
)

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t640\t480\t-1\t\n" +
	"2\t1\t1\t0\t0\t0\t40\t30\t300\t120\t-1\t\n" +
	"4\t1\t1\t1\t1\t0\t40\t30\t300\t50\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t40\t30\t40\t50\t96.1\t2\n" +
	"5\t1\t1\t1\t1\t2\t90\t32\t60\t48\t95.5\tHOUR\n" +
	"5\t1\t1\t1\t1\t3\t160\t31\t180\t49\t93.0\tPARKING\n" +
	"4\t1\t1\t1\t2\t0\t50\t100\t260\t40\t-1\t\n" +
	"5\t1\t1\t1\t2\t1\t50\t100\t120\t40\t91.2\t9AM-6PM\n" +
	"5\t1\t1\t1\t2\t2\t180\t100\t130\t40\t89.0\tMON-SAT\n" +
	"5\t1\t1\t1\t2\t3\t320\t100\t10\t40\t10.0\t \n" +
	"2\t1\t2\t0\t0\t0\t60\t300\t200\t40\t-1\t\n" +
	"5\t1\t2\t1\t1\t1\t60\t300\t200\t40\t88.0\tTOW-AWAY"

func TestParseTSV(t *testing.T) {
	lines, err := ParseTSV(sampleTSV)
	if err != nil {
		t.Fatalf("ParseTSV() error: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %+v", len(lines), lines)
	}

	want := []string{"2 HOUR PARKING", "9AM-6PM MON-SAT", "TOW-AWAY"}
	for i, w := range want {
		if lines[i].Text != w {
			t.Errorf("line %d: got %q, want %q", i, lines[i].Text, w)
		}
	}

	first := lines[0]
	if first.Left != 40 || first.Top != 30 || first.Width != 300 || first.Height != 50 {
		t.Errorf("line 0 bounds: got left=%d top=%d w=%d h=%d", first.Left, first.Top, first.Width, first.Height)
	}
	if first.Confidence < 94 || first.Confidence > 95 {
		t.Errorf("line 0 confidence: got %.2f, want mean of word confidences", first.Confidence)
	}
	if lines[2].Top != 300 {
		t.Errorf("line 2 top: got %d, want 300", lines[2].Top)
	}
}

func TestParseTSV_Empty(t *testing.T) {
	lines, err := ParseTSV("level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n")
	if err != nil {
		t.Fatalf("ParseTSV() error: %v", err)
	}
	if len(lines) != 0 {
		t.Errorf("expected no lines, got %+v", lines)
	}
}

func TestParseTSV_Malformed(t *testing.T) {
	_, err := ParseTSV("5\t1\tx\t1\t1\t1\t0\t0\t1\t1\t90\tword")
	if err == nil || !strings.Contains(err.Error(), "malformed") {
		t.Errorf("expected malformed row error, got %v", err)
	}
}

func TestTesseractMissingBinary(t *testing.T) {
	tess := NewTesseract(TesseractConfig{Binary: "/nonexistent/tesseract-for-test"})
	if tess.Available() {
		t.Fatal("Available() = true for a missing binary")
	}
	if _, err := tess.Recognize(context.Background(), []byte("img")); err == nil {
		t.Fatal("expected error running a missing binary")
	}
}

func TestFromNameUnknown(t *testing.T) {
	if _, err := FromName("vision-kit"); err == nil {
		t.Fatal("expected error for unsupported engine")
	}
}
