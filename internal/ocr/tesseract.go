package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

// Tesseract runs the tesseract CLI and parses its TSV output.
type Tesseract struct {
	binary   string
	language string
	psm      int
	oem      int
}

// TesseractConfig holds configuration for the tesseract engine.
type TesseractConfig struct {
	// Binary is the executable path. Defaults to "tesseract" on PATH.
	Binary string
	// Language is the traineddata to use (e.g., "eng").
	Language string
	// PageSegMode is tesseract's --psm. 3 (fully automatic) suits signs with
	// several stacked panels.
	PageSegMode int
	// EngineMode is tesseract's --oem. 1 selects the LSTM engine, the most
	// accurate one.
	EngineMode int
}

func NewTesseract(cfg TesseractConfig) *Tesseract {
	t := &Tesseract{binary: cfg.Binary, language: cfg.Language, psm: cfg.PageSegMode, oem: cfg.EngineMode}
	if t.binary == "" {
		t.binary = "tesseract"
	}
	if t.language == "" {
		t.language = "eng"
	}
	if t.psm <= 0 {
		t.psm = 3
	}
	if t.oem <= 0 {
		t.oem = 1
	}
	return t
}

// Name returns "tesseract".
func (t *Tesseract) Name() string {
	return "tesseract"
}

// Available reports whether the binary can be found.
func (t *Tesseract) Available() bool {
	_, err := exec.LookPath(t.binary)
	return err == nil
}

// Recognize pipes image through tesseract and groups the recognized words
// into lines.
func (t *Tesseract) Recognize(ctx context.Context, image []byte) ([]Line, error) {
	out, err := t.run(ctx, image,
		"stdin", "stdout",
		"-l", t.language,
		"--oem", strconv.Itoa(t.oem),
		"--psm", strconv.Itoa(t.psm),
		"tsv",
	)
	if err != nil {
		return nil, fmt.Errorf("tesseract: %w", err)
	}
	return ParseTSV(out)
}

func (t *Tesseract) run(ctx context.Context, stdin []byte, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, t.binary, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("%w: %s", err, string(exitErr.Stderr))
		}
		return "", err
	}
	return string(out), nil
}

// TSV columns as emitted by tesseract 4+.
const (
	colLevel = iota
	colPage
	colBlock
	colPar
	colLine
	colWord
	colLeft
	colTop
	colWidth
	colHeight
	colConf
	colText
	numCols
)

const levelWord = 5

type lineKey struct{ page, block, par, line int }

// ParseTSV groups word rows of tesseract TSV output into lines. Lines are
// returned in the order tesseract emitted them; empty lines are skipped.
func ParseTSV(tsv string) ([]Line, error) {
	type acc struct {
		words                    []string
		left, top, right, bottom int
		confSum                  float64
		order                    int
	}
	lines := make(map[lineKey]*acc)

	rows := strings.Split(strings.TrimRight(tsv, "\n"), "\n")
	for i, row := range rows {
		if i == 0 && strings.HasPrefix(row, "level") {
			continue
		}
		cols := strings.Split(strings.TrimRight(row, "\r"), "\t")
		if len(cols) < numCols-1 {
			continue
		}
		if len(cols) == numCols-1 {
			cols = append(cols, "")
		}
		nums := make([]int, colConf)
		bad := false
		for c := colLevel; c < colConf; c++ {
			n, err := strconv.Atoi(cols[c])
			if err != nil {
				bad = true
				break
			}
			nums[c] = n
		}
		if bad {
			return nil, fmt.Errorf("malformed TSV row %d: %q", i+1, row)
		}
		if nums[colLevel] != levelWord {
			continue
		}
		text := strings.TrimSpace(cols[colText])
		if text == "" {
			continue
		}
		conf, _ := strconv.ParseFloat(cols[colConf], 64)

		key := lineKey{nums[colPage], nums[colBlock], nums[colPar], nums[colLine]}
		a, ok := lines[key]
		if !ok {
			a = &acc{
				left: nums[colLeft], top: nums[colTop],
				right: nums[colLeft] + nums[colWidth], bottom: nums[colTop] + nums[colHeight],
				order: len(lines),
			}
			lines[key] = a
		}
		a.words = append(a.words, text)
		a.confSum += conf
		a.left = min(a.left, nums[colLeft])
		a.top = min(a.top, nums[colTop])
		a.right = max(a.right, nums[colLeft]+nums[colWidth])
		a.bottom = max(a.bottom, nums[colTop]+nums[colHeight])
	}

	accs := make([]*acc, 0, len(lines))
	for _, a := range lines {
		accs = append(accs, a)
	}
	sort.Slice(accs, func(i, j int) bool { return accs[i].order < accs[j].order })

	out := make([]Line, 0, len(accs))
	for _, a := range accs {
		out = append(out, Line{
			Text:       strings.Join(a.words, " "),
			Left:       a.left,
			Top:        a.top,
			Width:      a.right - a.left,
			Height:     a.bottom - a.top,
			Confidence: a.confSum / float64(len(a.words)),
		})
	}
	return out, nil
}
