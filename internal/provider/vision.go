package provider

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/timvw/park-patrol/internal/llm"
	"github.com/timvw/park-patrol/internal/model"
	"github.com/timvw/park-patrol/internal/normalize"
	"github.com/timvw/park-patrol/internal/ocr"
)

// LocalVision reads signs with an on-device OCR engine.
type LocalVision struct {
	rec ocr.Recognizer
}

// NewLocalVision returns a vision provider backed by rec. A nil rec yields a
// provider whose every call fails with model.ErrProviderUnavailable.
func NewLocalVision(rec ocr.Recognizer) *LocalVision {
	return &LocalVision{rec: rec}
}

func (v *LocalVision) Kind() model.Selector { return model.SelectorLocal }

func (v *LocalVision) Name() string {
	if v.rec == nil {
		return "local/none"
	}
	return "local/" + v.rec.Name()
}

// Extract recognizes text lines and joins them in reading order. Confidence
// is always high: the engine does not hallucinate text it did not see.
func (v *LocalVision) Extract(ctx context.Context, image []byte) (model.SignExtraction, error) {
	if _, err := checkImage(image); err != nil {
		return model.SignExtraction{}, err
	}
	if v.rec == nil {
		return model.SignExtraction{}, &model.Error{Op: "local vision", Err: model.ErrProviderUnavailable, Detail: "no OCR engine configured"}
	}

	lines, err := v.rec.Recognize(ctx, image)
	if err != nil {
		if ctx.Err() != nil {
			return model.SignExtraction{}, ctx.Err()
		}
		return model.SignExtraction{}, &model.Error{Op: "local vision", Err: model.ErrProviderUnavailable, Cause: err}
	}

	var texts []string
	for _, l := range readingOrder(lines) {
		if t := strings.TrimSpace(l.Text); t != "" {
			texts = append(texts, t)
		}
	}
	if len(texts) == 0 {
		return model.SignExtraction{}, &model.Error{Op: "local vision", Err: model.ErrNoTextFound}
	}
	return model.SignExtraction{Text: strings.Join(texts, "\n"), Confidence: model.ConfidenceHigh}, nil
}

// readingOrder sorts lines top-to-bottom, then left-to-right within a row.
// A line belongs to the current row when its top edge lies above the row's
// vertical midpoint.
func readingOrder(lines []ocr.Line) []ocr.Line {
	sorted := append([]ocr.Line(nil), lines...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Top < sorted[j].Top })

	var out, row []ocr.Line
	rowMid := 0
	flush := func() {
		sort.SliceStable(row, func(i, j int) bool { return row[i].Left < row[j].Left })
		out = append(out, row...)
		row = row[:0]
	}
	for _, l := range sorted {
		if len(row) > 0 && l.Top >= rowMid {
			flush()
		}
		if len(row) == 0 {
			rowMid = l.Top + max(l.Height, 1)/2
		}
		row = append(row, l)
	}
	flush()
	return out
}

// RemoteVision reads signs with a multimodal chat model.
type RemoteVision struct {
	client llm.Client
	usage  UsageReporter
}

func NewRemoteVision(client llm.Client, usage UsageReporter) *RemoteVision {
	return &RemoteVision{client: client, usage: usage}
}

func (v *RemoteVision) Kind() model.Selector { return model.SelectorRemote }

func (v *RemoteVision) Name() string { return v.client.Provider() + "/" + v.client.Model() }

// Extract sends the image as a JPEG data URI with the transcription
// instructions in a single request.
func (v *RemoteVision) Extract(ctx context.Context, image []byte) (model.SignExtraction, error) {
	jpg, err := toJPEG(image)
	if err != nil {
		return model.SignExtraction{}, err
	}

	resp, err := v.client.Complete(ctx, llm.Request{
		Prompt: VisionPrompt,
		Image:  &llm.Image{MIMEType: "image/jpeg", Data: jpg},
	})
	if err != nil {
		return model.SignExtraction{}, wrapOp("remote vision", err)
	}
	if v.usage != nil {
		v.usage(ctx, v.client.Provider(), resp.Model, resp.Usage)
	}
	return normalize.DecodeExtraction(resp.Text)
}

// wrapOp prefixes a classified error's operation, leaving its code intact.
func wrapOp(op string, err error) error {
	var merr *model.Error
	if errors.As(err, &merr) {
		cp := *merr
		cp.Op = op + ": " + merr.Op
		return &cp
	}
	return err
}
