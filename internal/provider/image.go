package provider

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/timvw/park-patrol/internal/model"
)

// jpegQuality balances legibility of small sign text against upload size.
const jpegQuality = 80

// checkImage verifies that data is a decodable image and returns its format.
func checkImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", &model.Error{Op: "decode image", Err: model.ErrInvalidImage, Detail: "empty image"}
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", &model.Error{Op: "decode image", Err: model.ErrInvalidImage, Cause: err}
	}
	return format, nil
}

// toJPEG decodes data and re-encodes it as a JPEG at jpegQuality.
func toJPEG(data []byte) ([]byte, error) {
	if _, err := checkImage(data); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &model.Error{Op: "decode image", Err: model.ErrInvalidImage, Cause: err}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, &model.Error{Op: "encode jpeg", Err: model.ErrInvalidImage, Cause: err}
	}
	return buf.Bytes(), nil
}
