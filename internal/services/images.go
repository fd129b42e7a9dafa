package services

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/ana-joker/FULLSTUDY/internal/models"
)

// maxImageSide bounds the longer edge of images sent to the generation service.
const maxImageSide = 2048

// prepareImage checks that the attachment decodes and downscales oversized
// images. The returned attachment is a new value.
func prepareImage(att *models.Attachment) (*models.Attachment, error) {
	if att == nil {
		return nil, nil
	}
	img, err := imaging.Decode(bytes.NewReader(att.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	out := att.Clone()
	bounds := img.Bounds()
	if bounds.Dx() <= maxImageSide && bounds.Dy() <= maxImageSide {
		return out, nil
	}

	format := imaging.JPEG
	mimeType := "image/jpeg"
	if strings.EqualFold(att.MimeType, "image/png") {
		format = imaging.PNG
		mimeType = "image/png"
	}

	var buf bytes.Buffer
	resized := imaging.Fit(img, maxImageSide, maxImageSide, imaging.Lanczos)
	if err := imaging.Encode(&buf, resized, format); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	out.Data = buf.Bytes()
	out.MimeType = mimeType
	return out, nil
}

// imageDecodes reports whether data is a readable image.
func imageDecodes(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	_, err := imaging.Decode(bytes.NewReader(data))
	return err == nil
}
