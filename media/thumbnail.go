// Package media renders on-demand page thumbnails for the download/preview
// service (C9). Everything here operates on in-memory byte buffers — the
// object store is the only durable storage, so there is never a local
// file path to resize from.
package media

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/nfnt/resize"
	"github.com/rwcarlsen/goexif/exif"
)

// Orientation classifies a decoded image's true orientation, correcting
// for the EXIF tag when present.
type Orientation int

const (
	OrientationUnknown Orientation = iota
	OrientationPortrait
	OrientationLandscape
	OrientationSquare
)

// Info describes a decoded image ahead of resizing.
type Info struct {
	Width           int
	Height          int
	Orientation     Orientation
	EXIFOrientation int
	Format          string
}

// Inspect decodes content's dimensions and, where present, its EXIF
// orientation tag, without fully decoding pixel data twice.
func Inspect(content []byte) (Info, error) {
	config, format, err := image.DecodeConfig(bytes.NewReader(content))
	if err != nil {
		return Info{}, err
	}
	info := Info{Width: config.Width, Height: config.Height, Format: format}
	info.Orientation = dimensionOrientation(config.Width, config.Height)

	exifData, err := exif.Decode(bytes.NewReader(content))
	if err != nil {
		return info, nil // no EXIF data; dimension-based orientation stands
	}
	tag, err := exifData.Get(exif.Orientation)
	if err != nil {
		return info, nil
	}
	val, err := tag.Int(0)
	if err != nil {
		return info, nil
	}
	info.EXIFOrientation = val
	if val >= 5 && val <= 8 {
		// Rotated 90 degrees: width/height are swapped relative to storage.
		info.Orientation = dimensionOrientation(config.Height, config.Width)
	}
	return info, nil
}

func dimensionOrientation(width, height int) Orientation {
	switch {
	case width > height:
		return OrientationLandscape
	case height > width:
		return OrientationPortrait
	default:
		return OrientationSquare
	}
}

// Thumbnail resizes content to maxWidth (preserving aspect ratio) using the
// Lanczos3 filter, returning the re-encoded bytes in the source format.
// Used by the download/preview service when no worker-produced page image
// exists for a task (§4.9 / §4.10's "on-demand thumbnailing" fallback).
func Thumbnail(content []byte, maxWidth uint) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	if maxWidth == 0 {
		return nil, errors.New("media: maxWidth must be greater than 0")
	}

	bounds := img.Bounds()
	if uint(bounds.Dx()) <= maxWidth {
		return content, nil // already small enough, avoid a lossy re-encode
	}

	resized := resize.Resize(maxWidth, 0, img, resize.Lanczos3)

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 90})
	case "png":
		err = png.Encode(&buf, resized)
	default:
		return nil, errors.New("media: unsupported thumbnail source format: " + format)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
