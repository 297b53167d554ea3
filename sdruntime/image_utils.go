package sdruntime

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	ErrImageEmpty      = errors.New("sdruntime: image data is empty")
	ErrImageDecodeFail = errors.New("sdruntime: failed to decode image")
	ErrImageTooLarge   = errors.New("sdruntime: image dimensions exceed limit")
)

// MaxImagePixels caps the area of decoded images. Upload limits bound bytes
// only, and a small compressed file can declare huge dimensions.
const MaxImagePixels = 4096 * 4096

// checkDimensions reads the image header and rejects oversized images
// before any pixel buffer is allocated.
func checkDimensions(data []byte) error {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrImageDecodeFail, err)
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > MaxImagePixels {
		return fmt.Errorf("%w: %s image is %dx%d, maximum %d pixels",
			ErrImageTooLarge, format, cfg.Width, cfg.Height, MaxImagePixels)
	}
	return nil
}

var pngMagic = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// IsPNG checks the PNG signature.
func IsPNG(data []byte) bool {
	return bytes.HasPrefix(data, pngMagic)
}

// DecodeImage decodes PNG, JPEG, GIF, BMP, TIFF or WebP data into RGBA.
func DecodeImage(data []byte) (*image.RGBA, error) {
	if len(data) == 0 {
		return nil, ErrImageEmpty
	}
	if err := checkDimensions(data); err != nil {
		return nil, err
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecodeFail, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: %s image has no pixels", ErrImageDecodeFail, format)
	}
	return ToRGBA(img), nil
}

// DecodeMask decodes data into a single-channel mask. White marks the area
// to repaint.
func DecodeMask(data []byte) (*image.Gray, error) {
	if len(data) == 0 {
		return nil, ErrImageEmpty
	}
	if err := checkDimensions(data); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecodeFail, err)
	}
	return ToGray(img), nil
}

// ToRGBA copies img into a new RGBA image anchored at the origin.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// ToGray converts img to 8-bit luminance anchored at the origin.
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.SetGray(x, y, color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray))
		}
	}
	return out
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("sdruntime: encode png: %w", err)
	}
	return buf.Bytes(), nil
}
