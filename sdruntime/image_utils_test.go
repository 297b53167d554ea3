package sdruntime

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

func TestIsPNG(t *testing.T) {
	png, _ := EncodePNG(solidImage(2, 2, color.White))
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"png", png, true},
		{"empty", nil, false},
		{"jpeg magic", []byte{0xFF, 0xD8, 0xFF, 0xE0}, false},
		{"truncated", png[:4], false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPNG(tt.data); got != tt.want {
				t.Errorf("IsPNG() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecodeImage(t *testing.T) {
	png, _ := EncodePNG(solidImage(6, 3, color.RGBA{R: 200, A: 255}))
	var jpg bytes.Buffer
	if err := jpeg.Encode(&jpg, solidImage(5, 5, color.White), nil); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		data    []byte
		wantW   int
		wantErr error
	}{
		{"png", png, 6, nil},
		{"jpeg", jpg.Bytes(), 5, nil},
		{"empty", nil, 0, ErrImageEmpty},
		{"garbage", []byte("not an image"), 0, ErrImageDecodeFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := DecodeImage(tt.data)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("DecodeImage() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeImage() error = %v", err)
			}
			if img.Bounds().Dx() != tt.wantW {
				t.Errorf("width = %d, want %d", img.Bounds().Dx(), tt.wantW)
			}
		})
	}
}

func TestDecodeMask(t *testing.T) {
	png, _ := EncodePNG(solidImage(3, 3, color.White))
	mask, err := DecodeMask(png)
	if err != nil {
		t.Fatalf("DecodeMask() error = %v", err)
	}
	if got := mask.GrayAt(1, 1).Y; got != 255 {
		t.Errorf("mask value = %d, want 255", got)
	}
	if _, err := DecodeMask(nil); !errors.Is(err, ErrImageEmpty) {
		t.Errorf("DecodeMask(nil) error = %v, want ErrImageEmpty", err)
	}
}

func TestToRGBA_RebasesOrigin(t *testing.T) {
	src := image.NewRGBA(image.Rect(10, 10, 14, 12))
	src.SetRGBA(10, 10, color.RGBA{G: 9, A: 255})

	out := ToRGBA(src)
	if out.Bounds() != image.Rect(0, 0, 4, 2) {
		t.Errorf("bounds = %v, want (0,0)-(4,2)", out.Bounds())
	}
	if got := out.RGBAAt(0, 0); got.G != 9 {
		t.Errorf("pixel = %v, want G=9", got)
	}
	out.SetRGBA(0, 0, color.RGBA{})
	if src.RGBAAt(10, 10).G != 9 {
		t.Error("ToRGBA shares memory with its input")
	}
}

// pngWithDimensions returns a tiny PNG whose header claims w x h pixels.
func pngWithDimensions(t *testing.T, w, h uint32) []byte {
	t.Helper()
	data, err := EncodePNG(solidImage(1, 1, color.White))
	if err != nil {
		t.Fatal(err)
	}
	// IHDR: length at 8, type at 12, width at 16, height at 20, CRC at 29.
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestDecodeImage_RejectsOversizedHeader(t *testing.T) {
	huge := pngWithDimensions(t, 50000, 50000)

	if _, err := DecodeImage(huge); !errors.Is(err, ErrImageTooLarge) {
		t.Errorf("DecodeImage() error = %v, want ErrImageTooLarge", err)
	}
	if _, err := DecodeMask(huge); !errors.Is(err, ErrImageTooLarge) {
		t.Errorf("DecodeMask() error = %v, want ErrImageTooLarge", err)
	}
}

func TestCheckDimensions(t *testing.T) {
	tests := []struct {
		name    string
		w, h    uint32
		wantErr bool
	}{
		{"small", 64, 64, false},
		{"at limit", 4096, 4096, false},
		{"wide", 65536, 257, true},
		{"above limit", 4097, 4096, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkDimensions(pngWithDimensions(t, tt.w, tt.h))
			if (err != nil) != tt.wantErr {
				t.Errorf("checkDimensions(%dx%d) error = %v, wantErr %v", tt.w, tt.h, err, tt.wantErr)
			}
		})
	}
}
