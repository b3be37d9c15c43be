package omr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder

	"github.com/disintegration/imaging"
)

// ErrInvalidImage is returned when the uploaded bytes are empty or
// cannot be decoded as an image. It is the only fatal error the
// pipeline produces; everything else degrades to a warning.
var ErrInvalidImage = errors.New("invalid image data")

// decodeOriented decodes raw image bytes and applies the EXIF
// orientation so the returned pixels are right-side-up.
//
// EXIF parsing is independent of decoding and strictly best-effort: a
// missing or malformed orientation tag leaves the image as decoded and
// records a note on the diagnostics accumulator. Only a decode failure
// is fatal.
func decodeOriented(data []byte, diags *diagnostics) (*image.NRGBA, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidImage)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	decoded := imaging.Clone(img)

	orientation, ok := readJPEGOrientation(data)
	if !ok {
		return decoded, nil
	}
	if orientation < 1 || orientation > 8 {
		diags.notef("unsupported exif orientation %d ignored", orientation)
		return decoded, nil
	}
	if orientation != 1 {
		decoded = applyOrientation(decoded, orientation)
		diags.notef("applied exif orientation %d", orientation)
	}
	return decoded, nil
}

// applyOrientation maps the eight EXIF orientation values onto the
// flip/rotate combinations that undo them. Orientation 1 is identity.
func applyOrientation(img *image.NRGBA, orientation int) *image.NRGBA {
	switch orientation {
	case 2: // mirrored horizontal
		return imaging.FlipH(img)
	case 3: // rotated 180
		return imaging.Rotate180(img)
	case 4: // mirrored vertical
		return imaging.FlipV(img)
	case 5: // transpose
		return imaging.Transpose(img)
	case 6: // rotated 90 CW
		return imaging.Rotate270(img)
	case 7: // transverse
		return imaging.Transverse(img)
	case 8: // rotated 90 CCW
		return imaging.Rotate90(img)
	}
	return img
}

// exif tag and marker constants for the minimal orientation reader.
const (
	jpegMarkerAPP1    = 0xE1
	jpegMarkerSOS     = 0xDA
	jpegMarkerEOI     = 0xD9
	tiffTagOrientation = 0x0112
	tiffTypeShort      = 3
)

// readJPEGOrientation walks the JPEG segment stream looking for the
// APP1 EXIF block and extracts the orientation tag (1-8) from IFD0.
//
// This is a deliberately minimal reader: it only understands enough of
// the TIFF structure to find one SHORT tag, and it reports (0, false)
// on anything unexpected rather than erroring. Non-JPEG containers
// (PNG, GIF) carry no EXIF and also report absent.
func readJPEGOrientation(data []byte) (int, bool) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return 0, false
	}

	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			break
		}
		marker := data[i+1]
		i += 2

		if marker == jpegMarkerSOS || marker == jpegMarkerEOI {
			break
		}
		if i+2 > len(data) {
			break
		}
		segLen := int(binary.BigEndian.Uint16(data[i : i+2]))
		if segLen < 2 {
			break
		}
		segStart := i + 2
		segEnd := i + segLen
		if segEnd > len(data) {
			break
		}

		if marker == jpegMarkerAPP1 && segEnd-segStart >= 10 &&
			bytes.Equal(data[segStart:segStart+6], []byte("Exif\x00\x00")) {
			return readTIFFOrientation(data[segStart+6 : segEnd])
		}
		i = segEnd
	}
	return 0, false
}

// readTIFFOrientation scans IFD0 of a TIFF blob for the orientation
// tag. Both little-endian ("II") and big-endian ("MM") byte orders are
// handled.
func readTIFFOrientation(tiff []byte) (int, bool) {
	if len(tiff) < 8 {
		return 0, false
	}

	var order binary.ByteOrder
	switch {
	case tiff[0] == 'I' && tiff[1] == 'I':
		order = binary.LittleEndian
	case tiff[0] == 'M' && tiff[1] == 'M':
		order = binary.BigEndian
	default:
		return 0, false
	}

	if order.Uint16(tiff[2:4]) != 0x2A {
		return 0, false
	}

	ifdOffset := int(order.Uint32(tiff[4:8]))
	if ifdOffset+2 > len(tiff) {
		return 0, false
	}
	entries := int(order.Uint16(tiff[ifdOffset : ifdOffset+2]))
	base := ifdOffset + 2

	for n := 0; n < entries; n++ {
		off := base + n*12
		if off+12 > len(tiff) {
			break
		}
		if order.Uint16(tiff[off:off+2]) != tiffTagOrientation {
			continue
		}
		typ := order.Uint16(tiff[off+2 : off+4])
		count := order.Uint32(tiff[off+4 : off+8])
		if typ == tiffTypeShort && count == 1 {
			return int(order.Uint16(tiff[off+8 : off+10])), true
		}
		return 0, false
	}
	return 0, false
}
