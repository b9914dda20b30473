package sntray

import (
	"fmt"
	"image"
)

// IconTheme resolves freedesktop icon names. Looking icons up in themes is
// left to the graphical toolkit.
type IconTheme interface {
	LookupIcon(name string) (image.Image, bool)
}

// Icon is the renderable icon of an item. Either Image or Name is set.
type Icon struct {
	// Image is the decoded pixmap or the image found in the icon theme.
	Image image.Image

	// Name is a [Freedesktop-compliant] icon name. It is set when the item
	// publishes no pixmap.
	//
	// [Freedesktop-compliant]: https://specifications.freedesktop.org/icon-naming-spec/latest/
	Name string
}

// Pixmap is a single image of an item icon.
type Pixmap struct {
	Width  int32
	Height int32
	Bytes  []byte
}

// NewPixmapFromDBus returns a new [Pixmap] from a D-Bus pixmap.
//
// Format of pixmap is as follows
//
//	[<width>, <height>, <bytes>]
//
// Where:
//   - <width>: width of the icon (int32)
//   - <height>: height of the icon (int32)
//   - <bytes>: ARGB32 pixels in network byte order ([]byte)
func NewPixmapFromDBus(pixmap any) (Pixmap, error) {
	data, ok := pixmap.([]any)
	if !ok || len(data) != 3 {
		return Pixmap{}, fmt.Errorf("invalid pixmap format: expected a slice of 3 elements")
	}

	width, ok := data[0].(int32)
	if !ok {
		return Pixmap{}, fmt.Errorf("invalid width type: expected int32")
	}

	height, ok := data[1].(int32)
	if !ok {
		return Pixmap{}, fmt.Errorf("invalid height type: expected int32")
	}

	bytes, ok := data[2].([]byte)
	if !ok {
		return Pixmap{}, fmt.Errorf("invalid bytes format: expected []byte")
	}

	return Pixmap{
		Width:  width,
		Height: height,
		Bytes:  bytes,
	}, nil
}

// pixmapsFromDBus decodes an a(iiay) value. Malformed entries are skipped.
func pixmapsFromDBus(value any) []Pixmap {
	var entries []any

	switch v := value.(type) {
	case [][]any:
		entries = make([]any, len(v))
		for i := range v {
			entries[i] = v[i]
		}
	case []any:
		entries = v
	default:
		return nil
	}

	pixmaps := make([]Pixmap, 0, len(entries))

	for _, entry := range entries {
		pixmap, err := NewPixmapFromDBus(entry)
		if err != nil {
			continue
		}

		pixmaps = append(pixmaps, pixmap)
	}

	return pixmaps
}

// largestPixmap returns the pixmap with the greatest (width, height) pair,
// comparing widths first.
func largestPixmap(pixmaps []Pixmap) (Pixmap, bool) {
	if len(pixmaps) == 0 {
		return Pixmap{}, false
	}

	best := pixmaps[0]

	for _, p := range pixmaps[1:] {
		if p.Width > best.Width || (p.Width == best.Width && p.Height > best.Height) {
			best = p
		}
	}

	return best, true
}

// argbToRGBA rotates every 4-byte pixel of pix so that the leading alpha
// byte moves to the end.
func argbToRGBA(pix []byte) {
	for i := 0; i+4 <= len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = pix[i+1], pix[i+2], pix[i+3], pix[i]
	}
}

// rgbaToARGB is the inverse of [argbToRGBA].
func rgbaToARGB(pix []byte) {
	for i := 0; i+4 <= len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = pix[i+3], pix[i], pix[i+1], pix[i+2]
	}
}

// Image converts the pixmap to an RGBA image. Pixmap bytes are premultiplied,
// as are pixels of [image.RGBA]. Bytes of p are left untouched.
func (p Pixmap) Image() (*image.RGBA, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("invalid pixmap size %dx%d", p.Width, p.Height)
	}

	// Both factors fit in 31 bits, so the product cannot overflow int64.
	size := int64(p.Width) * int64(p.Height) * 4
	if int64(len(p.Bytes)) < size {
		return nil, fmt.Errorf("pixmap %dx%d: expected %d bytes, got %d", p.Width, p.Height, size, len(p.Bytes))
	}

	pix := make([]byte, size)
	copy(pix, p.Bytes)
	argbToRGBA(pix)

	return &image.RGBA{
		Pix:    pix,
		Stride: int(p.Width) * 4,
		Rect:   image.Rect(0, 0, int(p.Width), int(p.Height)),
	}, nil
}

// decodeIcon selects the icon to show from a pixmap list and an icon name.
// A nil result means the item has no icon.
func decodeIcon(pixmaps []Pixmap, name string, theme IconTheme) *Icon {
	if pixmap, ok := largestPixmap(pixmaps); ok {
		if img, err := pixmap.Image(); err == nil {
			return &Icon{Image: img}
		}
	}

	if name == "" {
		return nil
	}

	icon := &Icon{Name: name}

	if theme != nil {
		if img, ok := theme.LookupIcon(name); ok {
			icon.Image = img
		}
	}

	return icon
}
