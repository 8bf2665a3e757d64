package wbdclip

import (
	"fmt"
	"os"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
)

// A Validator checks that the file at path is a complete artifact
type Validator func(path string) error

type strileIFD struct {
	ImageWidth      uint64   `tiff:"field,tag=256"`
	ImageLength     uint64   `tiff:"field,tag=257"`
	StripOffsets    []uint64 `tiff:"field,tag=273"`
	StripByteCounts []uint64 `tiff:"field,tag=279"`
	TileOffsets     []uint64 `tiff:"field,tag=324"`
	TileByteCounts  []uint64 `tiff:"field,tag=325"`
}

// ValidateNonEmpty only checks that path is a regular, non-empty file
func ValidateNonEmpty(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !st.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	if st.Size() == 0 {
		return fmt.Errorf("%s is empty", path)
	}
	return nil
}

// ValidateGeoTIFF checks that path parses as a (Big)TIFF whose every IFD has
// a non-empty size and strile data lying entirely inside the file, which
// catches truncated outputs.
func ValidateGeoTIFF(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.Size() == 0 {
		return fmt.Errorf("%s is empty", path)
	}
	tif, err := tiff.Parse(f, nil, nil)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	order := tif.Order()
	if order != "MM" && order != "II" {
		return fmt.Errorf("%s: unknown byte order", path)
	}
	ifds := tif.IFDs()
	if len(ifds) == 0 {
		return fmt.Errorf("%s: no ifd", path)
	}
	for i, tifd := range ifds {
		if err := sanityCheckIFD(tifd, uint64(st.Size())); err != nil {
			return fmt.Errorf("%s ifd %d: %w", path, i, err)
		}
	}
	return nil
}

func sanityCheckIFD(tifd tiff.IFD, size uint64) error {
	ifd := strileIFD{}
	if err := tiff.UnmarshalIFD(tifd, &ifd); err != nil {
		return err
	}
	if ifd.ImageWidth == 0 || ifd.ImageLength == 0 {
		return fmt.Errorf("0-sized image")
	}
	offsets, counts := ifd.TileOffsets, ifd.TileByteCounts
	if len(offsets) == 0 {
		offsets, counts = ifd.StripOffsets, ifd.StripByteCounts
	}
	if len(offsets) == 0 {
		return fmt.Errorf("no tiles or strips")
	}
	if len(offsets) != len(counts) {
		return fmt.Errorf("inconsistent strile off/len count")
	}
	for i := range offsets {
		if counts[i] == 0 {
			// sparse strile
			continue
		}
		if offsets[i]+counts[i] > size {
			return fmt.Errorf("strile %d ends at %d, past end of file %d", i, offsets[i]+counts[i], size)
		}
	}
	return nil
}
