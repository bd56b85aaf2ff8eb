package firmware

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/rprocctl/internal/resource"
)

// ParseImage decodes a raw firmware buffer. The buffer is not retained;
// section content is copied.
func ParseImage(data []byte) (*Image, error) {
	if len(data) < imageHeaderLen {
		return nil, fmt.Errorf("%w: %d bytes is smaller than the fixed header", ErrTruncatedImage, len(data))
	}
	if string(data[0:4]) != Magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrInvalidFormat, data[0:4])
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidFormat, version)
	}
	headerLen := binary.LittleEndian.Uint32(data[8:12])
	if uint64(headerLen) > uint64(len(data)-imageHeaderLen) {
		return nil, fmt.Errorf("%w: header length %d overruns buffer", ErrTruncatedImage, headerLen)
	}

	img := &Image{
		Version: version,
		Header:  string(data[imageHeaderLen : imageHeaderLen+int(headerLen)]),
	}

	off := imageHeaderLen + int(headerLen)
	for idx := 0; off < len(data); idx++ {
		if len(data)-off < sectionHeaderLen {
			return nil, fmt.Errorf("%w: section %d header overruns buffer", ErrTruncatedImage, idx)
		}
		typ := SectionType(binary.LittleEndian.Uint32(data[off : off+4]))
		da := binary.LittleEndian.Uint64(data[off+4 : off+12])
		length := binary.LittleEndian.Uint32(data[off+12 : off+16])
		off += sectionHeaderLen

		if uint64(length) > uint64(len(data)-off) {
			return nil, fmt.Errorf("%w: section %d declares %d content bytes, %d remain", ErrTruncatedImage, idx, length, len(data)-off)
		}
		content := make([]byte, length)
		copy(content, data[off:off+int(length)])
		off += int(length)

		sec := Section{Type: typ, DA: da, Content: content}
		if typ == SectionResource {
			entries, err := resource.DecodeEntries(content)
			if err != nil {
				return nil, fmt.Errorf("%w: section %d: %v", ErrMalformedResourceSection, idx, err)
			}
			sec.Entries = entries
		}
		img.Sections = append(img.Sections, sec)
	}

	return img, nil
}

// EncodeImage is the exact inverse of ParseImage: encoding a parsed
// image reproduces the original buffer byte for byte.
func EncodeImage(img *Image) []byte {
	size := imageHeaderLen + len(img.Header)
	for _, s := range img.Sections {
		size += sectionHeaderLen + len(s.Content)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, Magic...)
	buf = binary.LittleEndian.AppendUint32(buf, img.Version)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(img.Header)))
	buf = append(buf, img.Header...)

	for _, s := range img.Sections {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(s.Type))
		buf = binary.LittleEndian.AppendUint64(buf, s.DA)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.Content)))
		buf = append(buf, s.Content...)
	}
	return buf
}
