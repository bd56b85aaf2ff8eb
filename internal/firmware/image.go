package firmware

import (
	"errors"

	"github.com/danmuck/rprocctl/internal/resource"
)

const (
	// Magic is the fixed 4-byte tag opening every image.
	Magic = "RPRC"

	// FormatVersion is the only image version the negotiator
	// understands.
	FormatVersion uint32 = 1

	// imageHeaderLen is magic(4) + version(4) + header_len(4).
	imageHeaderLen = 12

	// sectionHeaderLen is type(4) + da(8) + len(4).
	sectionHeaderLen = 16
)

var (
	ErrInvalidFormat            = errors.New("firmware: invalid image format")
	ErrTruncatedImage           = errors.New("firmware: truncated image")
	ErrMalformedResourceSection = errors.New("firmware: malformed resource section")
)

// SectionType classifies one firmware section.
type SectionType uint32

const (
	SectionResource SectionType = 0
	SectionText     SectionType = 1
	SectionData     SectionType = 2
)

func (t SectionType) String() string {
	switch t {
	case SectionResource:
		return "resource"
	case SectionText:
		return "text"
	case SectionData:
		return "data"
	default:
		return "unknown"
	}
}

// Section is one decoded firmware section. Text and data sections are
// loadable content expected at DA in the remote address space.
// Resource sections additionally carry their decoded entries.
type Section struct {
	Type    SectionType
	DA      uint64
	Content []byte

	// Entries is populated for resource sections only.
	Entries []resource.Entry
}

// Image is one decoded firmware image. It exists for the duration of a
// single boot: the negotiator consumes the resource entries, loadable
// sections go to the platform, and the image is then discarded.
type Image struct {
	Version  uint32
	Header   string
	Sections []Section
}

// ResourceEntries returns the entries of all resource sections,
// concatenated in section order. The negotiator processes this exact
// order.
func (img *Image) ResourceEntries() []resource.Entry {
	var entries []resource.Entry
	for _, s := range img.Sections {
		if s.Type == SectionResource {
			entries = append(entries, s.Entries...)
		}
	}
	return entries
}

// Loadable returns the text and data sections in image order.
func (img *Image) Loadable() []Section {
	var sections []Section
	for _, s := range img.Sections {
		if s.Type == SectionText || s.Type == SectionData {
			sections = append(sections, s)
		}
	}
	return sections
}
