// rprocgen emits a sample RPRC firmware image for development and
// manual testing of rprocd.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/danmuck/rprocctl/internal/firmware"
	"github.com/danmuck/rprocctl/internal/resource"
)

func main() {
	output := flag.String("output", "firmware/demo.rprc", "output path for the image")
	header := flag.String("header", "rprocctl demo image", "textual image header")
	bootAddr := flag.Uint64("boot", 0x1000, "boot address announced by the image")
	flag.Parse()

	entries := []resource.Entry{
		{Type: resource.TypeBootAddr, DA: *bootAddr},
		{Type: resource.TypeTrace, DA: 0x2000, Len: 4096, Name: resource.NameOf("log0")},
		{Type: resource.TypeDevMem, DA: 0x10000, Len: 0x4000, Name: resource.NameOf("shared")},
	}

	img := &firmware.Image{
		Version: firmware.FormatVersion,
		Header:  *header,
		Sections: []firmware.Section{
			{
				Type:    firmware.SectionText,
				DA:      *bootAddr,
				Content: []byte{0xde, 0xad, 0xbe, 0xef},
			},
			{
				Type:    firmware.SectionResource,
				DA:      0x3000,
				Content: resource.EncodeEntries(entries),
			},
		},
	}

	if err := os.WriteFile(*output, firmware.EncodeImage(img), 0o644); err != nil {
		log.Fatal(err)
	}
	log.Printf("wrote %s", *output)
}
