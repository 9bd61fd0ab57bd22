package docparse

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

// oleMagic starts an OLE compound file. Password-protected DOCX files are
// stored this way instead of as a ZIP archive.
var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

const maxDocumentXML = 64 << 20

// extractDOCX reads the paragraphs of word/document.xml, one per line.
func extractDOCX(filename string, data []byte) (string, error) {
	if bytes.HasPrefix(data, oleMagic) {
		return "", newParseError(filename, ErrEncrypted, "")
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", newParseError(filename, ErrCorrupted, err.Error())
	}

	var docFile *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", newParseError(filename, ErrCorrupted, "missing word/document.xml")
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", newParseError(filename, ErrCorrupted, err.Error())
	}
	defer rc.Close()

	text, err := documentText(io.LimitReader(rc, maxDocumentXML))
	if err != nil {
		return "", newParseError(filename, ErrCorrupted, err.Error())
	}
	return text, nil
}

// documentText streams WordprocessingML, collecting w:t runs. Paragraph
// ends and w:br become newlines and w:tab a tab.
func documentText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		b      strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}
