// Package docx reads and rewrites WordprocessingML (.docx) packages. Only
// word/document.xml is interpreted; every other part is carried through
// untouched.
package docx

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// DocumentPart is the main document part of a WordprocessingML package.
const DocumentPart = "word/document.xml"

// oleMagic is the compound file header used by encrypted OOXML packages and
// legacy .doc files.
var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// StructureError reports a package that cannot be used at all: not a zip,
// encrypted, or without a readable document body.
type StructureError struct {
	Reason string
	Err    error
}

func (e *StructureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("docx: %s: %v", e.Reason, e.Err)
	}
	return "docx: " + e.Reason
}

func (e *StructureError) Unwrap() error {
	return e.Err
}

func structureErr(reason string, err error) error {
	return &StructureError{Reason: reason, Err: err}
}

// IsStructureError reports whether err (or any error it wraps) is a
// StructureError.
func IsStructureError(err error) bool {
	var se *StructureError
	return errors.As(err, &se)
}

type entry struct {
	header zip.FileHeader
	data   []byte
}

// Package is a decompressed .docx held in memory.
type Package struct {
	entries  []entry
	docIndex int
}

// Open decompresses data and checks that a document body is present.
func Open(data []byte) (*Package, error) {
	if len(data) == 0 {
		return nil, structureErr("empty package", nil)
	}
	if bytes.HasPrefix(data, oleMagic) {
		return nil, structureErr("encrypted or legacy package", nil)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, structureErr("not a zip package", err)
	}

	pkg := &Package{docIndex: -1}
	for _, f := range zr.File {
		content, err := readZipFile(f)
		if err != nil {
			return nil, structureErr(fmt.Sprintf("read part %s", f.Name), err)
		}
		if normalizeZipName(f.Name) == DocumentPart {
			pkg.docIndex = len(pkg.entries)
		}
		pkg.entries = append(pkg.entries, entry{header: f.FileHeader, data: content})
	}

	if pkg.docIndex < 0 {
		return nil, structureErr("missing "+DocumentPart, nil)
	}
	if !hasBody(pkg.entries[pkg.docIndex].data) {
		return nil, structureErr("document has no body", nil)
	}
	return pkg, nil
}

// DocumentXML returns the raw main document markup.
func (p *Package) DocumentXML() []byte {
	return p.entries[p.docIndex].data
}

// Rewrite produces a new package identical to p except for the main
// document part, which is replaced by documentXML.
func (p *Package) Rewrite(documentXML []byte) ([]byte, error) {
	var out bytes.Buffer
	w := zip.NewWriter(&out)

	for i, e := range p.entries {
		content := e.data
		if i == p.docIndex {
			content = documentXML
		}
		fw, err := w.CreateHeader(&zip.FileHeader{
			Name:     normalizeZipName(e.header.Name),
			Method:   e.header.Method,
			Modified: e.header.Modified,
		})
		if err != nil {
			return nil, eris.Wrapf(err, "docx: create part %s", e.header.Name)
		}
		if _, err := fw.Write(content); err != nil {
			return nil, eris.Wrapf(err, "docx: write part %s", e.header.Name)
		}
	}

	if err := w.Close(); err != nil {
		return nil, eris.Wrap(err, "docx: close package")
	}
	return out.Bytes(), nil
}

// Paragraphs walks the document body.
func (p *Package) Paragraphs() ([]Paragraph, error) {
	return ParseParagraphs(p.DocumentXML())
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck
	return io.ReadAll(rc)
}

func normalizeZipName(name string) string {
	return strings.TrimPrefix(strings.ReplaceAll(name, "\\", "/"), "/")
}

func hasBody(documentXML []byte) bool {
	return bytes.Contains(documentXML, []byte(":body>")) || bytes.Contains(documentXML, []byte(":body "))
}
