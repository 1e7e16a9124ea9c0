// Package docx patches the main document part of a .docx archive in place.
//
// Masking edits are computed against the document's flattened text. This
// package maps that flat text back onto the XML nodes it came from, splices
// replacements into the individual text nodes, and rewrites the archive
// while leaving every other entry untouched byte for byte.
package docx

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"unicode/utf8"

	"github.com/antchfx/xmlquery"

	"github.com/inkveil/inkveil/internal/edits"
)

const documentPath = "word/document.xml"

var (
	// ErrNotDocx marks an input that is not a readable .docx archive.
	ErrNotDocx = errors.New("not a docx archive")
	// ErrStructure marks a patched document that no longer parses as XML.
	ErrStructure = errors.New("document structure damaged")
)

// Fragment is one contiguous run of document text backed by a single XML
// text node. Start and End are rune offsets into the flattened text.
type Fragment struct {
	Start int
	End   int

	node *xmlquery.Node
}

// Text returns the fragment's current content.
func (f Fragment) Text() string { return f.node.Data }

// Document is a parsed word/document.xml with its text fragments indexed.
type Document struct {
	root      *xmlquery.Node
	fragments []Fragment
	text      string
}

// ParseDocument parses document.xml and builds the fragment index. The
// flattened text is the concatenation, in document order, of every w:t
// element's content and any raw text immediately following a w:t element.
func ParseDocument(data []byte) (*Document, error) {
	root, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse document.xml: %w", err)
	}
	d := &Document{root: root}
	d.collect(root)
	var buf bytes.Buffer
	for _, f := range d.fragments {
		buf.WriteString(f.node.Data)
	}
	d.text = buf.String()
	return d, nil
}

func (d *Document) collect(n *xmlquery.Node) {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode && child.Data == "t" && child.Prefix == "w" {
			if fc := child.FirstChild; fc != nil && fc.Type == xmlquery.TextNode {
				d.addFragment(fc)
			}
			for sib := child.NextSibling; sib != nil && sib.Type == xmlquery.TextNode; sib = sib.NextSibling {
				d.addFragment(sib)
			}
			continue
		}
		d.collect(child)
	}
}

func (d *Document) addFragment(node *xmlquery.Node) {
	start := 0
	if n := len(d.fragments); n > 0 {
		start = d.fragments[n-1].End
	}
	d.fragments = append(d.fragments, Fragment{
		Start: start,
		End:   start + utf8.RuneCountInString(node.Data),
		node:  node,
	})
}

// Text returns the flattened document text.
func (d *Document) Text() string { return d.text }

// Fragments returns the fragment index in document order.
func (d *Document) Fragments() []Fragment {
	out := make([]Fragment, len(d.fragments))
	copy(out, d.fragments)
	return out
}

// Apply splices the edits into the underlying text nodes and returns the
// number of fragments that changed. An edit spanning several fragments is
// decomposed: each fragment receives the slice of the replacement that
// lines up with its portion of the edited range.
func (d *Document) Apply(es []edits.Edit) int {
	if len(es) == 0 {
		return 0
	}
	sorted := make([]edits.Edit, len(es))
	copy(sorted, es)
	// Descending start order so a splice never shifts the offsets of an
	// edit applied after it within the same fragment.
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start > sorted[j].Start })

	modified := 0
	for i := range d.fragments {
		f := &d.fragments[i]
		runes := []rune(f.node.Data)
		changed := false
		for _, e := range sorted {
			if e.End <= f.Start || e.Start >= f.End {
				continue
			}
			lo := max(e.Start, f.Start)
			hi := min(e.End, f.End)
			rep := []rune(e.Replacement)
			ro := min(lo-e.Start, len(rep))
			rh := min(hi-e.Start, len(rep))
			var spliced []rune
			spliced = append(spliced, runes[:lo-f.Start]...)
			spliced = append(spliced, rep[ro:rh]...)
			spliced = append(spliced, runes[hi-f.Start:]...)
			runes = spliced
			changed = true
		}
		if changed {
			f.node.Data = string(runes)
			modified++
		}
	}
	if modified > 0 {
		var buf bytes.Buffer
		for _, f := range d.fragments {
			buf.WriteString(f.node.Data)
		}
		d.text = buf.String()
	}
	return modified
}

// Serialize re-emits document.xml. The output is parsed once more before
// being returned; a parse failure means the patch corrupted the document
// and aborts with ErrStructure.
func (d *Document) Serialize() ([]byte, error) {
	out := []byte(d.root.OutputXML(true))
	if _, err := xmlquery.Parse(bytes.NewReader(out)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStructure, err)
	}
	return out, nil
}

// Archive is an opened .docx container with its main document part parsed.
type Archive struct {
	src []byte
	doc *Document
}

// OpenArchive opens a .docx archive held in memory. It fails with ErrNotDocx
// when the bytes are not a zip archive or the main document part is missing.
func OpenArchive(data []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotDocx, err)
	}
	var docXML []byte
	for _, f := range zr.File {
		if f.Name != documentPath {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", ErrNotDocx, documentPath, err)
		}
		docXML, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrNotDocx, documentPath, err)
		}
		break
	}
	if docXML == nil {
		return nil, fmt.Errorf("%w: missing %s", ErrNotDocx, documentPath)
	}
	doc, err := ParseDocument(docXML)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotDocx, err)
	}
	return &Archive{src: data, doc: doc}, nil
}

// Document returns the parsed main document part.
func (a *Archive) Document() *Document { return a.doc }

// Rewrite serializes the patched document part and produces a new archive.
// Every entry other than word/document.xml is copied raw, compressed bytes
// and all, so untouched parts survive byte for byte.
func (a *Archive) Rewrite() ([]byte, error) {
	docXML, err := a.doc.Serialize()
	if err != nil {
		return nil, err
	}

	zr, err := zip.NewReader(bytes.NewReader(a.src), int64(len(a.src)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotDocx, err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range zr.File {
		if f.Name == documentPath {
			hdr := &zip.FileHeader{
				Name:     documentPath,
				Method:   zip.Deflate,
				Modified: f.Modified,
			}
			w, err := zw.CreateHeader(hdr)
			if err != nil {
				return nil, fmt.Errorf("rewrite %s: %w", documentPath, err)
			}
			if _, err := w.Write(docXML); err != nil {
				return nil, fmt.Errorf("rewrite %s: %w", documentPath, err)
			}
			continue
		}
		hdr := f.FileHeader
		w, err := zw.CreateRaw(&hdr)
		if err != nil {
			return nil, fmt.Errorf("copy %s: %w", f.Name, err)
		}
		rc, err := f.OpenRaw()
		if err != nil {
			return nil, fmt.Errorf("copy %s: %w", f.Name, err)
		}
		if _, err := io.Copy(w, rc); err != nil {
			return nil, fmt.Errorf("copy %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}
