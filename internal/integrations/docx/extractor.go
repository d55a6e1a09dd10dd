// Package docx turns Word documents into the markdown outline the pipeline
// formats into slides.
package docx

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"strconv"
	"strings"

	"chatppt/internal/storage"
)

// ErrUnsupportedFormat is returned for inputs that are not OOXML documents,
// including legacy binary .doc files.
var ErrUnsupportedFormat = errors.New("docx: unsupported document format")

const (
	documentPart = "word/document.xml"
	stylesPart   = "word/styles.xml"
	relsPart     = "word/_rels/document.xml.rels"

	// ImageDir is the storage prefix for pictures pulled out of documents.
	ImageDir = "images"
)

// Extractor reads documents from a FileStore and writes their embedded
// pictures back to it.
type Extractor struct {
	files  storage.FileStore
	logger *slog.Logger
}

func New(files storage.FileStore, logger *slog.Logger) (*Extractor, error) {
	if files == nil {
		return nil, errors.New("docx: file store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{files: files, logger: logger}, nil
}

// ExtractDocument returns the document as markdown: headings as #, ## or ###,
// list items as indented "- " lines, other paragraphs verbatim and pictures
// as ![Image](path) lines pointing at the stored copy.
func (e *Extractor) ExtractDocument(ctx context.Context, p string) (string, error) {
	if strings.ToLower(path.Ext(p)) != ".docx" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path.Base(p))
	}
	raw, err := storage.ReadFile(ctx, e.files, p)
	if err != nil {
		return "", fmt.Errorf("docx: read %s: %w", p, err)
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnsupportedFormat, path.Base(p), err)
	}
	parts := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		parts[f.Name] = f
	}
	doc, ok := parts[documentPart]
	if !ok {
		return "", fmt.Errorf("%w: %s has no %s", ErrUnsupportedFormat, path.Base(p), documentPart)
	}

	styles, err := readStyles(parts[stylesPart])
	if err != nil {
		return "", fmt.Errorf("docx: styles: %w", err)
	}
	rels, err := readRels(parts[relsPart])
	if err != nil {
		return "", fmt.Errorf("docx: relationships: %w", err)
	}

	paras, err := readParagraphs(doc)
	if err != nil {
		return "", fmt.Errorf("docx: document: %w", err)
	}

	stem := strings.TrimSuffix(path.Base(p), path.Ext(p))
	saved := make(map[string]string)
	var lines []string
	for _, para := range paras {
		if line := para.markdown(styles); line != "" {
			lines = append(lines, line)
		}
		for _, id := range para.images {
			stored, err := e.saveImage(ctx, stem, id, rels, parts, saved)
			if err != nil {
				return "", err
			}
			if stored != "" {
				lines = append(lines, "![Image]("+stored+")")
			}
		}
	}
	e.logger.InfoContext(ctx, "document extracted",
		slog.String("path", p),
		slog.Int("paragraphs", len(paras)),
		slog.Int("images", len(saved)),
	)
	return strings.Join(lines, "\n"), nil
}

func (e *Extractor) saveImage(ctx context.Context, stem, relID string, rels map[string]string, parts map[string]*zip.File, saved map[string]string) (string, error) {
	target, ok := rels[relID]
	if !ok {
		e.logger.WarnContext(ctx, "picture relationship missing", slog.String("rel_id", relID))
		return "", nil
	}
	if stored, ok := saved[target]; ok {
		return stored, nil
	}
	f, ok := parts[target]
	if !ok {
		e.logger.WarnContext(ctx, "picture part missing", slog.String("target", target))
		return "", nil
	}
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("docx: open %s: %w", target, err)
	}
	defer func() { _ = rc.Close() }()

	dest := path.Join(ImageDir, stem, path.Base(target))
	if err := e.files.Put(ctx, dest, rc, mime.TypeByExtension(path.Ext(target))); err != nil {
		return "", fmt.Errorf("docx: store %s: %w", dest, err)
	}
	saved[target] = dest
	return dest, nil
}

type paragraph struct {
	style  string
	list   bool
	level  int
	text   strings.Builder
	images []string
}

func (p *paragraph) markdown(styles map[string]string) string {
	text := strings.TrimSpace(p.text.String())
	if text == "" {
		return ""
	}
	if n := headingLevel(p.style, styles); n > 0 {
		return strings.Repeat("#", min(n, 3)) + " " + text
	}
	if p.list || isListStyle(p.style, styles) {
		return strings.Repeat("  ", p.level) + "- " + text
	}
	return text
}

// headingLevel maps Title to 1 and "heading N" to N, looking the style up by
// id and then by display name so localized ids still resolve.
func headingLevel(styleID string, styles map[string]string) int {
	for _, name := range []string{styles[styleID], styleID} {
		n := strings.ToLower(strings.ReplaceAll(name, " ", ""))
		switch {
		case n == "":
			continue
		case n == "title":
			return 1
		case strings.HasPrefix(n, "heading"):
			if lvl, err := strconv.Atoi(strings.TrimPrefix(n, "heading")); err == nil && lvl > 0 {
				return lvl
			}
		}
	}
	return 0
}

func isListStyle(styleID string, styles map[string]string) bool {
	for _, name := range []string{styles[styleID], styleID} {
		n := strings.ToLower(strings.ReplaceAll(name, " ", ""))
		if strings.HasPrefix(n, "listbullet") || strings.HasPrefix(n, "listnumber") {
			return true
		}
	}
	return false
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func readParagraphs(f *zip.File) ([]*paragraph, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	dec := xml.NewDecoder(rc)
	var (
		paras []*paragraph
		// open holds the paragraphs being read. Text boxes put whole
		// paragraphs inside a run of the enclosing one.
		open   []*paragraph
		inText bool
	)
	top := func() *paragraph {
		if len(open) == 0 {
			return nil
		}
		return open[len(open)-1]
	}
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return paras, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			cur := top()
			switch t.Name.Local {
			case "Fallback":
				// Legacy VML copy of content already read from mc:Choice.
				if err := dec.Skip(); err != nil {
					return nil, err
				}
			case "p":
				// Appended on open so paragraphs keep document order.
				np := &paragraph{}
				paras = append(paras, np)
				open = append(open, np)
				inText = false
			case "pStyle":
				if cur != nil {
					cur.style = attr(t, "val")
				}
			case "numPr":
				if cur != nil {
					cur.list = true
				}
			case "ilvl":
				if cur != nil {
					cur.level, _ = strconv.Atoi(attr(t, "val"))
				}
			case "t":
				inText = cur != nil
			case "tab":
				if cur != nil {
					cur.text.WriteByte('\t')
				}
			case "blip":
				if cur != nil {
					if id := attr(t, "embed"); id != "" {
						cur.images = append(cur.images, id)
					}
				}
			}
		case xml.CharData:
			if inText {
				top().text.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if len(open) > 0 {
					open = open[:len(open)-1]
				}
				inText = false
			}
		}
	}
}

type xmlStyles struct {
	Styles []struct {
		ID   string `xml:"styleId,attr"`
		Name struct {
			Val string `xml:"val,attr"`
		} `xml:"name"`
	} `xml:"style"`
}

func readStyles(f *zip.File) (map[string]string, error) {
	styles := make(map[string]string)
	if f == nil {
		return styles, nil
	}
	var doc xmlStyles
	if err := decodePart(f, &doc); err != nil {
		return nil, err
	}
	for _, s := range doc.Styles {
		styles[s.ID] = s.Name.Val
	}
	return styles, nil
}

type xmlRels struct {
	Rels []struct {
		ID         string `xml:"Id,attr"`
		Target     string `xml:"Target,attr"`
		TargetMode string `xml:"TargetMode,attr"`
	} `xml:"Relationship"`
}

// readRels maps relationship ids to zip part names. External targets are
// dropped.
func readRels(f *zip.File) (map[string]string, error) {
	rels := make(map[string]string)
	if f == nil {
		return rels, nil
	}
	var doc xmlRels
	if err := decodePart(f, &doc); err != nil {
		return nil, err
	}
	for _, r := range doc.Rels {
		if r.TargetMode == "External" {
			continue
		}
		target := r.Target
		if strings.HasPrefix(target, "/") {
			target = strings.TrimPrefix(target, "/")
		} else {
			target = path.Join("word", target)
		}
		rels[r.ID] = target
	}
	return rels, nil
}

func decodePart(f *zip.File, v any) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()
	return xml.NewDecoder(rc).Decode(v)
}
