package parser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"document-qa/internal/config"
	"document-qa/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Processor loads documents into segments and splits them into chunks.
// It keeps no state between calls.
type Processor struct {
	allowed      func(ext string) bool
	chunkSize    int
	chunkOverlap int
}

func New(cfg *config.RAGConfig) *Processor {
	return &Processor{
		allowed:      cfg.IsAllowed,
		chunkSize:    cfg.ChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
	}
}

// LoadDocument selects a loader by the file extension of filePath and
// returns the extracted segments.
func (p *Processor) LoadDocument(filePath string) ([]models.Segment, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	if !p.allowed(ext) {
		return nil, models.Wrap(models.ErrUnsupportedFormat, "load "+filepath.Base(filePath), fmt.Errorf("extension %q", ext))
	}

	var (
		segments []models.Segment
		err      error
	)
	switch ext {
	case ".pdf":
		segments, err = parsePDF(filePath)
	case ".docx":
		segments, err = parseDOCX(filePath)
	case ".txt":
		segments, err = parseText(filePath)
	case ".md":
		segments, err = parseMarkdown(filePath)
	case ".xlsx":
		segments, err = parseXLSX(filePath)
	default:
		return nil, models.Wrap(models.ErrUnsupportedFormat, "load "+filepath.Base(filePath), fmt.Errorf("no loader for %q", ext))
	}
	if err != nil {
		log.Error().Err(err).Str("path", filePath).Msg("Error loading document")
		return nil, models.Wrap(models.ErrLoadFailure, "load "+filepath.Base(filePath), err)
	}

	log.Debug().Str("path", filePath).Int("segments", len(segments)).Msg("Loaded document")
	return segments, nil
}

func parsePDF(filePath string) ([]models.Segment, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Get file size for reader initialization
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	var segments []models.Segment
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		segments = append(segments, models.Segment{
			Content: pageText,
			Source:  filePath,
			Page:    i,
		})
	}
	return segments, nil
}

func parseDOCX(filePath string) ([]models.Segment, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	content, err := docxText(r.Editable().GetContent())
	if err != nil {
		return nil, err
	}
	return single(content, filePath), nil
}

// docxText extracts paragraph text from WordprocessingML. The docx reader
// hands back the raw document.xml.
func docxText(documentXML string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(documentXML))
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
			return "", fmt.Errorf("decode document.xml: %w", err)
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
				b.WriteString("\n\n")
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func parseText(filePath string) ([]models.Segment, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return single(string(data), filePath), nil
}

func parseMarkdown(filePath string) ([]models.Segment, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return single(markdownToText(data), filePath), nil
}

var blankLines = regexp.MustCompile(`\n{3,}`)

// markdownToText renders the text content of a Markdown document, dropping
// markup and raw HTML. Blocks are separated by blank lines.
func markdownToText(src []byte) string {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(src))

	var b bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				b.Write(node.Label(src))
			}
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(src))
				}
				return ast.WalkSkipChildren, nil
			}
			b.WriteString("\n\n")
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.Heading, *ast.ThematicBreak:
			if !entering {
				b.WriteString("\n\n")
			}
		case *ast.TextBlock:
			if !entering {
				b.WriteByte('\n')
			}
		case *extast.TableCell:
			if !entering {
				b.WriteByte('\t')
			}
		case *extast.TableRow, *extast.TableHeader:
			if !entering {
				b.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})

	out := blankLines.ReplaceAllString(b.String(), "\n\n")
	return strings.TrimSpace(out)
}

func parseXLSX(filePath string) ([]models.Segment, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var segments []models.Segment
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheetName, err)
		}
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("## Sheet: %s\n", sheetName))
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteString("\n")
		}
		if len(rows) == 0 {
			continue
		}
		segments = append(segments, models.Segment{
			Content: strings.TrimSpace(sb.String()),
			Source:  filePath,
			Page:    sheetNum + 1, // 1-based indexing
		})
	}
	return segments, nil
}

func single(content, filePath string) []models.Segment {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	return []models.Segment{{Content: content, Source: filePath}}
}
