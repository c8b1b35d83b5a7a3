package parser

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"document-qa/internal/config"
	"document-qa/internal/models"
	"document-qa/internal/testutil"

	"github.com/xuri/excelize/v2"
)

func newProcessor(t *testing.T, size, overlap int, allowed ...string) *Processor {
	t.Helper()
	cfg := config.Default().RAG
	cfg.ChunkSize = size
	cfg.ChunkOverlap = overlap
	if len(allowed) > 0 {
		cfg.AllowedExtensions = allowed
	}
	return New(&cfg)
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeDocx(t *testing.T, path string, paragraphs ...string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)

	var body strings.Builder
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:r><w:t xml:space="preserve">` + p + `</w:t></w:r></w:p>`)
	}
	files := map[string]string{
		"[Content_Types].xml":          `<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="xml" ContentType="application/xml"/></Types>`,
		"word/_rels/document.xml.rels": `<?xml version="1.0" encoding="UTF-8"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`,
		"word/document.xml": `<?xml version="1.0" encoding="UTF-8"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
			body.String() + `</w:body></w:document>`,
	}
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDocumentUnsupportedFormat(t *testing.T) {
	p := newProcessor(t, 100, 10)
	// The file does not exist: the extension check must fail before any I/O.
	for _, name := range []string{"missing.exe", "missing.html", "missing", "missing.xlsx"} {
		_, err := p.LoadDocument(filepath.Join(t.TempDir(), name))
		if !errors.Is(err, models.ErrUnsupportedFormat) {
			t.Errorf("%s: err = %v, want ErrUnsupportedFormat", name, err)
		}
	}
}

func TestLoadDocumentAllowedWithoutLoader(t *testing.T) {
	p := newProcessor(t, 100, 10, ".csv")
	path := writeFile(t, t.TempDir(), "data.csv", "a,b\n1,2\n")
	if _, err := p.LoadDocument(path); !errors.Is(err, models.ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestLoadDocumentText(t *testing.T) {
	p := newProcessor(t, 100, 10)
	path := writeFile(t, t.TempDir(), "Notes.TXT", "first line\nsecond line\n")
	segs, err := p.LoadDocument(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 1 {
		t.Fatalf("segments = %d", len(segs))
	}
	if segs[0].Content != "first line\nsecond line\n" || segs[0].Source != path || segs[0].Page != 0 {
		t.Errorf("segment = %+v", segs[0])
	}
}

func TestLoadDocumentEmptyText(t *testing.T) {
	p := newProcessor(t, 100, 10)
	segs, err := p.LoadDocument(writeFile(t, t.TempDir(), "empty.txt", "  \n"))
	if err != nil || len(segs) != 0 {
		t.Fatalf("segs = %v, err = %v", segs, err)
	}
}

func TestLoadDocumentMarkdown(t *testing.T) {
	p := newProcessor(t, 100, 10)
	src := "# Release Notes\n\nSome *bold* text with [a link](http://example.com).\n\n" +
		"- item one\n- item two\n\n```go\nfmt.Println(1)\n```\n\n<div>html</div>\n\n| a | b |\n|---|---|\n| 1 | 2 |\n"
	segs, err := p.LoadDocument(writeFile(t, t.TempDir(), "readme.md", src))
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 1 {
		t.Fatalf("segments = %d", len(segs))
	}
	got := segs[0].Content
	for _, want := range []string{"Release Notes", "Some bold text with a link.", "item one", "item two", "fmt.Println(1)", "1\t2"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}
	for _, unwanted := range []string{"#", "*", "http://example.com", "<div>", "```"} {
		if strings.Contains(got, unwanted) {
			t.Errorf("unexpected %q in %q", unwanted, got)
		}
	}
}

func TestLoadDocumentDocx(t *testing.T) {
	p := newProcessor(t, 100, 10)
	path := filepath.Join(t.TempDir(), "report.docx")
	writeDocx(t, path, "Quarterly report", "Revenue grew by 12 percent.")
	segs, err := p.LoadDocument(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 1 {
		t.Fatalf("segments = %d", len(segs))
	}
	if want := "Quarterly report\n\nRevenue grew by 12 percent."; segs[0].Content != want {
		t.Errorf("content = %q, want %q", segs[0].Content, want)
	}
}

func TestLoadDocumentXLSX(t *testing.T) {
	p := newProcessor(t, 100, 10, ".xlsx")
	path := filepath.Join(t.TempDir(), "sheet.xlsx")
	f := excelize.NewFile()
	_ = f.SetCellValue("Sheet1", "A1", "name")
	_ = f.SetCellValue("Sheet1", "B1", "qty")
	_ = f.SetCellValue("Sheet1", "A2", "bolts")
	_ = f.SetCellValue("Sheet1", "B2", 40)
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	segs, err := p.LoadDocument(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 1 || segs[0].Page != 1 {
		t.Fatalf("segments = %+v", segs)
	}
	if !strings.Contains(segs[0].Content, "bolts\t40") || !strings.HasPrefix(segs[0].Content, "## Sheet: Sheet1") {
		t.Errorf("content = %q", segs[0].Content)
	}
}

func TestLoadDocumentPDF(t *testing.T) {
	p := newProcessor(t, 100, 10)
	path := filepath.Join(t.TempDir(), "report.pdf")
	if err := testutil.WritePDF(path, "Revenue grew in the first quarter", "", "Costs fell in the third quarter"); err != nil {
		t.Fatal(err)
	}

	segs, err := p.LoadDocument(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 2 {
		t.Fatalf("segments = %+v, want 2 (blank page skipped)", segs)
	}
	want := []struct {
		page int
		text string
	}{{1, "Revenue grew in the first quarter"}, {3, "Costs fell in the third quarter"}}
	for i, w := range want {
		if segs[i].Page != w.page {
			t.Errorf("segment %d page = %d, want %d", i, segs[i].Page, w.page)
		}
		if !strings.Contains(segs[i].Content, w.text) {
			t.Errorf("segment %d content = %q", i, segs[i].Content)
		}
		if segs[i].Source != path {
			t.Errorf("segment %d source = %q", i, segs[i].Source)
		}
	}

	chunks, err := p.ChunkDocuments(segs)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 || chunks[1].Page != 3 {
		t.Errorf("chunks = %+v", chunks)
	}
}

func TestLoadDocumentParseFailures(t *testing.T) {
	p := newProcessor(t, 100, 10)
	dir := t.TempDir()
	cases := []string{
		writeFile(t, dir, "broken.pdf", "this is not a pdf"),
		writeFile(t, dir, "broken.docx", "this is not a zip"),
		filepath.Join(dir, "missing.txt"),
	}
	for _, path := range cases {
		_, err := p.LoadDocument(path)
		if !errors.Is(err, models.ErrLoadFailure) {
			t.Errorf("%s: err = %v, want ErrLoadFailure", filepath.Base(path), err)
		}
		if !strings.Contains(err.Error(), filepath.Base(path)) {
			t.Errorf("error %q does not name the file", err)
		}
	}
}

func TestDocxTextHandlesBreaksAndTabs(t *testing.T) {
	xmlBody := `<w:document xmlns:w="x"><w:body><w:p><w:r><w:t>a</w:t><w:tab/><w:t>b</w:t><w:br/><w:t>c</w:t></w:r></w:p></w:body></w:document>`
	got, err := docxText(xmlBody)
	if err != nil {
		t.Fatal(err)
	}
	if got != "a\tb\nc" {
		t.Errorf("got %q", got)
	}
}
