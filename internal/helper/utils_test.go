package helper

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerateUUID(t *testing.T) {
	a, err := GenerateUUID()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := GenerateUUID()
	if len(a) != 36 || a == b {
		t.Errorf("unexpected ids %q %q", a, b)
	}
}

func TestExcerpt(t *testing.T) {
	if got := Excerpt("short", 200); got != "short..." {
		t.Errorf("got %q", got)
	}
	long := strings.Repeat("é", 250)
	got := Excerpt(long, 200)
	if want := strings.Repeat("é", 200) + "..."; got != want {
		t.Errorf("excerpt has %d bytes", len(got))
	}
}

func TestPrettyPrint(t *testing.T) {
	var buf bytes.Buffer
	PrettyPrint(&buf, map[string]int{"page": 3})
	if got := buf.String(); got != "{\n  \"page\": 3\n}\n" {
		t.Errorf("got %q", got)
	}
}

func TestCreateFolder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := CreateFolder(dir); err != nil {
		t.Fatal(err)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Fatalf("folder not created: %v", err)
	}
}
