package digest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBytes_KnownVector(t *testing.T) {
	// MD5("") is the well-known empty-string vector.
	got := Bytes(nil)
	want := "d41d8cd98f00b204e9800998ecf8427e"
	if got != want {
		t.Errorf("Bytes(nil) = %s, want %s", got, want)
	}
}

func TestFile_MatchesBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	data := []byte("the quick brown fox jumps over the lazy dog")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	got, err := File(path)
	if err != nil {
		t.Fatalf("File failed: %v", err)
	}
	want := Bytes(data)
	if got != want {
		t.Errorf("File() = %s, want %s", got, want)
	}
}

func TestVerifyFile_CaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	data := []byte("hello world")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	hash := Bytes(data)
	upper := ""
	for _, r := range hash {
		if r >= 'a' && r <= 'f' {
			upper += string(r - 32)
		} else {
			upper += string(r)
		}
	}

	ok, err := VerifyFile(path, upper)
	if err != nil {
		t.Fatalf("VerifyFile failed: %v", err)
	}
	if !ok {
		t.Errorf("expected case-insensitive match")
	}
}

func TestArchiveFolder_RoundTrip(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(src, "sub"), 0o755); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	subData := make([]byte, 256)
	for i := range subData {
		subData[i] = byte(i)
	}
	if err := os.WriteFile(filepath.Join(src, "sub", "b.bin"), subData, 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	archivePath, manifest, err := ArchiveFolder(src)
	if err != nil {
		t.Fatalf("ArchiveFolder failed: %v", err)
	}
	defer os.Remove(archivePath)

	if len(manifest) != 2 {
		t.Fatalf("expected 2 manifest entries, got %d", len(manifest))
	}

	dest := t.TempDir()
	if err := ExtractArchive(archivePath, dest, manifest); err != nil {
		t.Fatalf("ExtractArchive failed: %v", err)
	}

	gotA, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	if err != nil {
		t.Fatalf("a.txt missing after extraction: %v", err)
	}
	if string(gotA) != "x" {
		t.Errorf("a.txt content mismatch: got %q", gotA)
	}

	gotB, err := os.ReadFile(filepath.Join(dest, "sub", "b.bin"))
	if err != nil {
		t.Fatalf("sub/b.bin missing after extraction: %v", err)
	}
	if len(gotB) != len(subData) {
		t.Errorf("sub/b.bin length mismatch: got %d, want %d", len(gotB), len(subData))
	}
}

func TestArchiveFolder_EmptyFolder(t *testing.T) {
	src := t.TempDir()
	archivePath, manifest, err := ArchiveFolder(src)
	if err != nil {
		t.Fatalf("ArchiveFolder failed: %v", err)
	}
	defer os.Remove(archivePath)
	if len(manifest) != 0 {
		t.Errorf("expected empty manifest, got %d entries", len(manifest))
	}
}
