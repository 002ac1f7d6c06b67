package fsutil

import (
	"errors"
	"os"
	"testing"
)

func TestMemoryFileSystemReadWrite(t *testing.T) {
	fsys := NewMemoryFileSystem()

	if err := fsys.WriteFile("captures/session1/cap.json", []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	data, err := fsys.ReadFile("captures/session1/cap.json")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("content = %q, want hello", data)
	}

	// Mutating the returned slice must not change the stored copy.
	data[0] = 'X'
	again, _ := fsys.ReadFile("captures/session1/cap.json")
	if string(again) != "hello" {
		t.Errorf("stored content mutated: %q", again)
	}
}

func TestMemoryFileSystemMissingFile(t *testing.T) {
	fsys := NewMemoryFileSystem()
	_, err := fsys.ReadFile("absent.json")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestMemoryFileSystemExists(t *testing.T) {
	fsys := NewMemoryFileSystem()
	if fsys.Exists("a/b.json") {
		t.Error("Exists true before write")
	}
	if err := fsys.WriteFile("a/b.json", nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if !fsys.Exists("a/b.json") {
		t.Error("Exists false after write")
	}
	if !fsys.Exists("a") {
		t.Error("parent directory not implied by write")
	}
	if err := fsys.MkdirAll("plots/run1", 0o755); err != nil {
		t.Fatal(err)
	}
	if !fsys.Exists("plots/run1") {
		t.Error("MkdirAll directory missing")
	}
}

func TestMemoryFileSystemList(t *testing.T) {
	fsys := NewMemoryFileSystem()
	for _, name := range []string{"b.json", "a.json"} {
		if err := fsys.WriteFile(name, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	names := fsys.List()
	if len(names) != 2 || names[0] != "a.json" || names[1] != "b.json" {
		t.Errorf("List = %v", names)
	}
}

func TestOSFileSystemRoundTrip(t *testing.T) {
	fsys := OSFileSystem{}
	dir := t.TempDir()
	path := dir + "/out/data.json"
	if err := fsys.MkdirAll(dir+"/out", 0o755); err != nil {
		t.Fatal(err)
	}
	if err := fsys.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !fsys.Exists(path) {
		t.Error("Exists false after write")
	}
	data, err := fsys.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{}" {
		t.Errorf("content = %q", data)
	}
}
