package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func Test_Real_WriteFileAtomic_Replaces_Content_And_Sets_Mode(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	path := filepath.Join(t.TempDir(), "doc.md")

	if err := os.WriteFile(path, []byte("old"), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := fsys.WriteFileAtomic(path, []byte("new"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}

	got, err := fsys.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != "new" {
		t.Fatalf("content = %q, want %q", got, "new")
	}

	info, err := fsys.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}

	if info.Mode().Perm() != 0o644 {
		t.Fatalf("mode = %v, want 0644", info.Mode().Perm())
	}
}

func Test_Real_Exists_Reports_Missing_Without_Error(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	dir := t.TempDir()

	exists, err := fsys.Exists(filepath.Join(dir, "nope"))
	if err != nil || exists {
		t.Fatalf("Exists(missing) = %v, %v; want false, nil", exists, err)
	}

	exists, err = fsys.Exists(dir)
	if err != nil || !exists {
		t.Fatalf("Exists(dir) = %v, %v; want true, nil", exists, err)
	}
}

func Test_Faulty_Fails_Only_Matching_Paths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	faulty := NewFaulty(NewReal())
	faulty.FailOn(OpWriteFileAtomic, func(p string) bool { return filepath.Base(p) == "bad.md" }, nil)

	err := faulty.WriteFileAtomic(filepath.Join(dir, "bad.md"), []byte("x"), 0o644)
	if !errors.Is(err, ErrInjected) {
		t.Fatalf("write bad.md: err=%v, want %v", err, ErrInjected)
	}

	err = faulty.WriteFileAtomic(filepath.Join(dir, "good.md"), []byte("x"), 0o644)
	if err != nil {
		t.Fatalf("write good.md: %v", err)
	}

	if got := faulty.Calls(OpWriteFileAtomic); got != 2 {
		t.Fatalf("Calls = %d, want 2", got)
	}
}
