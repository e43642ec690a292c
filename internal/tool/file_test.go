package tool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolvePath_InsideWorkspace(t *testing.T) {
	ws := t.TempDir()
	resolved, err := resolvePath(ws, "notes/todo.txt")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.HasPrefix(resolved, ws) {
		t.Fatalf("resolved path %q not under workspace %q", resolved, ws)
	}
}

func TestResolvePath_TraversalBlocked(t *testing.T) {
	ws := t.TempDir()
	_, err := resolvePath(ws, "../outside.txt")
	if err == nil {
		t.Fatal("expected error for traversal outside workspace")
	}
}

func TestResolvePath_AbsoluteOutsideBlocked(t *testing.T) {
	ws := t.TempDir()
	_, err := resolvePath(ws, "/etc/passwd")
	if err == nil {
		t.Fatal("expected error for absolute path outside workspace")
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	ws := t.TempDir()
	ctx := context.Background()

	write := NewWriteFileTool(ws)
	out, err := write.Execute(ctx, map[string]any{"path": "a/b.txt", "content": "hello world"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(out, "11 bytes") {
		t.Errorf("unexpected write result: %q", out)
	}

	read := NewReadFileTool(ws)
	got, err := read.Execute(ctx, map[string]any{"path": "a/b.txt"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "hello world" {
		t.Fatalf("expected 'hello world', got %q", got)
	}
}

func TestReadFile_Missing(t *testing.T) {
	read := NewReadFileTool(t.TempDir())
	_, err := read.Execute(context.Background(), map[string]any{"path": "missing.txt"})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEditFile_SingleMatch(t *testing.T) {
	ws := t.TempDir()
	ctx := context.Background()
	path := filepath.Join(ws, "code.go")
	if err := os.WriteFile(path, []byte("x := 1\ny := 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	edit := NewEditFileTool(ws)
	_, err := edit.Execute(ctx, map[string]any{
		"path": "code.go", "old_text": "y := 2", "new_text": "y := 3",
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "x := 1\ny := 3\n" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestEditFile_NoMatch(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "f.txt"), []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	edit := NewEditFileTool(ws)
	_, err := edit.Execute(context.Background(), map[string]any{
		"path": "f.txt", "old_text": "zzz", "new_text": "yyy",
	})
	if err == nil {
		t.Fatal("expected error when old_text is absent")
	}
}

func TestEditFile_AmbiguousMatch(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "f.txt"), []byte("dup dup"), 0o644); err != nil {
		t.Fatal(err)
	}
	edit := NewEditFileTool(ws)
	_, err := edit.Execute(context.Background(), map[string]any{
		"path": "f.txt", "old_text": "dup", "new_text": "one",
	})
	if err == nil {
		t.Fatal("expected error for ambiguous old_text")
	}
}

func TestListDir(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "file.txt"), []byte("12345"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(ws, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	list := NewListDirTool(ws)
	out, err := list.Execute(context.Background(), map[string]any{"path": "."})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "file.txt 5") {
		t.Errorf("expected file with size, got %q", out)
	}
	if !strings.Contains(out, "sub") {
		t.Errorf("expected subdirectory, got %q", out)
	}
}

func TestListDir_Empty(t *testing.T) {
	list := NewListDirTool(t.TempDir())
	out, err := list.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if out != "(empty directory)" {
		t.Errorf("expected empty placeholder, got %q", out)
	}
}
