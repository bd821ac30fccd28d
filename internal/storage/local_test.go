package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLocalStorage_UploadDownload(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	src := writeTestFile(t, t.TempDir(), "model.onnx", "model-bytes")
	if err := store.Upload(context.Background(), src, "archive/model_20250314_093000.onnx"); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	exists, err := store.Exists(context.Background(), "archive/model_20250314_093000.onnx")
	if err != nil || !exists {
		t.Fatalf("Exists = %v, %v; want true", exists, err)
	}

	dst := filepath.Join(t.TempDir(), "restored.onnx")
	if err := store.Download(context.Background(), "archive/model_20250314_093000.onnx", dst); err != nil {
		t.Fatalf("Download: %v", err)
	}

	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "model-bytes" {
		t.Errorf("restored content = %q, %v; want model-bytes", data, err)
	}
}

func TestLocalStorage_DownloadMissing(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	err = store.Download(context.Background(), "missing.onnx", filepath.Join(t.TempDir(), "out"))
	if err != ErrObjectNotFound {
		t.Errorf("error = %v, want ErrObjectNotFound", err)
	}
}

func TestLocalStorage_Delete(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	src := writeTestFile(t, t.TempDir(), "m.onnx", "x")
	if err := store.Upload(context.Background(), src, "m.onnx"); err != nil {
		t.Fatal(err)
	}

	if err := store.Delete(context.Background(), "m.onnx"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(context.Background(), "m.onnx"); err != ErrObjectNotFound {
		t.Errorf("second delete = %v, want ErrObjectNotFound", err)
	}
}

func TestLocalStorage_ListObjects(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	srcDir := t.TempDir()
	a := writeTestFile(t, srcDir, "a.onnx", "a")
	b := writeTestFile(t, srcDir, "b.onnx", "b")

	if err := store.Upload(context.Background(), a, "archive/a.onnx"); err != nil {
		t.Fatal(err)
	}
	if err := store.Upload(context.Background(), b, "archive/b.onnx"); err != nil {
		t.Fatal(err)
	}
	if err := store.Upload(context.Background(), a, "other/c.onnx"); err != nil {
		t.Fatal(err)
	}

	objects, err := store.ListObjects(context.Background(), "archive/")
	if err != nil {
		t.Fatal(err)
	}
	if len(objects) != 2 {
		t.Errorf("ListObjects(archive/) = %v, want 2 entries", objects)
	}
}
