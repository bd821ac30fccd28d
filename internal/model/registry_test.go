package model

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/factoryml/factoryml/pkg/types"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := OpenRegistry(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRegistry_Archives(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	first := &types.ArchiveEntry{
		ID:           uuid.NewString(),
		OriginalPath: "models/current/model.onnx",
		ArchivedPath: "models/archive/model_20250314_093000.onnx",
		ArchivedAt:   time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
	}
	second := &types.ArchiveEntry{
		ID:           uuid.NewString(),
		OriginalPath: "models/current/model.onnx",
		ArchivedPath: "models/archive/model_20250401_120000.onnx",
		ArchivedAt:   time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC),
	}

	if err := r.RecordArchive(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := r.RecordArchive(ctx, second); err != nil {
		t.Fatal(err)
	}

	entries, err := r.ListArchives(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	// Newest first.
	if entries[0].ID != second.ID || entries[1].ID != first.ID {
		t.Errorf("entries not ordered newest first: %v", entries)
	}
	if entries[0].ArchivedPath != second.ArchivedPath {
		t.Errorf("archived path = %s, want %s", entries[0].ArchivedPath, second.ArchivedPath)
	}
}

func TestRegistry_Switches(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	at := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	rec, err := r.RecordSwitch(ctx, "models/current/model.onnx", "incoming/v2.onnx", "deadbeef", at)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID == "" {
		t.Error("switch record should get an ID")
	}

	switches, err := r.ListSwitches(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(switches) != 1 {
		t.Fatalf("got %d switches, want 1", len(switches))
	}
	if switches[0].NewPath != "incoming/v2.onnx" {
		t.Errorf("new path = %s, want incoming/v2.onnx", switches[0].NewPath)
	}
	if switches[0].Fingerprint != "deadbeef" {
		t.Errorf("fingerprint = %q, want deadbeef", switches[0].Fingerprint)
	}
	if !switches[0].SwitchedAt.Equal(at) {
		t.Errorf("switched at = %v, want %v", switches[0].SwitchedAt, at)
	}
}

func TestRegistry_Validations(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	at := time.Now()
	if err := r.RecordValidation(ctx, "incoming/v2.onnx", "deadbeef", true, "ok", at); err != nil {
		t.Fatal(err)
	}
	if err := r.RecordValidation(ctx, "incoming/v3.onnx", "", false, "unsupported op", at); err != nil {
		t.Fatal(err)
	}
}
