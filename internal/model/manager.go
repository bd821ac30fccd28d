// Package model manages the lifecycle of serving models: validation
// before promotion, additive archiving, and atomic switch-over of the
// current model.
package model

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"

	"github.com/factoryml/factoryml/internal/errors"
	"github.com/factoryml/factoryml/internal/inference"
	"github.com/factoryml/factoryml/internal/storage"
	"github.com/factoryml/factoryml/pkg/types"
)

// archiveTimestampLayout produces names like model_20250314_093000.onnx.
const archiveTimestampLayout = "20060102_150405"

// ManagerConfig configures a lifecycle manager.
type ManagerConfig struct {
	// CurrentPath is the file backing the CURRENT model slot
	CurrentPath string

	// ArchiveDir receives timestamp-suffixed archive copies
	ArchiveDir string

	// Registry records the deployment audit trail; nil disables it
	Registry *Registry

	// Mirror replicates archive copies off-box; nil disables mirroring
	Mirror storage.ObjectStorage

	// Now overrides the clock, for tests; nil means time.Now
	Now func() time.Time
}

// Manager owns the filesystem locations of the current model and its
// archive. Lifecycle operations are serialized; validation uses
// throwaway sessions and never touches the serving engine.
type Manager struct {
	rt       inference.Runtime
	engine   *inference.Engine
	current  string
	archive  string
	registry *Registry
	mirror   storage.ObjectStorage
	now      func() time.Time

	mu sync.Mutex
}

// NewManager creates a lifecycle manager operating on the given engine.
func NewManager(rt inference.Runtime, engine *inference.Engine, cfg ManagerConfig) *Manager {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		rt:       rt,
		engine:   engine,
		current:  cfg.CurrentPath,
		archive:  cfg.ArchiveDir,
		registry: cfg.Registry,
		mirror:   cfg.Mirror,
		now:      now,
	}
}

// CurrentPath returns the file backing the CURRENT slot.
func (m *Manager) CurrentPath() string {
	return m.current
}

// ValidateModel attempts to load the model at path into a throwaway
// session. A clean load yields no errors; a failed load yields one
// error describing why. Validation never affects the live serving
// session.
func (m *Manager) ValidateModel(ctx context.Context, path string) []types.ValidationError {
	var errs []types.ValidationError

	if _, err := os.Stat(path); err != nil {
		errs = append(errs, types.ValidationError{
			ColumnName: "",
			RowIndex:   -1,
			Message:    fmt.Sprintf("model file not found: %s", path),
		})
	} else {
		sess, err := m.rt.Load(ctx, path)
		if err != nil {
			errs = append(errs, types.ValidationError{
				ColumnName: "",
				RowIndex:   -1,
				Message:    fmt.Sprintf("model %s failed to load: %v", path, err),
			})
		} else {
			sess.Close()
		}
	}

	if m.registry != nil {
		msg := "ok"
		if len(errs) > 0 {
			msg = errs[0].Message
		}
		if err := m.registry.RecordValidation(ctx, path, modelFingerprint(path), len(errs) == 0, msg, m.now()); err != nil {
			log.Printf("model: failed to record validation of %s: %v", path, err)
		}
	}
	return errs
}

// ArchiveModel copies the current model into the archive directory as
// <name>_<timestamp>.onnx. Archiving is additive: the source is never
// deleted. The vocab sidecar travels with the copy when present. The
// archived copy is mirrored to object storage best-effort; a mirror
// failure does not fail the archive.
func (m *Manager) ArchiveModel(ctx context.Context, name string) (*types.ArchiveEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(m.current); err != nil {
		return nil, errors.NewArchiveError(
			fmt.Sprintf("current model %s does not exist", m.current), err)
	}

	at := m.now()
	archivedPath := filepath.Join(m.archive,
		fmt.Sprintf("%s_%s.onnx", name, at.Format(archiveTimestampLayout)))

	if err := copyFile(m.current, archivedPath); err != nil {
		return nil, errors.NewArchiveError(
			fmt.Sprintf("failed to copy %s to %s", m.current, archivedPath), err)
	}
	if err := copySidecar(m.current, archivedPath); err != nil {
		os.Remove(archivedPath)
		return nil, errors.NewArchiveError(
			fmt.Sprintf("failed to copy vocab sidecar for %s", m.current), err)
	}

	entry := &types.ArchiveEntry{
		ID:           uuid.NewString(),
		OriginalPath: m.current,
		ArchivedPath: archivedPath,
		ArchivedAt:   at,
	}

	if m.registry != nil {
		if err := m.registry.RecordArchive(ctx, entry); err != nil {
			log.Printf("model: failed to record archive entry: %v", err)
		}
	}

	if m.mirror != nil {
		objectPath := filepath.Base(archivedPath)
		if err := m.mirror.Upload(ctx, archivedPath, objectPath); err != nil {
			log.Printf("model: archive mirror upload failed for %s: %v", archivedPath, err)
		}
		sidecar := inference.VocabPath(archivedPath)
		if _, err := os.Stat(sidecar); err == nil {
			if err := m.mirror.Upload(ctx, sidecar, filepath.Base(sidecar)); err != nil {
				log.Printf("model: archive mirror upload failed for %s: %v", sidecar, err)
			}
		}
	}

	log.Printf("model: archived %s -> %s", m.current, archivedPath)
	return entry, nil
}

// SwitchModel promotes the model at newPath to CURRENT. The model is
// validated first; a model that fails validation is rejected without
// side effects. The current file is then replaced atomically (staged
// copy + rename, with the previous file kept until the serving engine
// has swapped), and the engine reloads. On any failure the previous
// model remains fully active and the previous file is restored.
func (m *Manager) SwitchModel(ctx context.Context, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if verrs := m.validateQuiet(ctx, newPath); len(verrs) > 0 {
		return errors.New(errors.ErrCategoryModel, errors.CodeSwitchRejected,
			fmt.Sprintf("model %s failed validation: %s", newPath, verrs[0].Message))
	}

	oldPath := m.current + ".prev"
	hadOld := false
	if _, err := os.Stat(m.current); err == nil {
		if err := os.Rename(m.current, oldPath); err != nil {
			return errors.Wrap(errors.ErrCategoryModel, errors.CodeSwitchRejected,
				fmt.Sprintf("failed to stage previous model %s", m.current), err)
		}
		hadOld = true
	}

	restore := func() {
		if hadOld {
			if err := os.Rename(oldPath, m.current); err != nil {
				log.Printf("model: failed to restore previous model %s: %v", m.current, err)
			}
		}
	}

	if err := copyFile(newPath, m.current); err != nil {
		os.Remove(m.current)
		restore()
		return errors.Wrap(errors.ErrCategoryModel, errors.CodeSwitchRejected,
			fmt.Sprintf("failed to install %s as current model", newPath), err)
	}
	if err := copySidecar(newPath, m.current); err != nil {
		os.Remove(m.current)
		restore()
		return errors.Wrap(errors.ErrCategoryModel, errors.CodeSwitchRejected,
			fmt.Sprintf("failed to install vocab sidecar for %s", newPath), err)
	}

	if err := m.engine.SwapCurrent(ctx, m.current); err != nil {
		os.Remove(m.current)
		os.Remove(inference.VocabPath(m.current))
		restore()
		return err
	}

	if hadOld {
		os.Remove(oldPath)
		os.Remove(inference.VocabPath(oldPath))
	}

	if m.registry != nil {
		if _, err := m.registry.RecordSwitch(ctx, m.current, newPath, modelFingerprint(m.current), m.now()); err != nil {
			log.Printf("model: failed to record switch to %s: %v", newPath, err)
		}
	}

	log.Printf("model: switched current model to content of %s", newPath)
	return nil
}

// ListArchives returns the recorded archive entries, newest first.
func (m *Manager) ListArchives(ctx context.Context) ([]types.ArchiveEntry, error) {
	if m.registry == nil {
		return nil, nil
	}
	return m.registry.ListArchives(ctx)
}

// RestoreArchive downloads a mirrored archive copy back into the
// archive directory and returns its local path. The vocab sidecar is
// restored alongside when the mirror holds one. Restoring never
// touches the CURRENT slot; promote the restored file with
// SwitchModel.
func (m *Manager) RestoreArchive(ctx context.Context, objectPath string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mirror == nil {
		return "", errors.New(errors.ErrCategoryStorage, errors.CodeDownloadFailed,
			"no archive mirror configured")
	}

	ok, err := m.mirror.Exists(ctx, objectPath)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.New(errors.ErrCategoryStorage, errors.CodeObjectNotFound,
			fmt.Sprintf("archive object not found in mirror: %s", objectPath))
	}

	localPath := filepath.Join(m.archive, filepath.Base(objectPath))
	if err := m.mirror.Download(ctx, objectPath, localPath); err != nil {
		return "", err
	}

	sidecarObject := inference.VocabPath(objectPath)
	if ok, err := m.mirror.Exists(ctx, sidecarObject); err == nil && ok {
		if err := m.mirror.Download(ctx, sidecarObject, inference.VocabPath(localPath)); err != nil {
			os.Remove(localPath)
			return "", err
		}
	}

	log.Printf("model: restored archive %s -> %s", objectPath, localPath)
	return localPath, nil
}

// ListMirror returns the object paths currently held by the archive
// mirror, for reconciling against the local archive.
func (m *Manager) ListMirror(ctx context.Context) ([]string, error) {
	if m.mirror == nil {
		return nil, nil
	}
	return m.mirror.ListObjects(ctx, "")
}

// PruneArchives removes local archive copies beyond the newest keep
// entries, together with their mirrored copies. Registry rows are kept:
// the audit trail outlives the files it describes. Returns the archived
// paths that were removed.
func (m *Manager) PruneArchives(ctx context.Context, keep int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if keep < 0 {
		return nil, errors.New(errors.ErrCategoryModel, errors.CodeArchiveFailed,
			fmt.Sprintf("prune keep count must be non-negative, got %d", keep))
	}
	if m.registry == nil {
		return nil, nil
	}

	entries, err := m.registry.ListArchives(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) <= keep {
		return nil, nil
	}

	var removed []string
	for _, e := range entries[keep:] {
		if err := os.Remove(e.ArchivedPath); err != nil && !os.IsNotExist(err) {
			log.Printf("model: failed to prune %s: %v", e.ArchivedPath, err)
			continue
		}
		os.Remove(inference.VocabPath(e.ArchivedPath))
		if m.mirror != nil {
			objectPath := filepath.Base(e.ArchivedPath)
			if err := m.mirror.Delete(ctx, objectPath); err != nil {
				log.Printf("model: failed to prune mirror object %s: %v", objectPath, err)
			}
			if ok, err := m.mirror.Exists(ctx, inference.VocabPath(objectPath)); err == nil && ok {
				m.mirror.Delete(ctx, inference.VocabPath(objectPath))
			}
		}
		removed = append(removed, e.ArchivedPath)
	}

	if len(removed) > 0 {
		log.Printf("model: pruned %d archive copies, kept newest %d", len(removed), keep)
	}
	return removed, nil
}

// modelFingerprint hashes the model file contents. An unreadable file
// yields an empty fingerprint rather than blocking the registry write.
func modelFingerprint(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	h := murmur3.New128()
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// validateQuiet is ValidateModel without the registry write; switch
// records its own outcome.
func (m *Manager) validateQuiet(ctx context.Context, path string) []types.ValidationError {
	if _, err := os.Stat(path); err != nil {
		return []types.ValidationError{{RowIndex: -1, Message: fmt.Sprintf("model file not found: %s", path)}}
	}
	sess, err := m.rt.Load(ctx, path)
	if err != nil {
		return []types.ValidationError{{RowIndex: -1, Message: fmt.Sprintf("model %s failed to load: %v", path, err)}}
	}
	sess.Close()
	return nil
}

// copySidecar copies the vocab sidecar of src next to dst when one
// exists; a model without a sidecar is copied alone.
func copySidecar(src, dst string) error {
	srcSidecar := inference.VocabPath(src)
	if _, err := os.Stat(srcSidecar); os.IsNotExist(err) {
		return nil
	}
	return copyFile(srcSidecar, inference.VocabPath(dst))
}

// copyFile copies src to dst, fsyncing the destination.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
