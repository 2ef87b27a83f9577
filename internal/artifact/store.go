// Package artifact persists derived pipeline outputs keyed by artifact kind
// and source photo id.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Rikharthu/bath-wallpaper-preview/internal/types"
)

// ErrInvalidID is returned for ids that could escape the store directory.
var ErrInvalidID = errors.New("artifact: invalid id")

// Store is a key-value store for artifact bytes. A missing entry is reported
// by ok == false, never by an error.
type Store interface {
	Save(kind types.ArtifactKind, id string, data []byte) (types.MediaFile, error)
	Load(kind types.ArtifactKind, id string) (data []byte, ok bool, err error)
	Stat(kind types.ArtifactKind, id string) (types.MediaFile, bool, error)
	Delete(kind types.ArtifactKind, id string) error
	List(kind types.ArtifactKind) ([]types.MediaFile, error)
}

// FileStore keeps each artifact in <root>/<kind>/<id><ext>. Writes go to a
// temporary file in the same directory and are renamed into place.
type FileStore struct {
	root string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates root if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}
	return &FileStore{root: root}, nil
}

// ValidateID rejects empty ids and ids containing path elements.
func ValidateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func (s *FileStore) path(kind types.ArtifactKind, id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return filepath.Join(s.root, string(kind), id+kind.Ext()), nil
}

// Save atomically replaces the artifact for kind and id.
func (s *FileStore) Save(kind types.ArtifactKind, id string, data []byte) (types.MediaFile, error) {
	path, err := s.path(kind, id)
	if err != nil {
		return types.MediaFile{}, err
	}
	if err := WriteFileAtomic(path, data); err != nil {
		return types.MediaFile{}, fmt.Errorf("failed to save %s %s: %w", kind, id, err)
	}
	return types.MediaFile{ID: id, FilePath: path}, nil
}

// WriteFileAtomic writes data to a temporary file in the target directory and
// renames it into place, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}

// Load returns the stored bytes. A missing file is a miss, not an error.
func (s *FileStore) Load(kind types.ArtifactKind, id string) ([]byte, bool, error) {
	path, err := s.path(kind, id)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load %s %s: %w", kind, id, err)
	}
	return data, true, nil
}

// Stat reports whether the artifact exists without reading it.
func (s *FileStore) Stat(kind types.ArtifactKind, id string) (types.MediaFile, bool, error) {
	path, err := s.path(kind, id)
	if err != nil {
		return types.MediaFile{}, false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return types.MediaFile{}, false, nil
	}
	if err != nil {
		return types.MediaFile{}, false, fmt.Errorf("failed to stat %s %s: %w", kind, id, err)
	}
	return types.MediaFile{ID: id, FilePath: path}, true, nil
}

// Delete removes the artifact; deleting an absent one succeeds.
func (s *FileStore) Delete(kind types.ArtifactKind, id string) error {
	path, err := s.path(kind, id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s %s: %w", kind, id, err)
	}
	return nil
}

// List returns the stored artifacts of kind, newest first.
func (s *FileStore) List(kind types.ArtifactKind) ([]types.MediaFile, error) {
	dir := filepath.Join(s.root, string(kind))
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []types.MediaFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}

	type entry struct {
		file types.MediaFile
		mod  int64
	}
	var found []entry
	ext := kind.Ext()
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, entry{
			file: types.MediaFile{ID: strings.TrimSuffix(name, ext), FilePath: filepath.Join(dir, name)},
			mod:  info.ModTime().UnixNano(),
		})
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].mod > found[j].mod })

	out := make([]types.MediaFile, len(found))
	for i, e := range found {
		out[i] = e.file
	}
	return out, nil
}
