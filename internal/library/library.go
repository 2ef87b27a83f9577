// Package library keeps the user's room and wallpaper photos: the original
// files on disk and a SQLite catalog of their metadata. Deleting a photo
// invalidates every cached artifact derived from it.
package library

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Rikharthu/bath-wallpaper-preview/internal/artifact"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/imaging"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/types"
)

var (
	// ErrPhotoNotFound is returned when no photo of the kind has the id.
	ErrPhotoNotFound = errors.New("library: photo not found")
	// ErrInvalidKind is returned for kinds other than room and wallpaper.
	ErrInvalidKind = errors.New("library: invalid photo kind")
	// ErrUndecodable is returned when an upload is not a complete PNG, JPEG or WebP image.
	ErrUndecodable = errors.New("library: undecodable image")
)

// Photo is a catalog entry.
type Photo struct {
	ID        string          `json:"id"`
	Kind      types.PhotoKind `json:"kind"`
	Path      string          `json:"file_path"`
	Format    string          `json:"format"`
	Width     int             `json:"width"`
	Height    int             `json:"height"`
	CreatedAt time.Time       `json:"created_at"`
}

// MediaFile returns the photo as a generic media reference.
func (p Photo) MediaFile() types.MediaFile {
	return types.MediaFile{ID: p.ID, FilePath: p.Path}
}

// Library stores photos and cascades deletions into the artifact cache.
type Library struct {
	db    *sql.DB
	root  string
	cache *artifact.Cache
}

// New returns a Library storing files under <root>/photos.
func New(db *sql.DB, root string, cache *artifact.Cache) *Library {
	return &Library{db: db, root: filepath.Join(root, "photos"), cache: cache}
}

// Init applies the catalog schema.
func (l *Library) Init(ctx context.Context) error {
	if err := migrate(ctx, l.db); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	return nil
}

func checkKind(kind types.PhotoKind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	return nil
}

func extension(format string) string {
	switch format {
	case "jpeg":
		return ".jpg"
	default:
		return "." + format
	}
}

// AddPhoto validates and stores an uploaded image.
func (l *Library) AddPhoto(ctx context.Context, kind types.PhotoKind, r io.Reader) (Photo, error) {
	if err := checkKind(kind); err != nil {
		return Photo{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Photo{}, fmt.Errorf("failed to read upload: %w", err)
	}
	img, format, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return Photo{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	b := img.Bounds()
	if b.Empty() {
		return Photo{}, fmt.Errorf("%w: empty %dx%d", ErrUndecodable, b.Dx(), b.Dy())
	}

	p := Photo{
		ID:        uuid.NewString(),
		Kind:      kind,
		Format:    format,
		Width:     b.Dx(),
		Height:    b.Dy(),
		CreatedAt: time.Now().UTC(),
	}
	p.Path = filepath.Join(l.root, string(kind), p.ID+extension(format))

	if err := artifact.WriteFileAtomic(p.Path, data); err != nil {
		return Photo{}, fmt.Errorf("failed to store photo: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
        INSERT INTO photos (id, kind, path, format, width, height, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `, p.ID, string(p.Kind), p.Path, p.Format, p.Width, p.Height, p.CreatedAt.UnixNano())
	if err != nil {
		os.Remove(p.Path)
		return Photo{}, fmt.Errorf("failed to record photo: %w", err)
	}

	slog.Info("photo added",
		"kind", kind,
		"photo_id", p.ID,
		"format", format,
		"width", p.Width,
		"height", p.Height,
	)
	return p, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPhoto(row scanner) (Photo, error) {
	var (
		p       Photo
		kind    string
		created int64
	)
	if err := row.Scan(&p.ID, &kind, &p.Path, &p.Format, &p.Width, &p.Height, &created); err != nil {
		return Photo{}, err
	}
	p.Kind = types.PhotoKind(kind)
	p.CreatedAt = time.Unix(0, created).UTC()
	return p, nil
}

// Get returns the catalog entry of a photo.
func (l *Library) Get(ctx context.Context, kind types.PhotoKind, id string) (Photo, error) {
	if err := checkKind(kind); err != nil {
		return Photo{}, err
	}
	row := l.db.QueryRowContext(ctx, `
        SELECT id, kind, path, format, width, height, created_at
        FROM photos
        WHERE kind = ? AND id = ?
    `, string(kind), id)

	p, err := scanPhoto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Photo{}, fmt.Errorf("%w: %s %s", ErrPhotoNotFound, kind, id)
	}
	if err != nil {
		return Photo{}, err
	}
	return p, nil
}

// List returns the photos of kind, newest first.
func (l *Library) List(ctx context.Context, kind types.PhotoKind) ([]Photo, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	rows, err := l.db.QueryContext(ctx, `
        SELECT id, kind, path, format, width, height, created_at
        FROM photos
        WHERE kind = ?
        ORDER BY created_at DESC, rowid DESC
    `, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	photos := []Photo{}
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

// Load decodes a stored photo.
func (l *Library) Load(ctx context.Context, kind types.PhotoKind, id string) (image.Image, error) {
	p, err := l.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open photo: %w", err)
	}
	defer f.Close()

	img, _, err := imaging.Decode(f)
	return img, err
}

// RoomPhoto loads a room photo for the pipeline.
func (l *Library) RoomPhoto(ctx context.Context, id string) (image.Image, error) {
	return l.Load(ctx, types.PhotoRoom, id)
}

// WallpaperPhoto loads a wallpaper photo for the pipeline.
func (l *Library) WallpaperPhoto(ctx context.Context, id string) (image.Image, error) {
	return l.Load(ctx, types.PhotoWallpaper, id)
}

// Delete removes a photo and every artifact derived from it. Deleting an
// absent photo succeeds.
func (l *Library) Delete(ctx context.Context, kind types.PhotoKind, id string) error {
	if err := checkKind(kind); err != nil {
		return err
	}
	p, err := l.Get(ctx, kind, id)
	switch {
	case errors.Is(err, ErrPhotoNotFound):
	case err != nil:
		return err
	default:
		if _, err := l.db.ExecContext(ctx, `DELETE FROM photos WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete photo record: %w", err)
		}
		if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete photo file: %w", err)
		}
	}

	if err := l.invalidate(kind, id); err != nil {
		return err
	}
	slog.Info("photo deleted", "kind", kind, "photo_id", id)
	return nil
}

// invalidate drops artifacts derived from a photo: mask and layout of a room,
// the tile of a wallpaper and every preview combining it.
func (l *Library) invalidate(kind types.PhotoKind, id string) error {
	if l.cache == nil {
		return nil
	}
	if err := artifact.ValidateID(id); err != nil {
		return nil
	}

	var derived []types.ArtifactKind
	switch kind {
	case types.PhotoRoom:
		derived = []types.ArtifactKind{types.KindRoomMask, types.KindRoomLayout}
	case types.PhotoWallpaper:
		derived = []types.ArtifactKind{types.KindWallpaperTile}
	}
	for _, k := range derived {
		if err := l.cache.InvalidateDerived(k, id); err != nil {
			return fmt.Errorf("failed to invalidate %s: %w", k, err)
		}
	}
	return nil
}
