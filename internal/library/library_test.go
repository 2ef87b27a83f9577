package library

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Rikharthu/bath-wallpaper-preview/internal/artifact"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/types"
)

func newLibrary(t *testing.T) (*Library, *artifact.Cache) {
	t.Helper()
	root := t.TempDir()

	db, err := OpenSQLite(filepath.Join(root, "db", "library.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := artifact.NewFileStore(filepath.Join(root, "artifacts"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	cache := artifact.NewCache(store)

	lib := New(db, root, cache)
	if err := lib.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	// Migrations are idempotent.
	if err := lib.Init(context.Background()); err != nil {
		t.Fatalf("second Init failed: %v", err)
	}
	return lib, cache
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode failed: %v", err)
	}
	return buf.Bytes()
}

// TestAddAndLoad verifies uploads are stored, catalogued and decodable.
func TestAddAndLoad(t *testing.T) {
	lib, _ := newLibrary(t)
	ctx := context.Background()

	p, err := lib.AddPhoto(ctx, types.PhotoRoom, bytes.NewReader(pngBytes(t, 12, 8)))
	if err != nil {
		t.Fatalf("AddPhoto failed: %v", err)
	}
	if p.Format != "png" || p.Width != 12 || p.Height != 8 {
		t.Errorf("Unexpected photo %+v", p)
	}
	if !strings.HasSuffix(p.Path, p.ID+".png") {
		t.Errorf("Unexpected path %s", p.Path)
	}

	got, err := lib.Get(ctx, types.PhotoRoom, p.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != p.ID || !got.CreatedAt.Equal(p.CreatedAt) {
		t.Errorf("Expected %+v, got %+v", p, got)
	}

	img, err := lib.RoomPhoto(ctx, p.ID)
	if err != nil {
		t.Fatalf("RoomPhoto failed: %v", err)
	}
	if img.Bounds().Dx() != 12 || img.Bounds().Dy() != 8 {
		t.Errorf("Expected 12x8, got %v", img.Bounds())
	}

	if _, err := lib.WallpaperPhoto(ctx, p.ID); !errors.Is(err, ErrPhotoNotFound) {
		t.Errorf("Expected ErrPhotoNotFound for wrong kind, got %v", err)
	}
}

// TestAddJPEG verifies the stored extension follows the decoded format.
func TestAddJPEG(t *testing.T) {
	lib, _ := newLibrary(t)
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.RGBA{255, 0, 0, 255})
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg.Encode failed: %v", err)
	}

	p, err := lib.AddPhoto(context.Background(), types.PhotoWallpaper, &buf)
	if err != nil {
		t.Fatalf("AddPhoto failed: %v", err)
	}
	if p.Format != "jpeg" || filepath.Ext(p.Path) != ".jpg" {
		t.Errorf("Expected jpeg stored as .jpg, got %s %s", p.Format, p.Path)
	}
}

// TestAddRejectsInvalidInput verifies non-images and unknown kinds are rejected.
func TestAddRejectsInvalidInput(t *testing.T) {
	lib, _ := newLibrary(t)
	ctx := context.Background()

	if _, err := lib.AddPhoto(ctx, types.PhotoRoom, strings.NewReader("not an image")); !errors.Is(err, ErrUndecodable) {
		t.Errorf("Expected ErrUndecodable, got %v", err)
	}
	data := pngBytes(t, 8, 8)
	if _, err := lib.AddPhoto(ctx, types.PhotoRoom, bytes.NewReader(data[:len(data)-12])); !errors.Is(err, ErrUndecodable) {
		t.Errorf("Expected ErrUndecodable for truncated png, got %v", err)
	}
	if _, err := lib.AddPhoto(ctx, types.PhotoKind("ceiling"), bytes.NewReader(pngBytes(t, 2, 2))); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("Expected ErrInvalidKind, got %v", err)
	}

	photos, err := lib.List(ctx, types.PhotoRoom)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(photos) != 0 {
		t.Errorf("Expected empty library, got %d photos", len(photos))
	}
}

// TestListNewestFirst verifies ordering and kind filtering.
func TestListNewestFirst(t *testing.T) {
	lib, _ := newLibrary(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		p, err := lib.AddPhoto(ctx, types.PhotoRoom, bytes.NewReader(pngBytes(t, 2+i, 2)))
		if err != nil {
			t.Fatalf("AddPhoto failed: %v", err)
		}
		ids = append(ids, p.ID)
	}
	if _, err := lib.AddPhoto(ctx, types.PhotoWallpaper, bytes.NewReader(pngBytes(t, 2, 2))); err != nil {
		t.Fatalf("AddPhoto failed: %v", err)
	}

	photos, err := lib.List(ctx, types.PhotoRoom)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(photos) != 3 {
		t.Fatalf("Expected 3 rooms, got %d", len(photos))
	}
	for i, p := range photos {
		if p.ID != ids[2-i] {
			t.Errorf("position %d: expected %s, got %s", i, ids[2-i], p.ID)
		}
	}
}

// TestDeleteRoomCascades verifies derived room artifacts and previews are invalidated.
func TestDeleteRoomCascades(t *testing.T) {
	lib, cache := newLibrary(t)
	ctx := context.Background()

	room, err := lib.AddPhoto(ctx, types.PhotoRoom, bytes.NewReader(pngBytes(t, 4, 4)))
	if err != nil {
		t.Fatalf("AddPhoto failed: %v", err)
	}
	id := room.ID

	cache.SaveMask(id, image.NewGray(image.Rect(0, 0, 4, 4)))
	cache.SaveLayout(id, types.RoomLayout{RoomType: 1})
	cache.SavePreview(types.PreviewID(id, "w1"), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	cache.SavePreview(types.PreviewID(id, "w2"), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	cache.SavePreview(types.PreviewID("other", "w1"), image.NewRGBA(image.Rect(0, 0, 4, 4)))

	if err := lib.Delete(ctx, types.PhotoRoom, id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := lib.Get(ctx, types.PhotoRoom, id); !errors.Is(err, ErrPhotoNotFound) {
		t.Errorf("Expected ErrPhotoNotFound, got %v", err)
	}
	for _, kind := range []types.ArtifactKind{types.KindRoomMask, types.KindRoomLayout} {
		if _, ok, _ := cache.Raw(kind, id); ok {
			t.Errorf("Expected %s to be invalidated", kind)
		}
	}
	previews, _ := cache.List(types.KindPreview)
	if len(previews) != 1 || previews[0].ID != "other_w1" {
		t.Errorf("Expected only other_w1 to remain, got %+v", previews)
	}
}

// TestDeleteWallpaperCascades verifies the tile and previews using the wallpaper are invalidated.
func TestDeleteWallpaperCascades(t *testing.T) {
	lib, cache := newLibrary(t)
	ctx := context.Background()

	wp, err := lib.AddPhoto(ctx, types.PhotoWallpaper, bytes.NewReader(pngBytes(t, 4, 4)))
	if err != nil {
		t.Fatalf("AddPhoto failed: %v", err)
	}
	cache.SaveTile(wp.ID, image.NewRGBA(image.Rect(0, 0, 4, 4)))
	cache.SavePreview(types.PreviewID("r1", wp.ID), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	cache.SavePreview(types.PreviewID("r1", "keep"), image.NewRGBA(image.Rect(0, 0, 4, 4)))

	if err := lib.Delete(ctx, types.PhotoWallpaper, wp.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := cache.Raw(types.KindWallpaperTile, wp.ID); ok {
		t.Error("Expected tile to be invalidated")
	}
	previews, _ := cache.List(types.KindPreview)
	if len(previews) != 1 || previews[0].ID != "r1_keep" {
		t.Errorf("Expected only r1_keep to remain, got %+v", previews)
	}
}

// TestDeleteAbsent verifies deleting a missing photo succeeds.
func TestDeleteAbsent(t *testing.T) {
	lib, _ := newLibrary(t)
	if err := lib.Delete(context.Background(), types.PhotoRoom, "nope"); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
}
