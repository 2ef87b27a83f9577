package artifact

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Rikharthu/bath-wallpaper-preview/internal/types"
)

func newTestCache(t *testing.T) (*Cache, *FileStore) {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return NewCache(store), store
}

// TestLoadMissIsNotError verifies an absent artifact is a plain miss.
func TestLoadMissIsNotError(t *testing.T) {
	_, store := newTestCache(t)
	data, ok, err := store.Load(types.KindPreview, "absent")
	if err != nil || ok || data != nil {
		t.Errorf("Expected clean miss, got data=%v ok=%v err=%v", data, ok, err)
	}
}

// TestSaveOverwritesAtomically verifies overwrite leaves no temporary files behind.
func TestSaveOverwritesAtomically(t *testing.T) {
	_, store := newTestCache(t)

	if _, err := store.Save(types.KindRoomLayout, "abc", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	mf, err := store.Save(types.KindRoomLayout, "abc", []byte(`{"v":2}`))
	if err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	if mf.ID != "abc" || !strings.HasSuffix(mf.FilePath, "abc.json") {
		t.Errorf("Expected abc.json keyed by source id, got %+v", mf)
	}

	data, ok, err := store.Load(types.KindRoomLayout, "abc")
	if err != nil || !ok || string(data) != `{"v":2}` {
		t.Errorf("Expected second payload, got %q ok=%v err=%v", data, ok, err)
	}

	entries, _ := os.ReadDir(filepath.Dir(mf.FilePath))
	if len(entries) != 1 {
		t.Errorf("Expected exactly one file in kind dir, got %d", len(entries))
	}
}

// TestSaveFailureLeavesNoTempFile verifies a failed write cleans up its temporary file.
func TestSaveFailureLeavesNoTempFile(t *testing.T) {
	_, store := newTestCache(t)
	mf, err := store.Save(types.KindRoomMask, "room", []byte("good"))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// A non-empty directory at the target path makes the rename fail.
	if err := os.Remove(mf.FilePath); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := os.Mkdir(mf.FilePath, 0o755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(mf.FilePath, "x"), nil, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := store.Save(types.KindRoomMask, "room", []byte("bad")); err == nil {
		t.Fatal("Expected save over a non-empty directory to fail")
	}
	entries, _ := os.ReadDir(filepath.Dir(mf.FilePath))
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("Temporary file %s left behind", e.Name())
		}
	}
}

// TestInvalidateAbsent verifies invalidating a missing artifact succeeds.
func TestInvalidateAbsent(t *testing.T) {
	cache, _ := newTestCache(t)
	if err := cache.Invalidate(types.KindWallpaperTile, "nothing"); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}

// TestInvalidateDerivedDropsPreviews verifies dropping an input also drops the
// previews composed from it and leaves unrelated previews alone.
func TestInvalidateDerivedDropsPreviews(t *testing.T) {
	cache, store := newTestCache(t)
	seed := func(kind types.ArtifactKind, ids ...string) {
		for _, id := range ids {
			if _, err := store.Save(kind, id, []byte(id)); err != nil {
				t.Fatalf("Save %s/%s failed: %v", kind, id, err)
			}
		}
	}
	seed(types.KindRoomMask, "r1", "r2")
	seed(types.KindWallpaperTile, "w1", "w2")
	seed(types.KindPreview, "r1_w1", "r1_w2", "r2_w1", "r2_w2")

	if err := cache.InvalidateDerived(types.KindRoomMask, "r1"); err != nil {
		t.Fatalf("InvalidateDerived mask failed: %v", err)
	}
	if err := cache.InvalidateDerived(types.KindWallpaperTile, "w2"); err != nil {
		t.Fatalf("InvalidateDerived tile failed: %v", err)
	}

	present := map[string]bool{"r1_w1": false, "r1_w2": false, "r2_w1": true, "r2_w2": false}
	for id, want := range present {
		if _, ok, _ := cache.Raw(types.KindPreview, id); ok != want {
			t.Errorf("preview %s: expected present=%v, got %v", id, want, ok)
		}
	}
	if _, ok, _ := cache.Raw(types.KindRoomMask, "r1"); ok {
		t.Error("Expected mask r1 removed")
	}
	if _, ok, _ := cache.Raw(types.KindRoomMask, "r2"); !ok {
		t.Error("Expected mask r2 kept")
	}
	if _, ok, _ := cache.Raw(types.KindWallpaperTile, "w1"); !ok {
		t.Error("Expected tile w1 kept")
	}

	if err := cache.InvalidateDerived(types.KindPreview, "r2_w1"); err != nil {
		t.Fatalf("InvalidateDerived preview failed: %v", err)
	}
	if _, ok, _ := cache.Raw(types.KindPreview, "r2_w1"); ok {
		t.Error("Expected preview r2_w1 removed")
	}
}

// TestRejectsPathIDs verifies ids cannot escape the store directory.
func TestRejectsPathIDs(t *testing.T) {
	_, store := newTestCache(t)
	for _, id := range []string{"", "..", "../x", "a/b", `a\b`} {
		if _, err := store.Save(types.KindPreview, id, nil); !errors.Is(err, ErrInvalidID) {
			t.Errorf("id %q: expected ErrInvalidID, got %v", id, err)
		}
	}
}

// TestCacheTypedRoundTrip verifies masks, tiles and layouts come back as stored.
func TestCacheTypedRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)

	mask := image.NewGray(image.Rect(0, 0, 3, 2))
	mask.Pix[1] = 255
	if _, err := cache.SaveMask("r1", mask); err != nil {
		t.Fatalf("SaveMask failed: %v", err)
	}
	gotMask, ok, err := cache.LoadMask("r1")
	if err != nil || !ok {
		t.Fatalf("LoadMask: ok=%v err=%v", ok, err)
	}
	if gotMask.Pix[1] != 255 || gotMask.Pix[0] != 0 {
		t.Errorf("Expected mask pixels preserved, got %v", gotMask.Pix)
	}

	tile := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := range tile.Pix {
		tile.Pix[i] = 255
	}
	tile.Pix[0] = 17
	if _, err := cache.SaveTile("w1", tile); err != nil {
		t.Fatalf("SaveTile failed: %v", err)
	}
	gotTile, ok, err := cache.LoadTile("w1")
	if err != nil || !ok || gotTile.Pix[0] != 17 {
		t.Errorf("Expected tile pixel 17, got ok=%v err=%v", ok, err)
	}

	layout := types.RoomLayout{RoomType: 4, Edges: []types.Line{{End: types.Point{X: 2, Y: 3}}}}
	if _, err := cache.SaveLayout("r1", layout); err != nil {
		t.Fatalf("SaveLayout failed: %v", err)
	}
	gotLayout, ok, err := cache.LoadLayout("r1")
	if err != nil || !ok || gotLayout.RoomType != 4 || len(gotLayout.Edges) != 1 {
		t.Errorf("Expected layout back, got %+v ok=%v err=%v", gotLayout, ok, err)
	}

	stats := cache.Stats()
	if stats.Hits != 3 || stats.Writes != 3 {
		t.Errorf("Expected 3 hits and 3 writes, got %+v", stats)
	}
}

// TestListNewestFirst verifies listing skips temp files and orders by time.
func TestListNewestFirst(t *testing.T) {
	cache, store := newTestCache(t)
	for _, id := range []string{"a", "b"} {
		if _, err := store.Save(types.KindPreview, id, []byte(id)); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	os.WriteFile(filepath.Join(store.root, "preview", ".c.png.tmp-1"), nil, 0o644)

	files, err := cache.List(types.KindPreview)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("Expected 2 previews, got %d", len(files))
	}
}
