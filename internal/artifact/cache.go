package artifact

import (
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/Rikharthu/bath-wallpaper-preview/internal/imaging"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/types"
)

// CacheStats counts lookups since start.
type CacheStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Writes uint64 `json:"writes"`
}

// Cache is the typed get-or-compute layer over a Store. Masks, tiles and
// previews are stored as PNG, layouts as JSON.
//
// Cache does not serialize writers; callers keep at most one computation in
// flight per key.
type Cache struct {
	store Store

	hits   atomic.Uint64
	misses atomic.Uint64
	writes atomic.Uint64
}

// NewCache wraps store.
func NewCache(store Store) *Cache {
	return &Cache{store: store}
}

// Stats returns lookup counters.
func (c *Cache) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Writes: c.writes.Load()}
}

func (c *Cache) load(kind types.ArtifactKind, id string) ([]byte, bool, error) {
	data, ok, err := c.store.Load(kind, id)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		c.misses.Add(1)
		slog.Debug("artifact cache miss", "kind", kind, "id", id)
		return nil, false, nil
	}
	c.hits.Add(1)
	slog.Debug("artifact cache hit", "kind", kind, "id", id)
	return data, true, nil
}

func (c *Cache) save(kind types.ArtifactKind, id string, data []byte) (types.MediaFile, error) {
	mf, err := c.store.Save(kind, id, data)
	if err != nil {
		return types.MediaFile{}, err
	}
	c.writes.Add(1)
	return mf, nil
}

func (c *Cache) loadImage(kind types.ArtifactKind, id string) (image.Image, bool, error) {
	data, ok, err := c.load(kind, id)
	if err != nil || !ok {
		return nil, ok, err
	}
	img, err := imaging.DecodeBytes(data)
	if err != nil {
		return nil, false, fmt.Errorf("corrupt %s artifact %s: %w", kind, id, err)
	}
	return img, true, nil
}

func (c *Cache) saveImage(kind types.ArtifactKind, id string, img image.Image) (types.MediaFile, error) {
	data, err := imaging.EncodePNG(img)
	if err != nil {
		return types.MediaFile{}, err
	}
	return c.save(kind, id, data)
}

// LoadMask returns the wall mask of a room photo.
func (c *Cache) LoadMask(roomID string) (*image.Gray, bool, error) {
	img, ok, err := c.loadImage(types.KindRoomMask, roomID)
	if err != nil || !ok {
		return nil, ok, err
	}
	g, err := imaging.ToGray(img)
	return g, err == nil, err
}

// SaveMask stores the wall mask of a room photo.
func (c *Cache) SaveMask(roomID string, mask *image.Gray) (types.MediaFile, error) {
	return c.saveImage(types.KindRoomMask, roomID, mask)
}

// LoadLayout returns the room layout of a room photo.
func (c *Cache) LoadLayout(roomID string) (types.RoomLayout, bool, error) {
	data, ok, err := c.load(types.KindRoomLayout, roomID)
	if err != nil || !ok {
		return types.RoomLayout{}, ok, err
	}
	var l types.RoomLayout
	if err := json.Unmarshal(data, &l); err != nil {
		return types.RoomLayout{}, false, fmt.Errorf("corrupt room layout %s: %w", roomID, err)
	}
	return l, true, nil
}

// SaveLayout stores the room layout of a room photo as JSON.
func (c *Cache) SaveLayout(roomID string, l types.RoomLayout) (types.MediaFile, error) {
	data, err := json.Marshal(l)
	if err != nil {
		return types.MediaFile{}, fmt.Errorf("failed to encode room layout: %w", err)
	}
	return c.save(types.KindRoomLayout, roomID, data)
}

// LoadTile returns the synthesized tile of a wallpaper photo.
func (c *Cache) LoadTile(wallpaperID string) (*image.RGBA, bool, error) {
	img, ok, err := c.loadImage(types.KindWallpaperTile, wallpaperID)
	if err != nil || !ok {
		return nil, ok, err
	}
	rgba, err := imaging.ToRGBA(img)
	return rgba, err == nil, err
}

// SaveTile stores the synthesized tile of a wallpaper photo.
func (c *Cache) SaveTile(wallpaperID string, tile *image.RGBA) (types.MediaFile, error) {
	return c.saveImage(types.KindWallpaperTile, wallpaperID, tile)
}

// LookupPreview reports the stored preview for previewID without decoding it.
func (c *Cache) LookupPreview(previewID string) (types.MediaFile, bool, error) {
	mf, ok, err := c.store.Stat(types.KindPreview, previewID)
	if err != nil {
		return types.MediaFile{}, false, err
	}
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return mf, ok, nil
}

// SavePreview stores a composed preview.
func (c *Cache) SavePreview(previewID string, img *image.RGBA) (types.MediaFile, error) {
	return c.saveImage(types.KindPreview, previewID, img)
}

// Raw returns the encoded bytes of an artifact.
func (c *Cache) Raw(kind types.ArtifactKind, id string) ([]byte, bool, error) {
	return c.store.Load(kind, id)
}

// List returns the stored artifacts of kind, newest first.
func (c *Cache) List(kind types.ArtifactKind) ([]types.MediaFile, error) {
	return c.store.List(kind)
}

// Invalidate deletes the artifact if present.
func (c *Cache) Invalidate(kind types.ArtifactKind, id string) error {
	if err := c.store.Delete(kind, id); err != nil {
		return err
	}
	slog.Debug("artifact invalidated", "kind", kind, "id", id)
	return nil
}

// InvalidateDerived deletes the artifact and every preview composed from it.
// A room's mask or layout feeds the previews with prefix "id_", a wallpaper
// tile the previews with suffix "_id".
func (c *Cache) InvalidateDerived(kind types.ArtifactKind, id string) error {
	var uses func(previewID string) bool
	switch kind {
	case types.KindRoomMask, types.KindRoomLayout:
		uses = func(pid string) bool { return strings.HasPrefix(pid, id+"_") }
	case types.KindWallpaperTile:
		uses = func(pid string) bool { return strings.HasSuffix(pid, "_"+id) }
	}
	if err := c.Invalidate(kind, id); err != nil {
		return err
	}
	if uses == nil {
		return nil
	}

	previews, err := c.List(types.KindPreview)
	if err != nil {
		return fmt.Errorf("failed to list previews: %w", err)
	}
	for _, mf := range previews {
		if !uses(mf.ID) {
			continue
		}
		if err := c.Invalidate(types.KindPreview, mf.ID); err != nil {
			return fmt.Errorf("failed to invalidate preview %s: %w", mf.ID, err)
		}
	}
	return nil
}
