package types

import "fmt"

// ArtifactKind identifies one of the derived, cacheable pipeline outputs.
type ArtifactKind string

const (
	KindRoomMask      ArtifactKind = "roomMask"
	KindRoomLayout    ArtifactKind = "roomLayout"
	KindWallpaperTile ArtifactKind = "wallpaperTile"
	KindPreview       ArtifactKind = "preview"
)

// ArtifactKinds lists every kind in pipeline order.
var ArtifactKinds = []ArtifactKind{KindRoomMask, KindRoomLayout, KindWallpaperTile, KindPreview}

// ParseArtifactKind validates a kind name.
func ParseArtifactKind(s string) (ArtifactKind, error) {
	for _, k := range ArtifactKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown artifact kind %q", s)
}

// Ext returns the file extension used when persisting the kind.
func (k ArtifactKind) Ext() string {
	if k == KindRoomLayout {
		return ".json"
	}
	return ".png"
}

// MediaFile is a handle to a persisted artifact or photo.
// ID is the source photo id, not a new identity for derived artifacts.
type MediaFile struct {
	ID       string `json:"id"`
	FilePath string `json:"file_path"`
}

// PhotoKind distinguishes the two photo collections.
type PhotoKind string

const (
	PhotoRoom      PhotoKind = "room"
	PhotoWallpaper PhotoKind = "wallpaper"
)

// Valid reports whether k names a known collection.
func (k PhotoKind) Valid() bool {
	return k == PhotoRoom || k == PhotoWallpaper
}

// PreviewID is the cache key of the preview for a room and wallpaper pair.
func PreviewID(roomID, wallpaperID string) string {
	return roomID + "_" + wallpaperID
}
