package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v3"

	"github.com/Rikharthu/bath-wallpaper-preview/internal/artifact"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/library"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/pipeline"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/types"
)

type photoRoutes struct {
	path string
	kind types.PhotoKind
}

var (
	roomRoutes      = photoRoutes{path: "rooms", kind: types.PhotoRoom}
	wallpaperRoutes = photoRoutes{path: "wallpapers", kind: types.PhotoWallpaper}
)

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, library.ErrPhotoNotFound), errors.Is(err, pipeline.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, library.ErrInvalidKind), errors.Is(err, artifact.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, library.ErrUndecodable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrNotCancellable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func fail(c fiber.Ctx, err error) error {
	return c.Status(errorStatus(err)).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) addPhoto(kind types.PhotoKind) fiber.Handler {
	return func(c fiber.Ctx) error {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "file required"})
		}
		file, err := fileHeader.Open()
		if err != nil {
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "failed to open file"})
		}
		defer file.Close()

		p, err := s.deps.Library.AddPhoto(c.Context(), kind, file)
		if err != nil {
			return fail(c, err)
		}
		return c.Status(http.StatusCreated).JSON(p)
	}
}

func (s *Server) listPhotos(kind types.PhotoKind) fiber.Handler {
	return func(c fiber.Ctx) error {
		photos, err := s.deps.Library.List(c.Context(), kind)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(photos)
	}
}

func (s *Server) getPhoto(kind types.PhotoKind) fiber.Handler {
	return func(c fiber.Ctx) error {
		p, err := s.deps.Library.Get(c.Context(), kind, c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(p)
	}
}

func (s *Server) photoImage(kind types.PhotoKind) fiber.Handler {
	return func(c fiber.Ctx) error {
		p, err := s.deps.Library.Get(c.Context(), kind, c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		c.Type(p.Format)
		return c.SendFile(p.Path)
	}
}

func (s *Server) deletePhoto(kind types.PhotoKind) fiber.Handler {
	return func(c fiber.Ctx) error {
		if err := s.deps.Library.Delete(c.Context(), kind, c.Params("id")); err != nil {
			return fail(c, err)
		}
		return c.SendStatus(http.StatusNoContent)
	}
}

func (s *Server) sendArtifact(c fiber.Ctx, kind types.ArtifactKind, id string) error {
	data, ok, err := s.deps.Cache.Raw(kind, id)
	if err != nil {
		return fail(c, err)
	}
	if !ok {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": string(kind) + " not found"})
	}
	c.Type(kind.Ext()[1:])
	return c.Send(data)
}

func (s *Server) roomMask(c fiber.Ctx) error {
	return s.sendArtifact(c, types.KindRoomMask, c.Params("id"))
}

func (s *Server) roomLayout(c fiber.Ctx) error {
	return s.sendArtifact(c, types.KindRoomLayout, c.Params("id"))
}

func (s *Server) wallpaperTile(c fiber.Ctx) error {
	return s.sendArtifact(c, types.KindWallpaperTile, c.Params("id"))
}

type previewRequest struct {
	RoomID      string `json:"room_id"`
	WallpaperID string `json:"wallpaper_id"`
}

func (s *Server) generatePreview(c fiber.Ctx) error {
	if len(c.Body()) == 0 {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "empty body"})
	}
	var req previewRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid json"})
	}
	if req.RoomID == "" || req.WallpaperID == "" {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "room_id and wallpaper_id required"})
	}
	if _, err := s.deps.Library.Get(c.Context(), types.PhotoRoom, req.RoomID); err != nil {
		return fail(c, err)
	}
	if _, err := s.deps.Library.Get(c.Context(), types.PhotoWallpaper, req.WallpaperID); err != nil {
		return fail(c, err)
	}

	run := s.deps.Runs.Submit(req.RoomID, req.WallpaperID)
	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"run_id":     run.ID(),
		"preview_id": types.PreviewID(req.RoomID, req.WallpaperID),
	})
}

func (s *Server) listPreviews(c fiber.Ctx) error {
	previews, err := s.deps.Cache.List(types.KindPreview)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(previews)
}

func (s *Server) previewImage(c fiber.Ctx) error {
	return s.sendArtifact(c, types.KindPreview, c.Params("id"))
}

func (s *Server) deletePreview(c fiber.Ctx) error {
	if err := s.deps.Cache.Invalidate(types.KindPreview, c.Params("id")); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(http.StatusNoContent)
}

func (s *Server) listRuns(c fiber.Ctx) error {
	return c.JSON(s.deps.Runs.List())
}

func (s *Server) getRun(c fiber.Ctx) error {
	run, err := s.deps.Runs.Get(c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(run.Snapshot())
}

func (s *Server) cancelRun(c fiber.Ctx) error {
	if err := s.deps.Runs.Cancel(c.Params("id")); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(http.StatusNoContent)
}

func (s *Server) invalidateArtifact(c fiber.Ctx) error {
	kind, err := types.ParseArtifactKind(c.Params("kind"))
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := s.deps.Cache.InvalidateDerived(kind, c.Params("id")); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(http.StatusNoContent)
}
