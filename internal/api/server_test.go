package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/Rikharthu/bath-wallpaper-preview/internal/artifact"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/compositor"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/config"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/inference"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/layout"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/library"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/mask"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/native/soft"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/pipeline"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/synthesis"
)

// stubBackend marks the left half of every photo as wall and reports room type 2.
type stubBackend struct{}

func (stubBackend) Segment(ctx context.Context, img *image.RGBA) (inference.Output, error) {
	h, w := img.Rect.Dy(), img.Rect.Dx()
	data := make([]float32, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			data[y*w+x] = 1
		}
	}
	return inference.Output{Name: "scores", Shape: []int{h, w}, Data: data}, nil
}

func (stubBackend) EstimateLayout(ctx context.Context, img *image.RGBA) ([]inference.Output, error) {
	typ := make([]float32, 11)
	typ[2] = 1
	return []inference.Output{
		{Name: inference.OutputEdges, Shape: []int{3, 2, 2}, Data: make([]float32, 12)},
		{Name: inference.OutputCorners, Shape: []int{8, 2, 2}, Data: make([]float32, 32)},
		{Name: inference.OutputCornersFlip, Shape: []int{8, 2, 2}, Data: make([]float32, 32)},
		{Name: inference.OutputType, Shape: []int{1, 11}, Data: typ},
	}, nil
}

type env struct {
	server *Server
	cache  *artifact.Cache
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()

	db, err := library.OpenSQLite(filepath.Join(root, "library.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := artifact.NewFileStore(filepath.Join(root, "artifacts"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	cache := artifact.NewCache(store)

	lib := library.New(db, root, cache)
	if err := lib.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	native := soft.New(0)
	renderer, _ := mask.NewRenderer(mask.DefaultThreshold)
	synth, _ := synthesis.NewAdapter(native, 32, 0)
	orch, err := pipeline.New(pipeline.Deps{
		Backend:    stubBackend{},
		Photos:     lib,
		Cache:      cache,
		Renderer:   renderer,
		Parser:     layout.NewParser(native),
		Synthesis:  synth,
		Compositor: compositor.New(native),
	}, pipeline.Timeouts{Inference: 5 * time.Second})
	if err != nil {
		t.Fatalf("pipeline.New failed: %v", err)
	}
	runs := pipeline.NewRegistry(context.Background(), orch, 2)
	t.Cleanup(func() { runs.Wait(context.Background()) })

	server := New(config.ServerConfig{ReadTimeoutS: 5, WriteTimeoutS: 5, BodyLimitMB: 4}, Deps{
		Library: lib,
		Cache:   cache,
		Runs:    runs,
		Health:  func() (bool, any) { return true, fiber.Map{"status": "healthy"} },
	})
	return &env{server: server, cache: cache}
}

func (e *env) do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := e.server.App().Test(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body failed: %v", err)
	}
	return resp, body
}

func pngData(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x * 10), uint8(y * 10), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode failed: %v", err)
	}
	return buf.Bytes()
}

func fileUpload(t *testing.T, path, name string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	part.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func pngUpload(t *testing.T, path string, w, h int) *http.Request {
	t.Helper()
	return fileUpload(t, path, "photo.png", pngData(t, w, h))
}

func (e *env) upload(t *testing.T, path string) library.Photo {
	t.Helper()
	resp, body := e.do(t, pngUpload(t, path, 16, 12))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", resp.StatusCode, body)
	}
	var p library.Photo
	if err := json.Unmarshal(body, &p); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	return p
}

func jsonRequest(method, path string, v any) *http.Request {
	data, _ := json.Marshal(v)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// TestHealth verifies liveness and readiness endpoints.
func TestHealth(t *testing.T) {
	e := newEnv(t)
	for _, path := range []string{"/health/live", "/health/ready"} {
		resp, body := e.do(t, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: expected 200, got %d: %s", path, resp.StatusCode, body)
		}
	}
}

// TestPhotoLifecycle verifies upload, listing, download and deletion of photos.
func TestPhotoLifecycle(t *testing.T) {
	e := newEnv(t)
	room := e.upload(t, "/api/v1/rooms")

	resp, body := e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/rooms", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var photos []library.Photo
	json.Unmarshal(body, &photos)
	if len(photos) != 1 || photos[0].ID != room.ID {
		t.Errorf("Expected [%s], got %s", room.ID, body)
	}

	resp, body = e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/rooms/"+room.ID+"/image", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if _, err := png.Decode(bytes.NewReader(body)); err != nil {
		t.Errorf("Expected PNG body, got error %v", err)
	}

	resp, _ = e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/wallpapers/"+room.ID, nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for room id under wallpapers, got %d", resp.StatusCode)
	}

	resp, _ = e.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/rooms/"+room.ID, nil))
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", resp.StatusCode)
	}
	resp, _ = e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/rooms/"+room.ID, nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", resp.StatusCode)
	}
}

// TestUploadRejectsInvalidImage verifies non-image uploads are rejected.
func TestUploadRejectsInvalidImage(t *testing.T) {
	e := newEnv(t)

	resp, _ := e.do(t, fileUpload(t, "/api/v1/wallpapers", "notes.txt", []byte("hello")))
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422, got %d", resp.StatusCode)
	}

	// header intact, trailing chunks missing
	data := pngData(t, 16, 12)
	resp, _ = e.do(t, fileUpload(t, "/api/v1/rooms", "cut.png", data[:len(data)-12]))
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for truncated png, got %d", resp.StatusCode)
	}
	_, body := e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/rooms", nil))
	if string(body) != "[]" {
		t.Errorf("Expected no rooms catalogued, got %s", body)
	}

	resp, _ = e.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/wallpapers", nil))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 without file, got %d", resp.StatusCode)
	}
}

// TestErrorStatus verifies only undecodable uploads map to 422.
func TestErrorStatus(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("%w: png: unexpected EOF", library.ErrUndecodable): http.StatusUnprocessableEntity,
		fmt.Errorf("failed to store photo: %w", os.ErrPermission):     http.StatusInternalServerError,
		fmt.Errorf("wrap: %w", library.ErrPhotoNotFound):              http.StatusNotFound,
		pipeline.ErrNotCancellable:                                    http.StatusConflict,
	}
	for err, want := range cases {
		if got := errorStatus(err); got != want {
			t.Errorf("%v: expected %d, got %d", err, want, got)
		}
	}
}

// TestGeneratePreviewFlow verifies a preview run completes and its artifacts are served.
func TestGeneratePreviewFlow(t *testing.T) {
	e := newEnv(t)
	room := e.upload(t, "/api/v1/rooms")
	wall := e.upload(t, "/api/v1/wallpapers")

	resp, body := e.do(t, jsonRequest(http.MethodPost, "/api/v1/previews", previewRequest{RoomID: room.ID, WallpaperID: wall.ID}))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", resp.StatusCode, body)
	}
	var accepted struct {
		RunID     string `json:"run_id"`
		PreviewID string `json:"preview_id"`
	}
	json.Unmarshal(body, &accepted)
	if accepted.PreviewID != room.ID+"_"+wall.ID {
		t.Errorf("Unexpected preview id %s", accepted.PreviewID)
	}

	var snap struct {
		State struct {
			Phase  string `json:"phase"`
			Reason string `json:"reason"`
		} `json:"state"`
		Stages []pipeline.StageReport `json:"stages"`
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, body = e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+accepted.RunID, nil))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d", resp.StatusCode)
		}
		json.Unmarshal(body, &snap)
		if snap.State.Phase == "done" || snap.State.Phase == "failed" || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if snap.State.Phase != "done" {
		t.Fatalf("Expected done, got %s (%s)", snap.State.Phase, snap.State.Reason)
	}
	if len(snap.Stages) != 4 {
		t.Errorf("Expected 4 stage reports, got %d", len(snap.Stages))
	}

	resp, body = e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/previews/"+accepted.PreviewID+"/image", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	img, err := png.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Expected PNG preview: %v", err)
	}
	if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 12 {
		t.Errorf("Expected 16x12 preview, got %v", img.Bounds())
	}

	resp, body = e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/rooms/"+room.ID+"/layout", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var lay struct {
		RoomType int `json:"roomType"`
	}
	json.Unmarshal(body, &lay)
	if lay.RoomType != 2 {
		t.Errorf("Expected room type 2, got %s", body)
	}

	resp, _ = e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/rooms/"+room.ID+"/mask", nil))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected mask 200, got %d", resp.StatusCode)
	}

	resp, _ = e.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/wallpapers/"+wall.ID, nil))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", resp.StatusCode)
	}
	resp, body = e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/previews", nil))
	if string(body) != "[]" {
		t.Errorf("Expected previews to be cascaded away, got %s", body)
	}
}

// TestGeneratePreviewValidation verifies bad requests are rejected before a run starts.
func TestGeneratePreviewValidation(t *testing.T) {
	e := newEnv(t)
	room := e.upload(t, "/api/v1/rooms")

	cases := []struct {
		req  *http.Request
		want int
	}{
		{httptest.NewRequest(http.MethodPost, "/api/v1/previews", nil), http.StatusBadRequest},
		{httptest.NewRequest(http.MethodPost, "/api/v1/previews", bytes.NewReader([]byte("{"))), http.StatusBadRequest},
		{jsonRequest(http.MethodPost, "/api/v1/previews", previewRequest{RoomID: room.ID}), http.StatusBadRequest},
		{jsonRequest(http.MethodPost, "/api/v1/previews", previewRequest{RoomID: room.ID, WallpaperID: "missing"}), http.StatusNotFound},
	}
	for i, tc := range cases {
		resp, body := e.do(t, tc.req)
		if resp.StatusCode != tc.want {
			t.Errorf("case %d: expected %d, got %d: %s", i, tc.want, resp.StatusCode, body)
		}
	}

	resp, _ := e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	resp, _ = e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/runs/missing", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown run, got %d", resp.StatusCode)
	}
}

// TestArtifactEndpoints verifies cache misses and invalidation requests.
func TestArtifactEndpoints(t *testing.T) {
	e := newEnv(t)

	resp, _ := e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/rooms/abc/mask", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for missing mask, got %d", resp.StatusCode)
	}

	if _, err := e.cache.SaveMask("abc", image.NewGray(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("SaveMask failed: %v", err)
	}
	resp, _ = e.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/artifacts/roomMask/abc", nil))
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", resp.StatusCode)
	}
	if _, ok, _ := e.cache.Raw("roomMask", "abc"); ok {
		t.Error("Expected mask to be invalidated")
	}

	for _, id := range []string{"abc_w1", "other_w1"} {
		if _, err := e.cache.SavePreview(id, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
			t.Fatalf("SavePreview failed: %v", err)
		}
	}
	if _, err := e.cache.SaveTile("w1", image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("SaveTile failed: %v", err)
	}
	resp, _ = e.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/artifacts/roomLayout/abc", nil))
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", resp.StatusCode)
	}
	if _, ok, _ := e.cache.Raw("preview", "abc_w1"); ok {
		t.Error("Expected preview of room abc to be invalidated with its layout")
	}
	if _, ok, _ := e.cache.Raw("preview", "other_w1"); !ok {
		t.Error("Expected preview of another room to survive")
	}
	resp, _ = e.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/artifacts/wallpaperTile/w1", nil))
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", resp.StatusCode)
	}
	if _, ok, _ := e.cache.Raw("preview", "other_w1"); ok {
		t.Error("Expected preview of wallpaper w1 to be invalidated with its tile")
	}

	resp, _ = e.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/artifacts/bogus/abc", nil))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown kind, got %d", resp.StatusCode)
	}

	resp, body := e.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d: %s", resp.StatusCode, body)
	}
}
