package core

import (
	"fmt"
	"log/slog"

	"github.com/Rikharthu/bath-wallpaper-preview/internal/config"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/native"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/native/soft"
)

// openNative selects the native library implementation.
func openNative(cfg *config.Config) (native.Library, error) {
	backend := cfg.Native.Backend
	if backend == config.BackendAuto {
		backend = config.BackendSoft
		if native.CGOAvailable {
			backend = config.BackendCGO
		}
	}

	switch backend {
	case config.BackendCGO:
		lib, err := native.OpenCGO()
		if err != nil {
			return nil, fmt.Errorf("failed to open native library: %w", err)
		}
		slog.Info("native backend selected", "backend", lib.Name())
		return lib, nil
	case config.BackendSoft:
		slog.Info("native backend selected",
			"backend", "soft",
			"layout_size", cfg.Compositing.LayoutSize)
		return soft.New(cfg.Compositing.LayoutSize), nil
	default:
		return nil, fmt.Errorf("unknown native backend %q", backend)
	}
}
