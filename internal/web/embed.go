// Package web serves the review UI bundle embedded at build time.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// dist holds the built frontend; it only contains a placeholder until the
// UI is built into it.
//
//go:embed all:dist
var staticFiles embed.FS

// FileSystem returns the embedded bundle rooted at dist.
func FileSystem() (fs.FS, error) {
	return fs.Sub(staticFiles, "dist")
}

// HasEmbeddedFiles reports whether a built UI (dist/index.html) is embedded.
func HasEmbeddedFiles() bool {
	return hasIndex(staticFiles)
}

func hasIndex(fsys fs.FS) bool {
	_, err := fs.Stat(fsys, "dist/index.html")
	return err == nil
}

// RegisterStaticRoutes serves the bundle for every path the API does not
// claim. Unknown paths fall back to index.html for client side routing.
// Register the API routes first.
func RegisterStaticRoutes(e *echo.Echo) error {
	return register(e, staticFiles)
}

func register(e *echo.Echo, fsys fs.FS) error {
	sub, err := fs.Sub(fsys, "dist")
	if err != nil {
		return err
	}
	e.Use(middleware.StaticWithConfig(middleware.StaticConfig{
		Root:       ".",
		Index:      "index.html",
		HTML5:      true,
		Filesystem: http.FS(sub),
		Skipper: func(c echo.Context) bool {
			p := c.Request().URL.Path
			return strings.HasPrefix(p, "/api/") || p == "/metrics"
		},
	}))
	return nil
}
