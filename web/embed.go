// Package web embeds the live dashboard (dist/). The page renders the
// store from the /api/live/stream event stream.
package web

import (
	"bytes"
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"
)

//go:embed all:dist
var distFS embed.FS

const indexFile = "index.html"

// DashboardHandler serves the embedded dashboard. Known files are served
// as-is; any other page path gets index.html so client-side routes work.
// Paths under /api/ and /ws/ never fall back to the page, and index.html
// is never cached so a new build is picked up on the next load.
func DashboardHandler() http.Handler {
	sub, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}
	index, err := fs.ReadFile(sub, indexFile)
	if err != nil {
		panic("web: missing " + indexFile + ": " + err.Error())
	}
	files := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/api/") || strings.HasPrefix(r.URL.Path, "/ws/") {
			http.NotFound(w, r)
			return
		}

		name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		if name == "" || name == indexFile || !exists(sub, name) {
			w.Header().Set("Cache-Control", "no-cache")
			http.ServeContent(w, r, indexFile, time.Time{}, bytes.NewReader(index))
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=3600")
		files.ServeHTTP(w, r)
	})
}

func exists(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && !info.IsDir()
}
