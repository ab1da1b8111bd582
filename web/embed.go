// Package web embeds the browser voice client served at the site root.
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
)

//go:embed static
var staticFS embed.FS

// IndexHandler serves the embedded index.html.
func IndexHandler() http.Handler {
	page, err := fs.ReadFile(staticFS, "static/index.html")
	if err != nil {
		panic("web: missing embedded index.html: " + err.Error())
	}

	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(page); err != nil {
			slog.Debug("web: failed to write index", "error", err)
		}
	})
}
