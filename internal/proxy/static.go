package proxy

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

var staticMIMETypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript; charset=utf-8",
	".json": "application/json; charset=utf-8",
	".svg":  "image/svg+xml",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".ico":  "image/x-icon",
	".txt":  "text/plain; charset=utf-8",
	".wasm": "application/wasm",
}

// serveStatic implements §4.9 step 3: decode and normalize the request
// path, defend against traversal, resolve the file (falling back to
// index.html for directories or a SPA-style missing path), and serve it
// with a minimal MIME table and Cache-Control: no-cache.
func serveStatic(w http.ResponseWriter, r *http.Request, staticDir string) {
	decoded, err := url.PathUnescape(r.URL.Path)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	clean := filepath.Clean("/" + decoded)
	clean = strings.TrimPrefix(clean, "/")

	target := filepath.Join(staticDir, clean)
	if !strings.HasPrefix(target, filepath.Clean(staticDir)+string(filepath.Separator)) && target != filepath.Clean(staticDir) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	info, err := os.Stat(target)
	if err == nil && info.IsDir() {
		target = filepath.Join(target, "index.html")
		info, err = os.Stat(target)
	}
	if err != nil {
		target = filepath.Join(staticDir, "index.html")
		info, err = os.Stat(target)
		if err != nil {
			http.NotFound(w, r)
			return
		}
	}
	_ = info

	data, err := os.ReadFile(target)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if mime, ok := staticMIMETypes[strings.ToLower(filepath.Ext(target))]; ok {
		w.Header().Set("Content-Type", mime)
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
