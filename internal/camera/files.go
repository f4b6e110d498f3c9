package camera

import (
	"net/http"
	"os"
	"path"

	"github.com/openchdk/gochdk/internal/api"
	"github.com/openchdk/gochdk/pkg/camera"
)

// filesHandler lists (GET) and deletes (DELETE) remote paths.
func filesHandler(w http.ResponseWriter, r *http.Request) {
	cam := fromQuery(w, r)
	if cam == nil {
		return
	}
	defer cam.mu.Unlock()

	query := r.URL.Query()
	remote := query.Get("path")

	switch r.Method {
	case "GET":
		entries, err := cam.dev.ListFiles(remote, query.Get("detailed") == "true")
		if err != nil {
			api.Error(w, err)
			return
		}
		api.ResponseJSON(w, entries)

	case "DELETE":
		if remote == "" {
			http.Error(w, "path required", http.StatusBadRequest)
			return
		}
		if err := cam.dev.DeleteFiles(remote); err != nil {
			api.Error(w, err)
			return
		}
		api.Response(w, "OK", api.MimeText)

	default:
		http.Error(w, "", http.StatusBadRequest)
	}
}

// uploadHandler stores the request body at the remote path.
func uploadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" && r.Method != "PUT" {
		http.Error(w, "", http.StatusBadRequest)
		return
	}
	remote := r.URL.Query().Get("path")
	if remote == "" {
		http.Error(w, "path required", http.StatusBadRequest)
		return
	}

	// spool to a local file so the transfer has a known size
	tmp, err := os.CreateTemp("", "gochdk")
	if err != nil {
		api.Error(w, err)
		return
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err = tmp.ReadFrom(r.Body); err != nil {
		api.Error(w, err)
		return
	}

	cam := fromQuery(w, r)
	if cam == nil {
		return
	}
	defer cam.mu.Unlock()

	if err = cam.dev.UploadFile(tmp.Name(), remote, true); err != nil {
		api.Error(w, err)
		return
	}
	api.Response(w, "OK", api.MimeText)
}

func downloadHandler(w http.ResponseWriter, r *http.Request) {
	remote := r.URL.Query().Get("path")
	if remote == "" {
		http.Error(w, "path required", http.StatusBadRequest)
		return
	}

	cam := fromQuery(w, r)
	if cam == nil {
		return
	}
	defer cam.mu.Unlock()

	data, err := cam.dev.DownloadFile(remote, "")
	if err != nil {
		api.Error(w, err)
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename="+path.Base(camera.ToCameraPath(remote)))
	api.Response(w, data, "application/octet-stream")
}
