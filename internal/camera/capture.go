package camera

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/openchdk/gochdk/internal/api"
	"github.com/openchdk/gochdk/pkg/camera"
)

func shootHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	query := r.URL.Query()
	opts := camera.DefaultCaptureOptions()

	opts.Aperture = floatParam(query.Get("av"))
	opts.ShutterSpeed = floatParam(query.Get("tv"))
	opts.RealISO = floatParam(query.Get("iso"))
	opts.MarketISO = floatParam(query.Get("isomarket"))
	opts.ISOMode = intParam(query.Get("isomode"))
	opts.Distance = query.Get("sd")

	switch query.Get("nd") {
	case "in":
		v := true
		opts.NDFilter = &v
	case "out":
		v := false
		opts.NDFilter = &v
	}

	contentType := "image/jpeg"
	switch query.Get("format") {
	case "", "jpg":
	case "raw":
		opts.Raw = true
		contentType = "application/octet-stream"
	case "dng":
		opts.DNG = true
		contentType = "application/octet-stream"
	default:
		http.Error(w, "format must be jpg, raw or dng", http.StatusBadRequest)
		return
	}

	if v := query.Get("stream"); v != "" {
		opts.Stream = v == "true"
	}
	opts.DownloadAfter = query.Get("download") == "true"
	opts.RemoveAfter = query.Get("remove") == "true"

	cam := fromQuery(w, r)
	if cam == nil {
		return
	}

	// wait=false answers immediately, the capture runs as a job and
	// lands on camera storage unless streaming was asked explicitly
	if query.Get("wait") == "false" {
		if query.Get("stream") == "" {
			opts.Stream = false
		}
		id := newJob(cam.name)
		go func() {
			_, err := cam.dev.Shoot(opts)
			cam.mu.Unlock()
			finishJob(id, err)
		}()

		w.Header().Set("Content-Type", api.MimeJSON)
		w.WriteHeader(http.StatusAccepted)
		api.ResponseJSON(w, map[string]string{"job": id})
		return
	}
	defer cam.mu.Unlock()

	data, err := cam.dev.Shoot(opts)
	if err != nil {
		api.Error(w, err)
		return
	}

	if data == nil {
		api.ResponseJSON(w, map[string]string{"state": "done"})
		return
	}
	api.Response(w, data, contentType)
}

// background captures, by job id
type jobInfo struct {
	Camera   string     `json:"camera"`
	State    string     `json:"state"`
	Error    string     `json:"error,omitempty"`
	Started  time.Time  `json:"started"`
	Finished *time.Time `json:"finished,omitempty"`
}

// finished jobs stay visible for a while, then drop on the next insert
const jobKeep = time.Hour

var jobsMu sync.Mutex
var jobs = map[string]*jobInfo{}

func newJob(camName string) string {
	id := uuid.NewString()

	jobsMu.Lock()
	for k, j := range jobs {
		if j.Finished != nil && time.Since(*j.Finished) > jobKeep {
			delete(jobs, k)
		}
	}
	jobs[id] = &jobInfo{Camera: camName, State: "shooting", Started: time.Now()}
	jobsMu.Unlock()

	return id
}

func finishJob(id string, err error) {
	now := time.Now()

	jobsMu.Lock()
	if j := jobs[id]; j != nil {
		j.Finished = &now
		if err != nil {
			j.State = "error"
			j.Error = err.Error()
		} else {
			j.State = "done"
		}
	}
	jobsMu.Unlock()
}

func jobsHandler(w http.ResponseWriter, r *http.Request) {
	jobsMu.Lock()
	defer jobsMu.Unlock()
	api.ResponseJSON(w, jobs)
}

func floatParam(s string) *float64 {
	if s == "" {
		return nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return &v
	}
	return nil
}

func intParam(s string) *int {
	if s == "" {
		return nil
	}
	if v, err := strconv.Atoi(s); err == nil {
		return &v
	}
	return nil
}

func frameHandler(w http.ResponseWriter, r *http.Request) {
	cam := fromQuery(w, r)
	if cam == nil {
		return
	}
	defer cam.mu.Unlock()

	frames, err := cam.dev.Frames(camera.FormatJPEG, nil)
	if err != nil {
		api.Error(w, err)
		return
	}
	frame, err := frames.Next()
	if err != nil {
		api.Error(w, err)
		return
	}
	api.Response(w, frame, "image/jpeg")
}

func mjpegHandler(w http.ResponseWriter, r *http.Request) {
	cam := fromQuery(w, r)
	if cam == nil {
		return
	}
	defer cam.mu.Unlock()

	frames, err := cam.dev.Frames(camera.FormatJPEG, nil)
	if err != nil {
		api.Error(w, err)
		return
	}

	w.Header().Set("Content-Type", `multipart/x-mixed-replace; boundary=frame`)
	w.WriteHeader(http.StatusOK)
	flusher := w.(http.Flusher)

	for {
		select {
		case <-r.Context().Done():
			return
		default:
		}

		frame, err := frames.Next()
		if err != nil {
			log.Debug().Err(err).Msg("[camera] live frame")
			return
		}

		head := "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: " +
			strconv.Itoa(len(frame)) + "\r\n\r\n"
		if _, err = w.Write([]byte(head)); err != nil {
			return
		}
		if _, err = w.Write(frame); err != nil {
			return
		}
		if _, err = w.Write([]byte("\r\n")); err != nil {
			return
		}
		flusher.Flush()
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func wsHandler(w http.ResponseWriter, r *http.Request) {
	cam := fromQuery(w, r)
	if cam == nil {
		return
	}
	defer cam.mu.Unlock()

	frames, err := cam.dev.Frames(camera.FormatJPEG, nil)
	if err != nil {
		api.Error(w, err)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("[camera] ws upgrade")
		return
	}
	defer ws.Close()

	for {
		frame, err := frames.Next()
		if err != nil {
			log.Debug().Err(err).Msg("[camera] live frame")
			return
		}
		if err = ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return
		}
	}
}
