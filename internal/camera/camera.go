// Package camera exposes connected CHDK cameras over the HTTP API.
// Cameras are declared in the config:
//
//	cameras:
//	  cam1: usb              # first camera on the bus
//	  cam2: usb:serial=ABC1  # matched by serial number
//	  test: fake             # in-process fake device
package camera

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/openchdk/gochdk/internal/api"
	"github.com/openchdk/gochdk/internal/app"
	"github.com/openchdk/gochdk/pkg/camera"
	"github.com/openchdk/gochdk/pkg/fakecam"
	"github.com/openchdk/gochdk/pkg/luaval"
	"github.com/openchdk/gochdk/pkg/usb"
	"github.com/rs/zerolog"
)

func Init() {
	var cfg struct {
		Mod map[string]string `yaml:"cameras"`
	}

	app.LoadConfig(&cfg)

	log = app.GetLogger("camera")

	for name, source := range cfg.Mod {
		cameras[name] = &Cam{name: name, source: source}
		log.Info().Str("name", name).Str("source", source).Msg("[camera] config")
	}

	api.HandleFunc("api/cameras", camerasHandler)
	api.HandleFunc("api/cameras/scan", scanHandler)
	api.HandleFunc("api/camera/connect", connectHandler)
	api.HandleFunc("api/camera/disconnect", disconnectHandler)
	api.HandleFunc("api/camera/mode", modeHandler)
	api.HandleFunc("api/camera/exec", execHandler)
	api.HandleFunc("api/camera/shoot", shootHandler)
	api.HandleFunc("api/camera/jobs", jobsHandler)
	api.HandleFunc("api/camera/files", filesHandler)
	api.HandleFunc("api/camera/upload", uploadHandler)
	api.HandleFunc("api/camera/download", downloadHandler)
	api.HandleFunc("api/camera/frame.jpg", frameHandler)
	api.HandleFunc("api/camera/stream.mjpeg", mjpegHandler)
	api.HandleFunc("api/camera/stream.ws", wsHandler)
}

var log zerolog.Logger
var cameras = map[string]*Cam{}

// Cam is one configured camera. The device protocol is strictly
// sequential, so every operation runs under the camera mutex.
type Cam struct {
	mu     sync.Mutex
	name   string
	source string
	dev    *camera.Device
}

// usb bus is shared and opened on first use
var busOnce sync.Once
var bus *usb.Bus

func getBus() *usb.Bus {
	busOnce.Do(func() { bus = usb.NewBus() })
	return bus
}

func dialer(source string) (camera.Dialer, error) {
	kind, opts, _ := strings.Cut(source, ":")
	switch kind {
	case "fake":
		return fakecam.New(), nil

	case "usb":
		var sel camera.DeviceInfo
		for _, opt := range strings.Split(opts, ",") {
			k, v, _ := strings.Cut(opt, "=")
			switch k {
			case "serial":
				sel.SerialNum = v
			case "bus":
				_, _ = fmt.Sscanf(v, "%d", &sel.BusNum)
			case "dev":
				_, _ = fmt.Sscanf(v, "%d", &sel.DevNum)
			case "":
			default:
				return nil, fmt.Errorf("camera: unknown source option %q", k)
			}
		}
		return getBus().Find(sel)
	}

	return nil, fmt.Errorf("camera: unknown source kind %q", kind)
}

// connect dials the device unless it already answers.
func (c *Cam) connect() error {
	if c.dev != nil && c.dev.IsConnected() {
		return nil
	}

	d, err := dialer(c.source)
	if err != nil {
		return err
	}
	dev, err := camera.Connect(d)
	if err != nil {
		return err
	}
	dev.Log = log.With().Str("camera", c.name).Logger()
	c.dev = dev
	return nil
}

// fromQuery resolves the src parameter and locks the camera. The
// caller must unlock it.
func fromQuery(w http.ResponseWriter, r *http.Request) *Cam {
	name := r.URL.Query().Get("src")
	cam, ok := cameras[name]
	if !ok {
		http.Error(w, "camera not found: "+name, http.StatusNotFound)
		return nil
	}

	cam.mu.Lock()
	if err := cam.connect(); err != nil {
		cam.mu.Unlock()
		api.Error(w, err)
		return nil
	}
	return cam
}

type camState struct {
	Name   string             `json:"name"`
	Source string             `json:"source"`
	State  string             `json:"state"`
	Info   *camera.DeviceInfo `json:"info,omitempty"`
}

func camerasHandler(w http.ResponseWriter, r *http.Request) {
	var states []camState
	for _, cam := range cameras {
		cam.mu.Lock()
		s := camState{Name: cam.name, Source: cam.source, State: camera.StateDisconnected}
		if cam.dev != nil {
			s.State = cam.dev.State()
			s.Info = &cam.dev.Info
		}
		cam.mu.Unlock()
		states = append(states, s)
	}
	api.ResponseJSON(w, states)
}

// scanHandler probes the physical bus, regardless of configuration.
func scanHandler(w http.ResponseWriter, r *http.Request) {
	cams, err := getBus().Cameras()
	if err != nil {
		api.Error(w, err)
		return
	}
	dialers := make([]camera.Dialer, len(cams))
	for i, c := range cams {
		dialers[i] = c
	}
	api.ResponseJSON(w, camera.List(dialers))
}

func connectHandler(w http.ResponseWriter, r *http.Request) {
	cam := fromQuery(w, r)
	if cam == nil {
		return
	}
	defer cam.mu.Unlock()

	api.ResponseJSON(w, camState{
		Name: cam.name, Source: cam.source, State: cam.dev.State(), Info: &cam.dev.Info,
	})
}

func disconnectHandler(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("src")
	cam, ok := cameras[name]
	if !ok {
		http.Error(w, "camera not found: "+name, http.StatusNotFound)
		return
	}

	cam.mu.Lock()
	if cam.dev != nil {
		cam.dev.Disconnect()
	}
	cam.mu.Unlock()

	api.Response(w, "OK", api.MimeText)
}

func modeHandler(w http.ResponseWriter, r *http.Request) {
	cam := fromQuery(w, r)
	if cam == nil {
		return
	}
	defer cam.mu.Unlock()

	if r.Method == "POST" {
		if err := cam.dev.SwitchMode(r.URL.Query().Get("mode")); err != nil {
			api.Error(w, err)
			return
		}
	}

	mode, err := cam.dev.Mode()
	if err != nil {
		api.Error(w, err)
		return
	}
	api.ResponseJSON(w, map[string]string{"mode": mode})
}

func execHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	var src strings.Builder
	if _, err := io.Copy(&src, r.Body); err != nil {
		api.Error(w, err)
		return
	}

	cam := fromQuery(w, r)
	if cam == nil {
		return
	}
	defer cam.mu.Unlock()

	vals, err := cam.dev.Execute(src.String(), nil)
	if err != nil {
		api.Error(w, err)
		return
	}

	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = toJSON(v)
	}
	api.ResponseJSON(w, out)
}

// toJSON projects a script value onto what encoding/json can carry.
func toJSON(v luaval.Value) any {
	switch v.Kind {
	case luaval.Bool:
		return v.Bool()
	case luaval.Int:
		return v.Int()
	case luaval.Float:
		return v.Float()
	case luaval.String:
		return v.String()
	case luaval.Array:
		arr := make([]any, v.Len())
		for i, item := range v.Array() {
			arr[i] = toJSON(item)
		}
		return arr
	case luaval.Table:
		m := make(map[string]any, v.Len())
		for _, k := range v.Keys() {
			m[k] = toJSON(v.Get(k))
		}
		return m
	}
	return nil
}
