// Package api is the HTTP server every module registers its endpoints
// on.
package api

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openchdk/gochdk/internal/app"
	"github.com/rs/zerolog"
)

const (
	MimeJSON = "application/json"
	MimeText = "text/plain"
)

// Port the server actually bound, for tests with ":0" listen configs.
var Port int

// Handler is the middleware-wrapped mux, exported so tests can drive
// it without a socket.
var Handler http.Handler

var basePath string
var log zerolog.Logger

func Init() {
	var cfg struct {
		Mod struct {
			Listen   string `yaml:"listen"`
			Username string `yaml:"username"`
			Password string `yaml:"password"`
			BasePath string `yaml:"base_path"`
			Origin   string `yaml:"origin"`
		} `yaml:"api"`
	}

	cfg.Mod.Listen = ":8666"

	app.LoadConfig(&cfg)

	if cfg.Mod.Listen == "" {
		return
	}

	basePath = cfg.Mod.BasePath
	log = app.GetLogger("api")

	HandleFunc("api", infoHandler)
	HandleFunc("api/log", logHandler)

	// innermost first
	Handler = http.DefaultServeMux
	if cfg.Mod.Origin == "*" {
		Handler = allowCORS(Handler)
	}
	if cfg.Mod.Username != "" {
		Handler = basicAuth(cfg.Mod.Username, cfg.Mod.Password, Handler)
	}
	if log.Trace().Enabled() {
		Handler = traceRequests(Handler)
	}

	go listen(cfg.Mod.Listen)
}

func listen(address string) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		log.Error().Err(err).Msg("[api] listen")
		return
	}

	Port = ln.Addr().(*net.TCPAddr).Port
	log.Info().Str("addr", address).Msg("[api] listen")

	server := http.Server{
		Handler:           Handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err = server.Serve(ln); err != nil {
		log.Fatal().Err(err).Msg("[api] serve")
	}
}

// HandleFunc registers a pattern relative to the configured base path.
// Absolute patterns (leading slash) are taken as is.
func HandleFunc(pattern string, handler http.HandlerFunc) {
	if !strings.HasPrefix(pattern, "/") {
		pattern = basePath + "/" + pattern
	}
	http.HandleFunc(pattern, handler)
}

func ResponseJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", MimeJSON)
	_ = json.NewEncoder(w).Encode(v)
}

func Response(w http.ResponseWriter, body any, contentType string) {
	w.Header().Set("Content-Type", contentType)

	switch v := body.(type) {
	case []byte:
		_, _ = w.Write(v)
	case string:
		_, _ = w.Write([]byte(v))
	default:
		_, _ = fmt.Fprint(w, body)
	}
}

// Error logs with the caller of the handler and answers 500.
func Error(w http.ResponseWriter, err error) {
	log.Error().Err(err).Caller(1).Send()

	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func traceRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Trace().Msgf("[api] %s %s %s", r.Method, r.URL, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

func localhost(remoteAddr string) bool {
	return strings.HasPrefix(remoteAddr, "127.") || strings.HasPrefix(remoteAddr, "[::1]")
}

func basicAuth(username, password string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !localhost(r.RemoteAddr) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != username || pass != password {
				w.Header().Set("Www-Authenticate", `Basic realm="gochdk"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func allowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		next.ServeHTTP(w, r)
	})
}

var infoMu sync.Mutex

func infoHandler(w http.ResponseWriter, r *http.Request) {
	infoMu.Lock()
	app.Info["host"] = r.Host
	infoMu.Unlock()

	ResponseJSON(w, app.Info)
}

func logHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		w.Header().Set("Content-Type", "application/jsonlines")
		_, _ = app.MemoryLog.WriteTo(w)
	case "DELETE":
		app.MemoryLog.Reset()
		Response(w, "OK", MimeText)
	default:
		http.Error(w, "Method not allowed", http.StatusBadRequest)
	}
}
