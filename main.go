package main

import (
	"github.com/openchdk/gochdk/internal/api"
	"github.com/openchdk/gochdk/internal/app"
	"github.com/openchdk/gochdk/internal/camera"
	"github.com/openchdk/gochdk/pkg/shell"
)

func main() {
	app.Init() // init config and logs

	api.Init()    // init HTTP API server
	camera.Init() // init cameras and their endpoints

	shell.RunUntilSignal()
}
