// Package app owns process-wide state: config sources, logging and
// build info. Every other module pulls its config through LoadConfig
// and its logger through GetLogger.
package app

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/openchdk/gochdk/pkg/shell"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

var Version = "0.3.0"

var ConfigPath string
var Info = map[string]any{
	"version": Version,
}

func Init() {
	var confs flagList
	var version bool

	flag.Var(&confs, "config", "config source, a file path or raw YAML, repeatable")
	flag.BoolVar(&version, "version", false, "print version and exit")
	flag.Parse()

	if version {
		fmt.Println("gochdk version " + versionString())
		os.Exit(0)
	}

	if confs == nil {
		confs = []string{"gochdk.yaml"}
	}

	for _, conf := range confs {
		// raw YAML starts with a brace, everything else is a path
		if strings.HasPrefix(conf, "{") {
			configs = append(configs, []byte(conf))
			continue
		}

		if ConfigPath == "" {
			ConfigPath = conf
		}
		data, err := os.ReadFile(conf)
		if err != nil {
			continue
		}
		configs = append(configs, []byte(shell.ReplaceEnvVars(string(data))))
	}

	if ConfigPath != "" {
		if abs, err := filepath.Abs(ConfigPath); err == nil {
			ConfigPath = abs
		}
		Info["config_path"] = ConfigPath
	}

	initLogger()
	log.Logger = Logger

	log.Info().
		Str("version", Version).
		Str("platform", runtime.GOOS+"/"+runtime.GOARCH).
		Msg("gochdk")

	if ConfigPath != "" {
		log.Info().Str("path", ConfigPath).Msg("config")
	}
}

// LoadConfig unmarshals every config source into v, in order, so later
// sources override earlier ones.
func LoadConfig(v any) {
	for _, data := range configs {
		if err := yaml.Unmarshal(data, v); err != nil {
			log.Warn().Err(err).Msg("[app] read config")
		}
	}
}

func versionString() string {
	revision := ""
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 7 {
				revision = " (" + s.Value[:7] + ")"
			}
		}
	}
	return Version + revision + " " + runtime.GOOS + "/" + runtime.GOARCH
}

var configs [][]byte

type flagList []string

func (c *flagList) String() string {
	return strings.Join(*c, " ")
}

func (c *flagList) Set(value string) error {
	*c = append(*c, value)
	return nil
}
