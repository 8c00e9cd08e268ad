package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/looplight/llmauth/internal/auth"
	"github.com/looplight/llmauth/internal/cmd"
	"github.com/looplight/llmauth/internal/config"
	"github.com/looplight/llmauth/internal/logging"
	"github.com/looplight/llmauth/internal/util"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: %s [flags] <command> [provider]

commands:
  login <provider>    acquire credentials (browser flow or companion import)
  token <provider>    print a valid access token to stdout
  refresh <provider>  force a token refresh
  status [provider]   show credential state and recent token events
  sync                import companion CLI credentials once
  serve               run the token broker (default)

providers: %v

flags:
`, os.Args[0], auth.Providers())
	flag.PrintDefaults()
}

func main() {
	logging.SetupBaseLogger()

	var configPath string
	var noBrowser bool
	var projectID string
	flag.StringVar(&configPath, "config", "", "configuration file path")
	flag.BoolVar(&noBrowser, "no-browser", false, "print the login URL instead of opening a browser")
	flag.StringVar(&projectID, "project_id", "", "cloud project id to pin during login")
	flag.Usage = usage
	flag.Parse()

	cfg, resolvedPath := loadConfig(configPath)

	util.SetLogLevel(cfg)
	if err := logging.ConfigureLogOutput(cfg.LoggingToFile); err != nil {
		log.Fatalf("failed to configure log output: %v", err)
	}

	command := "serve"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}
	provider := flag.Arg(1)

	switch command {
	case "login":
		requireProvider(command, provider)
		cmd.DoLogin(cfg, provider, &auth.LoginOptions{NoBrowser: noBrowser, ProjectID: projectID})
	case "token":
		requireProvider(command, provider)
		cmd.DoToken(cfg, provider)
	case "refresh":
		requireProvider(command, provider)
		cmd.DoRefresh(cfg, provider)
	case "status":
		cmd.DoStatus(cfg, provider)
	case "sync":
		cmd.DoSync(cfg)
	case "serve":
		cmd.StartService(cfg, resolvedPath)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", command)
		usage()
		os.Exit(2)
	}
}

// loadConfig loads the configuration file. An explicitly given path must
// exist; the default config.yaml may be absent, in which case built-in
// defaults apply (enough for login, token, and status).
func loadConfig(configPath string) (*config.Config, string) {
	explicit := configPath != ""
	if !explicit {
		wd, err := os.Getwd()
		if err != nil {
			log.Fatalf("failed to get working directory: %v", err)
		}
		configPath = filepath.Join(wd, "config.yaml")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return config.Default(), ""
		}
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg, configPath
}

func requireProvider(command, provider string) {
	if provider == "" {
		fmt.Fprintf(os.Stderr, "command %q requires a provider argument\n\n", command)
		usage()
		os.Exit(2)
	}
}
