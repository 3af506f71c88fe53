// Command vfsctl runs file operations on any reference the virtual file
// system understands.
//
//	vfsctl [flags] <command> [arguments]
//
// Commands: cat, ls, stat, cp, mv, rm, mkdir, put, tree.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/peppy/vfs/internal/auth"
	"github.com/peppy/vfs/internal/config"
	"github.com/peppy/vfs/internal/metrics"
	"github.com/peppy/vfs/pkg/utils"
	"github.com/peppy/vfs/pkg/vfs"
)

func main() {
	configFile := flag.String("config", "", "YAML configuration file")
	logLevel := flag.String("log-level", "", "log level (DEBUG, INFO, WARN, ERROR)")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg := config.NewDefault()
	if *configFile != "" {
		if err := cfg.LoadFromFile(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "vfsctl: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "vfsctl: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Global.LogLevel = strings.ToUpper(*logLevel)
	}
	if *metricsAddr != "" {
		cfg.Monitoring.Metrics.Enabled = true
		cfg.Monitoring.Metrics.Address = *metricsAddr
	}

	closer, err := utils.SetupLogging(cfg.Global.LogLevel, "console", cfg.Global.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vfsctl: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Monitoring.Metrics.Enabled,
		Namespace: cfg.Monitoring.Metrics.Namespace,
		Address:   cfg.Monitoring.Metrics.Address,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create metrics collector")
	}
	if err := collector.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start metrics server")
	}
	defer func() {
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		collector.Stop(shutdown)
	}()

	v, err := vfs.NewDefault(ctx, vfs.Options{
		Config:   cfg,
		Callback: terminalPrompt,
		Metrics:  collector,
		Logger:   log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize")
	}
	defer v.Close()

	if err := run(ctx, v, os.Stdin, os.Stdout, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "vfsctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: vfsctl [flags] <command> [arguments]

commands:
  cat <ref>...         print file contents
  ls <ref>             list a folder
  stat <ref>           show metadata
  cp <src> <dst>       copy, recursively for folders
  mv <src> <dst>       move or rename
  rm <ref>...          remove files and folders
  mkdir <ref>...       create folders
  put <ref>            write standard input to a file
  tree <ref>           list a folder recursively

flags:
`)
	flag.PrintDefaults()
}

// terminalPrompt asks for credentials on the controlling terminal. Without
// a terminal every prompt is cancelled.
func terminalPrompt(host, scheme, realm, suggested string) (auth.Credentials, bool) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return auth.Credentials{}, false
	}

	fmt.Fprintf(os.Stderr, "%s://%s", scheme, host)
	if realm != "" {
		fmt.Fprintf(os.Stderr, " (%s)", realm)
	}
	fmt.Fprintln(os.Stderr)

	fmt.Fprintf(os.Stderr, "username [%s]: ", suggested)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return auth.Credentials{}, false
	}
	user := strings.TrimSpace(line)
	if user == "" {
		user = suggested
	}

	fmt.Fprint(os.Stderr, "password: ")
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return auth.Credentials{}, false
	}
	return auth.Credentials{Username: user, Password: string(pass)}, true
}
