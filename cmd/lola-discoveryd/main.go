//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	systemd "github.com/coreos/go-systemd/v22/daemon"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/eclipse-score/lola-discovery/config"
	"github.com/eclipse-score/lola-discovery/discovery"
	"github.com/eclipse-score/lola-discovery/domain"
	"github.com/eclipse-score/lola-discovery/facade"
	"github.com/eclipse-score/lola-discovery/flagfile"
	"github.com/eclipse-score/lola-discovery/sysio"
)

const (
	runDir  string = "/run/lola-discovery"
	pidFile string = runDir + "/lola-discoveryd.pid"
	usage   string = `lola-discoveryd service-discovery daemon

lola-discoveryd is the per-host process that runs LoLa's service-discovery
core: it advertises this process' offers as flag files under the discovery
root, watches the filesystem for remote offers and withdrawals, and serves
the find/offer surface used by proxy and skeleton bindings.
`
)

// Globals populated at build time.
var (
	version  string
	commitId string
	builtAt  string
	builtBy  string
)

// exitHandler performs the daemon's graceful shutdown on receipt of a
// termination signal.
func exitHandler(
	signalChan chan os.Signal,
	eng *discovery.Engine,
	fac *facade.Facade,
	prof interface{ Stop() },
) {
	var printStack bool

	s := <-signalChan

	logrus.Warnf("lola-discoveryd caught signal: %s", s)
	logrus.Info("Stopping (gracefully) ...")

	systemd.SdNotify(false, systemd.SdNotifyStopping)

	switch s {
	case syscall.SIGABRT, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGSEGV:
		printStack = true
	}

	if printStack {
		stacktrace := make([]byte, 32768)
		length := runtime.Stack(stacktrace, true)
		logrus.Warnf("\n\n%s\n", string(stacktrace[:length]))
	}

	if err := fac.Close(); err != nil {
		logrus.Warnf("error closing facade searches: %v", err)
	}
	if err := eng.Close(); err != nil {
		logrus.Warnf("error closing discovery engine: %v", err)
	}

	if prof != nil {
		prof.Stop()
	}

	time.Sleep(2 * time.Second)

	if err := destroyPidFile(pidFile); err != nil {
		logrus.Warnf("failed to destroy pid file: %v", err)
	}

	logrus.Info("Exiting ...")
	os.Exit(0)
}

// runProfiler starts at most one of cpu/memory profiling, mirroring the
// mutually-exclusive knobs exposed by pprof.
func runProfiler(ctx *cli.Context) (interface{ Stop() }, error) {
	var prof interface{ Stop() }

	cpuProfOn := ctx.Bool("cpu-profiling")
	memProfOn := ctx.Bool("memory-profiling")

	if cpuProfOn && memProfOn {
		return nil, fmt.Errorf("unsupported parameter combination: cpu and memory profiling")
	}
	if !(cpuProfOn || memProfOn) {
		return nil, nil
	}

	// NoShutdownHook: this daemon's own signal handler stops profiling.
	if cpuProfOn {
		prof = profile.Start(
			profile.CPUProfile,
			profile.ProfilePath("."),
			profile.NoShutdownHook,
		)
	}
	if memProfOn {
		prof = profile.Start(
			profile.MemProfile,
			profile.ProfilePath("."),
			profile.NoShutdownHook,
		)
	}

	return prof, nil
}

func setupRunDir() error {
	if err := os.MkdirAll(runDir, 0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", runDir, err)
	}
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "lola-discoveryd"
	app.Usage = usage
	app.Version = version

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Value: "/etc/lola-discovery/lola-discovery.yaml",
			Usage: "deployment configuration document path",
		},
		&cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "log file path or empty string for stderr output",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "log categories to include (debug, info, warning, error, fatal)",
		},
		&cli.StringFlag{
			Name:  "log-format",
			Value: "text",
			Usage: "log format; must be json or text",
		},
		&cli.BoolFlag{
			Name:   "cpu-profiling",
			Usage:  "enable cpu-profiling data collection",
			Hidden: true,
		},
		&cli.BoolFlag{
			Name:   "memory-profiling",
			Usage:  "enable memory-profiling data collection",
			Hidden: true,
		},
	}

	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("lola-discoveryd\n"+
			"\tversion: \t%s\n"+
			"\tcommit: \t%s\n"+
			"\tbuilt at: \t%s\n"+
			"\tbuilt by: \t%s\n",
			c.App.Version, commitId, builtAt, builtBy)
	}

	app.Before = func(ctx *cli.Context) error {
		if path := ctx.String("log"); path != "" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0666)
			if err != nil {
				logrus.Fatalf("Error opening log file %v: %v. Exiting ...", path, err)
				return err
			}
			logrus.SetOutput(f)
			log.SetOutput(f)
		} else {
			logrus.SetOutput(os.Stderr)
			log.SetOutput(os.Stderr)
		}

		if ctx.String("log-format") == "json" {
			logrus.SetFormatter(&logrus.JSONFormatter{
				TimestampFormat: "2006-01-02 15:04:05",
			})
		} else {
			logrus.SetFormatter(&logrus.TextFormatter{
				TimestampFormat: "2006-01-02 15:04:05",
				FullTimestamp:   true,
			})
		}

		switch logLevel := ctx.String("log-level"); logLevel {
		case "debug":
			logrus.SetLevel(logrus.DebugLevel)
		case "info", "":
			logrus.SetLevel(logrus.InfoLevel)
		case "warning":
			logrus.SetLevel(logrus.WarnLevel)
		case "error":
			logrus.SetLevel(logrus.ErrorLevel)
		case "fatal":
			logrus.SetLevel(logrus.FatalLevel)
		default:
			logrus.Fatalf("log-level option '%v' not recognized. Exiting ...", logLevel)
		}

		return nil
	}

	app.Action = func(ctx *cli.Context) error {
		logrus.Info("Initiating lola-discoveryd ...")

		if err := setupRunDir(); err != nil {
			return err
		}
		if err := checkPidFile(pidFile); err != nil {
			return err
		}

		cfg, err := config.Load(ctx.String("config"))
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		appID := cfg.ResolvedApplicationID()
		logrus.Infof("ApplicationId = %d", appID)

		ioSvc := sysio.NewIOService(domain.IOOsFileService)
		flags := flagfile.NewManager(ioSvc)

		engine, err := discovery.New(flags, domain.ProcessId(os.Getpid()))
		if err != nil {
			return fmt.Errorf("failed to start discovery engine: %w", err)
		}

		fac := facade.New(engine, cfg)

		prof, err := runProfiler(ctx)
		if err != nil {
			logrus.Fatal(err)
		}

		exitChan := make(chan os.Signal, 1)
		signal.Notify(
			exitChan,
			syscall.SIGHUP,
			syscall.SIGINT,
			syscall.SIGTERM,
			syscall.SIGSEGV,
			syscall.SIGQUIT,
		)
		go exitHandler(exitChan, engine, fac, prof)

		systemd.SdNotify(false, systemd.SdNotifyReady)

		if err := createPidFile(pidFile); err != nil {
			return fmt.Errorf("failed to create pid file: %w", err)
		}

		logrus.Info("Ready ...")

		select {}
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}
