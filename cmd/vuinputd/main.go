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
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	systemd "github.com/coreos/go-systemd/daemon"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/urfave/cli"

	"github.com/joleuger/vuinputd/action"
	"github.com/joleuger/vuinputd/config"
	"github.com/joleuger/vuinputd/cuseserver"
	"github.com/joleuger/vuinputd/domain"
	"github.com/joleuger/vuinputd/internal/rundir"
	"github.com/joleuger/vuinputd/jobs"
	"github.com/joleuger/vuinputd/nsenter"
	"github.com/joleuger/vuinputd/process"
	"github.com/joleuger/vuinputd/realizer"
	"github.com/joleuger/vuinputd/udev"
	"github.com/joleuger/vuinputd/vtguard"
)

const (
	vuinputdRunDir string = "/run/vuinputd"
	vuinputdPidFile string = vuinputdRunDir + "/vuinputd.pid"
	usage           string = `vuinputd

vuinputd mediates a container's access to /dev/uinput: it exposes a
CUSE-backed fake uinput device inside the container, forwards its ioctls
and writes to the host's real /dev/uinput, and mirrors the resulting
device nodes and udev metadata back into the container's own namespaces.
`
)

// Globals populated at build time.
var (
	version  string
	commitId string
	builtAt  string
	builtBy  string
)

// exitHandler is vuinputd's signal-driven shutdown goroutine: it cancels
// the background job dispatcher, unmounts the CUSE device, stops any
// profiler, removes the pid file, and notifies systemd — the same shape as
// the teacher's own exitHandler.
func exitHandler(
	signalChan chan os.Signal,
	cancel context.CancelFunc,
	dispatcher *jobs.Dispatcher,
	cuseSrv *cuseserver.MountedServer,
	prof interface{ Stop() },
) {
	var printStack bool

	s := <-signalChan
	logrus.Warnf("vuinputd caught signal: %s", s)
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

	cancel()
	dispatcher.Close()

	if cuseSrv != nil {
		if err := cuseSrv.Unmount(); err != nil {
			logrus.Warnf("vuinputd: error unmounting CUSE device: %v", err)
		}
	}

	if prof != nil {
		prof.Stop()
	}

	if err := rundir.DestroyPidFile(vuinputdPidFile); err != nil {
		logrus.Warnf("failed to destroy vuinputd pid file: %v", err)
	}

	logrus.Info("Exiting ...")
	os.Exit(0)
}

// runProfiler starts cpu or memory profiling per the hidden CLI flags,
// mirroring the teacher's own runProfiler verbatim aside from the package
// path.
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

	if cpuProfOn {
		prof = profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook)
	}
	if memProfOn {
		prof = profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook)
	}

	return prof, nil
}

// checkPermissions verifies the calling process's effective capability set
// carries CAP_MKNOD and CAP_NET_ADMIN, the two capabilities every daemon
// operation eventually needs (mknod'ing device nodes, opening the udev
// netlink monitor socket). Reimplemented directly against
// /proc/self/status: the teacher's own sysbox-libs/capability helper is an
// internal, always-locally-replaced module this repo has no sibling
// checkout for (see DESIGN.md).
func checkPermissions() error {
	const capMknod = 27
	const capNetAdmin = 12

	f, err := os.Open("/proc/self/status")
	if err != nil {
		return fmt.Errorf("checkPermissions: %w", err)
	}
	defer f.Close()

	var effMask uint64
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := s.Text()
		if strings.HasPrefix(line, "CapEff:") {
			hex := strings.TrimSpace(strings.TrimPrefix(line, "CapEff:"))
			v, err := strconv.ParseUint(hex, 16, 64)
			if err != nil {
				return fmt.Errorf("checkPermissions: parse CapEff: %w", err)
			}
			effMask = v
			break
		}
	}
	if err := s.Err(); err != nil {
		return err
	}

	missing := []string{}
	if effMask&(1<<capMknod) == 0 {
		missing = append(missing, "CAP_MKNOD")
	}
	if effMask&(1<<capNetAdmin) == 0 {
		missing = append(missing, "CAP_NET_ADMIN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("checkPermissions: missing required capabilities: %s", strings.Join(missing, ", "))
	}

	return nil
}

// runActionMode re-execs as the in-namespace child that joins the
// container's namespaces (when --target-namespace is set) and executes one
// ActionRecord, exactly the §4.F "run in subprocess" half of ActionExecutor.
// app.Action calls nsenter.PrepareSingleThreaded just before this, once the
// flags have selected action mode. A target namespace that no longer
// exists counts as success: the child exits 0 without doing anything.
func runActionMode(actionJSON, targetNamespace string) int {
	if targetNamespace != "" {
		if err := nsenter.JoinNamespaces(targetNamespace); err != nil {
			if errors.Is(err, domain.ErrNamespaceGone) {
				return 0
			}
			logrus.Errorf("vuinputd: failed to join target namespace %s: %v", targetNamespace, err)
			return 1
		}
	}

	rec, err := domain.DecodeActionJSON(actionJSON)
	if err != nil {
		logrus.Errorf("vuinputd: failed to decode --action payload: %v", err)
		return 1
	}

	if err := action.Execute(afero.NewOsFs(), realizer.OSMknod{}, rec); err != nil {
		logrus.Errorf("vuinputd: action %s failed: %v", rec.Kind, err)
		return 1
	}

	return 0
}

func setupRunDir() error {
	return rundir.EnsureDir(vuinputdRunDir)
}

func main() {
	app := cli.NewApp()
	app.Name = "vuinputd"
	app.Usage = usage
	app.Version = version

	app.Flags = []cli.Flag{
		cli.UintFlag{
			Name:  "major",
			Usage: "major device number for the uinput node; only logged at startup, the CUSE device number is always assigned dynamically",
		},
		cli.UintFlag{
			Name:  "minor",
			Usage: "minor device number for the uinput node; only logged at startup, the CUSE device number is always assigned dynamically",
		},
		cli.StringFlag{
			Name:  "devname",
			Value: "vuinput",
			Usage: "device name exposed under /dev/<devname>",
		},
		cli.StringFlag{
			Name:  "action",
			Usage: "action to execute (JSON-encoded); excludes all other options but target-namespace",
		},
		cli.StringFlag{
			Name:  "action-base64",
			Usage: "action to execute (base64-encoded JSON); excludes all other options but target-namespace",
		},
		cli.StringFlag{
			Name:  "target-namespace",
			Usage: "path to /proc/<pid>/ns used as the namespace source for --action",
		},
		cli.BoolFlag{
			Name:  "vt-guard",
			Usage: "set K_OFF on /dev/tty1 to prevent VT keyboard leakage, then exit",
		},
		cli.StringFlag{
			Name:  "device-policy",
			Value: string(domain.PolicyMuteSysRq),
			Usage: "per-event filtering policy: none, mute-sysrq, sanitized, strict-gamepad",
		},
		cli.StringFlag{
			Name:  "placement",
			Value: string(domain.PlacementInContainer),
			Usage: "placement mode: in-container, on-host, none; selects the host directory prepared at startup (none prepares nothing), while device nodes and udev data of cross-namespace sessions are always mirrored into the client's container",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "log file path or empty string for stderr output",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "log categories to include (debug, info, warning, error, fatal)",
		},
		cli.StringFlag{
			Name:  "log-format",
			Value: "text",
			Usage: "log format; must be json or text",
		},
		cli.BoolFlag{
			Name:   "cpu-profiling",
			Usage:  "enable cpu-profiling data collection",
			Hidden: true,
		},
		cli.BoolFlag{
			Name:   "memory-profiling",
			Usage:  "enable memory-profiling data collection",
			Hidden: true,
		},
	}

	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("vuinputd\n"+
			"\tversion: \t%s\n"+
			"\tcommit: \t%s\n"+
			"\tbuilt at: \t%s\n"+
			"\tbuilt by: \t%s\n",
			c.App.Version, commitId, builtAt, builtBy)
	}

	app.Before = func(ctx *cli.Context) error {
		rand.Seed(time.Now().UnixNano())

		if path := ctx.GlobalString("log"); path != "" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0o666)
			if err != nil {
				logrus.Fatalf("error opening log file %v: %v. Exiting ...", path, err)
				return err
			}
			logrus.SetOutput(f)
			log.SetOutput(f)
		} else {
			logrus.SetOutput(os.Stderr)
			log.SetOutput(os.Stderr)
		}

		if logFormat := ctx.GlobalString("log-format"); logFormat == "json" {
			logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
		} else {
			logrus.SetFormatter(&logrus.TextFormatter{TimestampFormat: "2006-01-02 15:04:05", FullTimestamp: true})
		}

		if logLevel := ctx.GlobalString("log-level"); logLevel != "" {
			lvl, err := logrus.ParseLevel(logLevel)
			if err != nil {
				logrus.Fatalf("log-level option '%v' not recognized. Exiting ...", logLevel)
				return err
			}
			logrus.SetLevel(lvl)
		} else {
			logrus.SetLevel(logrus.InfoLevel)
		}

		return nil
	}

	app.Action = func(ctx *cli.Context) error {
		actionJSON := ctx.String("action")
		actionB64 := ctx.String("action-base64")

		if actionJSON != "" && actionB64 != "" {
			return fmt.Errorf("--action and --action-base64 may not be used together")
		}

		if actionJSON != "" || actionB64 != "" {
			nsenter.PrepareSingleThreaded()

			payload := actionJSON
			if actionB64 != "" {
				decoded, err := base64.StdEncoding.DecodeString(actionB64)
				if err != nil {
					return fmt.Errorf("failed to decode --action-base64: %w", err)
				}
				payload = string(decoded)
			}

			code := runActionMode(payload, ctx.String("target-namespace"))
			os.Exit(code)
			return nil
		}

		if ctx.Bool("vt-guard") {
			if err := vtguard.MuteKeyboard(); err != nil {
				return err
			}
			os.Exit(0)
			return nil
		}

		return runDaemon(ctx)
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

// runDaemon is the third CLI mode: start the CUSE server and serve until a
// signal arrives. This is component M's daemon-mode path.
func runDaemon(ctx *cli.Context) error {
	logrus.Info("Starting vuinputd ...")

	if err := checkPermissions(); err != nil {
		return fmt.Errorf("failed to verify vuinputd's capabilities: %w", err)
	}
	vtguard.CheckVTStatus()

	if err := rundir.CheckPidFile("vuinputd", vuinputdPidFile); err != nil {
		return err
	}
	if err := setupRunDir(); err != nil {
		return fmt.Errorf("failed to setup the vuinputd run dir: %w", err)
	}

	policy := domain.Policy(ctx.String("device-policy"))
	placement := domain.Placement(ctx.String("placement"))
	devname := ctx.String("devname")

	if major, minor := ctx.Uint("major"), ctx.Uint("minor"); major != 0 || minor != 0 {
		logrus.Infof("vuinputd: requested CUSE device major=%d minor=%d (dynamic assignment otherwise)", major, minor)
	}

	if err := config.Initialize(domain.GlobalConfig{Policy: policy, Placement: placement, Devname: devname}); err != nil {
		return err
	}

	selfNS, err := process.GetNsInodes(domain.SelfPid)
	if err != nil {
		return fmt.Errorf("failed to retrieve vuinputd's own namespaces: %w", err)
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve vuinputd's own executable path: %w", err)
	}

	fs := realizerFS()
	if placement != domain.PlacementNone {
		if err := realizer.EnsureHostFSStructure(fs, hostFSPrefix(placement)); err != nil {
			return fmt.Errorf("failed to bootstrap host fs structure: %w", err)
		}
		if err := realizer.CheckPathAllowsCharDevs(hostFSPrefix(placement)); err != nil {
			logrus.Warnf("vuinputd: could not check mount options: %v", err)
		}
	}

	ctxBg, cancel := context.WithCancel(context.Background())
	dispatcher := jobs.NewDispatcher(ctxBg)

	store := udev.NewStore(2 * time.Minute)
	dispatcher.Dispatch(jobs.NewMonitorBackgroundLoopJob(store))

	rt := jobs.Runtime{ExePath: exePath, FS: fs, Mknod: realizer.OSMknod{}}
	registry := cuseserver.NewRegistry()
	srv := cuseserver.NewServer(registry, dispatcher, store, rt, config.Get(), selfNS)

	prof, err := runProfiler(ctx)
	if err != nil {
		logrus.Fatal(err)
	}

	mounted, err := cuseserver.Mount(devname, srv)
	if err != nil {
		return fmt.Errorf("failed to mount CUSE device: %w", err)
	}

	exitChan := make(chan os.Signal, 1)
	signal.Notify(exitChan, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGSEGV, syscall.SIGQUIT)
	go exitHandler(exitChan, cancel, dispatcher, mounted, prof)

	systemd.SdNotify(false, systemd.SdNotifyReady)

	if err := rundir.CreatePidFile("vuinputd", vuinputdPidFile); err != nil {
		return fmt.Errorf("failed to create vuinputd.pid file: %w", err)
	}

	logrus.Info("Ready ...")
	mounted.Wait()

	if err := rundir.DestroyPidFile(vuinputdPidFile); err != nil {
		logrus.Warnf("failed to destroy vuinputd pid file: %v", err)
	}
	logrus.Info("Done.")

	return nil
}

func hostFSPrefix(placement domain.Placement) string {
	if placement == domain.PlacementOnHost {
		return vuinputdRunDir
	}
	return "/run"
}

// realizerFS returns the production afero filesystem realizer's WriteUdevData
// and friends operate against.
func realizerFS() realizer.FS {
	return afero.NewOsFs()
}
