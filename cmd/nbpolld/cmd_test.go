//go:build linux

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rocinan/nbpoll"
	"github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/sys/unix"
)

func TestInitConfig_Defaults(t *testing.T) {
	c := newCommand()
	if err := c.initConfig(c.root); err != nil {
		t.Fatal(err)
	}
	if got := c.config.GetInt(optionNameListenPort); got != 9003 {
		t.Fatalf("listen port %d, want 9003", got)
	}
	if got := c.config.GetFloat64(optionNameWatchdogPeriod); got != 10 {
		t.Fatalf("watchdog period %v, want 10", got)
	}
}

func TestInitConfig_Env(t *testing.T) {
	t.Setenv("NBPOLL_LISTEN_PORT", "9999")
	t.Setenv("NBPOLL_IDLE_TIMEOUT", "2.5")
	c := newCommand()
	if err := c.initConfig(c.root); err != nil {
		t.Fatal(err)
	}
	if got := c.config.GetInt(optionNameListenPort); got != 9999 {
		t.Fatalf("listen port %d, want 9999", got)
	}
	if got := c.config.GetFloat64(optionNameIdleTimeout); got != 2.5 {
		t.Fatalf("idle timeout %v, want 2.5", got)
	}
}

func TestInitConfig_FlagOverridesEnv(t *testing.T) {
	t.Setenv("NBPOLL_LISTEN_PORT", "9999")
	c := newCommand()
	if err := c.root.Flags().Set(optionNameListenPort, "8080"); err != nil {
		t.Fatal(err)
	}
	if err := c.initConfig(c.root); err != nil {
		t.Fatal(err)
	}
	if got := c.config.GetInt(optionNameListenPort); got != 8080 {
		t.Fatalf("listen port %d, want 8080", got)
	}
}

func TestInitConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nbpolld.yaml")
	if err := os.WriteFile(path, []byte("listen-addr: 0.0.0.0\nwatchdog-period: 5\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	c := newCommand()
	c.cfgFile = path
	if err := c.initConfig(c.root); err != nil {
		t.Fatal(err)
	}
	if got := c.config.GetString(optionNameListenAddr); got != "0.0.0.0" {
		t.Fatalf("listen addr %q, want 0.0.0.0", got)
	}
	if got := c.config.GetFloat64(optionNameWatchdogPeriod); got != 5 {
		t.Fatalf("watchdog period %v, want 5", got)
	}
}

func TestStopOnSignal(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := nbpoll.DefaultConfig()
	cfg.Logger = logger
	r, err := nbpoll.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	stop, err := stopOnSignal(r)
	if err != nil {
		t.Fatal(err)
	}
	if r.Len() != 1 {
		t.Fatalf("len %d, want 1", r.Len())
	}
	timedOut := false
	if err := r.Schedule(2, func(any) {
		timedOut = true
		r.Stop()
	}, nil); err != nil {
		t.Fatal(err)
	}
	if err := unix.Kill(unix.Getpid(), unix.SIGTERM); err != nil {
		t.Fatal(err)
	}
	if err := r.Run(); err != nil {
		t.Fatal(err)
	}
	if timedOut {
		t.Fatal("reactor was not stopped by the signal")
	}

	stop()
	if r.Len() != 0 {
		t.Fatalf("len %d after cleanup, want 0", r.Len())
	}
}
