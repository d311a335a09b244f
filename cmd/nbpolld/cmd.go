//go:build linux

package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rocinan/nbpoll"
	"github.com/rocinan/nbpoll/echo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sys/unix"
)

const (
	optionNameListenAddr     = "listen-addr"
	optionNameListenPort     = "listen-port"
	optionNameIdleTimeout    = "idle-timeout"
	optionNameWatchdogPeriod = "watchdog-period"
	optionNameMetricsAddr    = "metrics-addr"
	optionNameVerbosity      = "verbosity"
)

type command struct {
	root    *cobra.Command
	config  *viper.Viper
	cfgFile string
}

func newCommand() *command {
	c := &command{}
	c.root = &cobra.Command{
		Use:           "nbpolld",
		Short:         "Echo service supervised by the nbpoll reactor",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run()
		},
	}
	c.root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file")
	flags := c.root.Flags()
	flags.String(optionNameListenAddr, "127.0.0.1", "IPv4 address to listen on")
	flags.Int(optionNameListenPort, 9003, "port to listen on")
	flags.Float64(optionNameIdleTimeout, 30, "seconds before an idle connection is closed, 0 disables")
	flags.Float64(optionNameWatchdogPeriod, 10, "seconds between watchdog sweeps")
	flags.String(optionNameMetricsAddr, "", "address serving prometheus metrics, empty disables")
	flags.String(optionNameVerbosity, "info", "log verbosity level: panic, fatal, error, warn, info, debug, trace")
	return c
}

func (c *command) Execute() error {
	return c.root.Execute()
}

func (c *command) initConfig(cmd *cobra.Command) error {
	config := viper.New()
	if c.cfgFile != "" {
		config.SetConfigFile(c.cfgFile)
		if err := config.ReadInConfig(); err != nil {
			var e viper.ConfigFileNotFoundError
			if !errors.As(err, &e) {
				return err
			}
		}
	}
	config.SetEnvPrefix("nbpoll")
	config.AutomaticEnv()
	config.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	if err := config.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	c.config = config
	return nil
}

func (c *command) run() error {
	logger := nbpoll.Logger()
	level, err := logrus.ParseLevel(c.config.GetString(optionNameVerbosity))
	if err != nil {
		return fmt.Errorf("%s: %w", optionNameVerbosity, err)
	}
	logger.SetLevel(level)

	cfg := nbpoll.DefaultConfig()
	cfg.WatchdogPeriod = c.config.GetFloat64(optionNameWatchdogPeriod)
	r, err := nbpoll.New(cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	server, err := echo.NewServer(r, echo.NewConfig(
		c.config.GetString(optionNameListenAddr),
		c.config.GetInt(optionNameListenPort),
		c.config.GetFloat64(optionNameIdleTimeout),
	), logger)
	if err != nil {
		return err
	}
	defer server.Close()

	if addr := c.config.GetString(optionNameMetricsAddr); addr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(r.Metrics()...)
		go func() {
			if err := http.ListenAndServe(addr, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})); err != nil {
				logger.WithField("component", "metrics").Error(err)
			}
		}()
	}

	stop, err := stopOnSignal(r)
	if err != nil {
		return err
	}
	defer stop()

	logger.Info("Start Service Successfully")
	logger.Info("PID: ", os.Getpid())
	return r.Run()
}

// stopOnSignal turns SIGINT and SIGTERM into readiness on a pipe watched by
// the reactor, so that Stop is called from the loop goroutine.
func stopOnSignal(r *nbpoll.Reactor) (func(), error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("pipe: %w", err)
	}
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, unix.SIGINT, unix.SIGTERM)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range signalChan {
			_, _ = unix.Write(p[1], []byte{0})
		}
	}()
	pollable := nbpoll.NewPollable(r, nbpoll.HandlerFuncs{
		OnRead: func(*nbpoll.Pollable) {
			nbpoll.Logger().Info("stop server ...")
			r.Stop()
		},
	}, nil)
	cleanup := func() {
		signal.Stop(signalChan)
		close(signalChan)
		<-done
		_ = pollable.Close()
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
	}
	if err := pollable.Attach(p[0]); err != nil {
		cleanup()
		return nil, err
	}
	if err := pollable.SetReadable(); err != nil {
		cleanup()
		return nil, err
	}
	return cleanup, nil
}
