package main

import (
	"context"
	"fmt"
	"os"
	"path"
	"syscall"
	"time"

	rotates "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"

	"github.com/haolipeng/audisp_filter/pkg/api"
	"github.com/haolipeng/audisp_filter/pkg/classifier"
	"github.com/haolipeng/audisp_filter/pkg/config"
	"github.com/haolipeng/audisp_filter/pkg/forwarder"
	"github.com/haolipeng/audisp_filter/pkg/matcher"
	"github.com/haolipeng/audisp_filter/pkg/metrics"
	"github.com/haolipeng/audisp_filter/pkg/rules"
	"github.com/haolipeng/audisp_filter/pkg/service"
	"github.com/haolipeng/audisp_filter/pkg/source"
	"github.com/haolipeng/audisp_filter/pkg/supervisor"
)

const usage = `usage:
  audisp-filter --check <config-file>
  audisp-filter <allowlist|blocklist> <config-file> <consumer-binary> [consumer-args...]`

func InitLogger(settings *config.Settings) error {
	formatter := &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	}
	logrus.SetFormatter(formatter)

	var level logrus.Level
	switch settings.Log.Level {
	case "DEBUG":
		level = logrus.DebugLevel
	case "INFO":
		level = logrus.InfoLevel
	case "WARN":
		level = logrus.WarnLevel
	case "ERROR":
		level = logrus.ErrorLevel
	case "FATAL":
		level = logrus.FatalLevel
	case "PANIC":
		level = logrus.PanicLevel
	default:
		level = logrus.WarnLevel
	}
	logrus.SetLevel(level)

	if _, err := os.Stat(settings.Log.Dir); os.IsNotExist(err) {
		if err := os.MkdirAll(settings.Log.Dir, 0755); err != nil {
			return err
		}
	}
	logFileName := path.Join(settings.Log.Dir, settings.Log.Filename)

	logWriter, err := rotates.New(
		logFileName+".%Y%m%d%H%M",
		rotates.WithLinkName(logFileName),
		rotates.WithMaxAge(time.Duration(settings.Log.MaxAgeHours)*time.Hour),
		rotates.WithRotationTime(time.Duration(settings.Log.RotateHours)*time.Hour),
	)
	if err != nil {
		return err
	}

	lfHook := lfshook.NewHook(lfshook.WriterMap{
		logrus.DebugLevel: logWriter,
		logrus.InfoLevel:  logWriter,
		logrus.WarnLevel:  logWriter,
		logrus.ErrorLevel: logWriter,
		logrus.FatalLevel: logWriter,
		logrus.PanicLevel: logWriter,
	}, &logrus.TextFormatter{})

	logrus.AddHook(lfHook)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.ParseArgs(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n%s\n", err, usage)
		return 1
	}

	settings, err := config.LoadSettings(config.SettingsPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		return 1
	}

	if err := InitLogger(settings); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	engine, err := matcher.NewCELEngine()
	if err != nil {
		logrus.Errorf("Failed to create matching engine: %v", err)
		return 1
	}
	loader := rules.NewLoader(engine, settings.Rules.MaxLineLen)

	// First load must succeed before anything is spawned; a broken config
	// never reaches the service loop.
	ruleSet, err := loader.Load(cfg.ConfigFile)
	if err != nil {
		logrus.Errorf("Initial rule load failed: %v", err)
		return 1
	}

	// Validate-only mode: report and leave without spawning a consumer or
	// opening a pipe.
	if cfg.OnlyCheck {
		logrus.Infof("Config %s is valid (%d rules)", cfg.ConfigFile, ruleSet.Len())
		return 0
	}

	watcher, err := supervisor.NewSignalWatcher(syscall.SIGHUP, syscall.SIGTERM)
	if err != nil {
		logrus.Errorf("Failed to set up signal handling: %v", err)
		return 1
	}
	defer watcher.Close()

	sup := supervisor.New(cfg.Binary, cfg.BinaryArgs)
	if err := sup.Start(); err != nil {
		logrus.Errorf("Failed to start consumer: %v", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := source.NewStdinSource(os.Stdin, settings.Source.BufferSize)
	if err := src.Start(ctx); err != nil {
		// The consumer is already running; don't leave it orphaned.
		logrus.Errorf("Failed to start event feed: %v", err)
		sup.Terminate()
		return 1
	}

	m := &metrics.FilterMetrics{}
	cls := classifier.New(engine, cfg.Mode)
	svc := service.New(service.Options{
		Config:     cfg,
		Loader:     loader,
		Classifier: cls,
		Forwarder:  forwarder.NewPipeForwarder(sup.Pipe(), m),
		Supervisor: sup,
		Source:     src,
		Watcher:    watcher,
		Metrics:    m,
	})
	svc.InstallRules(ruleSet)

	if settings.API.Enabled {
		fs, err := api.NewFilterService(svc)
		if err != nil {
			logrus.Errorf("Failed to create admin API service: %v", err)
			sup.Terminate()
			return 1
		}
		srv := api.NewServer(settings)
		srv.RegisterFilterService(fs)
		go func() {
			if err := srv.Start(); err != nil {
				logrus.Errorf("Admin API server stopped: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				logrus.Errorf("Error stopping admin API server: %v", err)
			}
		}()
	}

	if err := svc.Run(ctx); err != nil {
		logrus.Errorf("Service loop ended with error: %v", err)
	}

	if err := sup.ClosePipe(); err != nil {
		logrus.Errorf("Error closing consumer pipe: %v", err)
	}

	logrus.Info("Shutdown complete")
	return 0
}
