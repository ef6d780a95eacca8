package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"periph.io/x/periph/conn/i2c/i2creg"

	animacore "github.com/shimmerlabs/animacore"
	"github.com/shimmerlabs/animacore/internal/audio"
	"github.com/shimmerlabs/animacore/internal/config"
	"github.com/shimmerlabs/animacore/internal/gpio"
	"github.com/shimmerlabs/animacore/internal/logging"
	"github.com/shimmerlabs/animacore/internal/sensor"
	"github.com/shimmerlabs/animacore/internal/transport"
)

func main() {
	var (
		configDir = flag.String("config-dir", "/etc/animacore", "directory holding hardware_config.json, servo_config.json, scenes_config.json")
		clipsDir  = flag.String("clips-dir", "/var/lib/animacore/clips", "directory of playable audio clips")
		player    = flag.String("player", "aplay", "external audio player binary")
		verbose   = flag.Bool("v", false, "verbose (debug) logging")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)

	bundle, err := config.Load(*configDir)
	if err != nil {
		logger.Error("failed to load configuration", "error", err.Error())
		os.Exit(1)
	}

	if err := gpio.InitHost(); err != nil {
		logger.Error("failed to initialize gpio host", "error", err.Error())
		os.Exit(1)
	}
	bank := gpio.NewPeriphBank(bundle.Hardware.GPIOPins)

	bus, err := i2creg.Open(bundle.Hardware.I2CBus)
	if err != nil {
		logger.Error("failed to open i2c bus", "bus", bundle.Hardware.I2CBus, "error", err.Error())
		os.Exit(1)
	}
	defer bus.Close()
	adc := sensor.NewI2CADC(bus, bundle.Hardware.ADCAddr)

	calibrations, err := bundle.Hardware.CalibrationsByChannel()
	if err != nil {
		logger.Error("invalid calibrations in hardware_config.json", "error", err.Error())
		os.Exit(1)
	}

	link, err := transport.Open(transport.Config{
		Port:     bundle.Hardware.SerialPort,
		BaudRate: bundle.Hardware.BaudRate,
	})
	if err != nil {
		logger.Error("failed to open serial transport", "port", bundle.Hardware.SerialPort, "error", err.Error())
		os.Exit(1)
	}

	sys, err := animacore.NewSystem(*configDir, bundle, animacore.Dependencies{
		Transport:    link,
		GPIO:         bank,
		ADC:          adc,
		Calibrations: calibrations,
		Audio: audio.Config{
			ClipsDir: *clipsDir,
			Player:   *player,
			Logger:   logger,
		},
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to construct system", "error", err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sys.Start(ctx)
	defer sys.Stop()

	watcher, err := config.NewWatcher(*configDir, sys, logger)
	if err != nil {
		logger.Error("failed to start config watcher", "error", err.Error())
		os.Exit(1)
	}
	watcher.Start()
	defer watcher.Close()

	logger.Info("animacored started",
		"config_dir", *configDir,
		"serial_port", bundle.Hardware.SerialPort,
		"scenes", len(sys.SceneCatalog()))
	fmt.Printf("animacored listening on %s, %d scenes loaded\n", bundle.Hardware.SerialPort, len(sys.SceneCatalog()))
	fmt.Printf("send SIGUSR1 (kill -USR1 %d) to dump goroutine stacks\n", os.Getpid())

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1024*1024)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n=== END ===\n\n", buf[:n])
			filename := fmt.Sprintf("animacored-stacks-%d.txt", time.Now().Unix())
			if f, err := os.Create(filename); err == nil {
				fmt.Fprintf(f, "Goroutine stack dump at %s\npid %d\n\n", time.Now().Format(time.RFC3339), os.Getpid())
				f.Write(buf[:n])
				fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
				pprof.Lookup("goroutine").WriteTo(f, 2)
				f.Close()
				logger.Info("stack trace written to file", "file", filename)
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
	cancel()
}
