// kibod drives the robot head: it loads the clip catalog, opens the
// configured output target, and exposes an interactive console for
// playback.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/shlex"

	"github.com/anotherjesse/kibo/assets"
	"github.com/anotherjesse/kibo/config"
	"github.com/anotherjesse/kibo/core"
	"github.com/anotherjesse/kibo/host/bridge"
	"github.com/anotherjesse/kibo/targets/linux"
	"github.com/anotherjesse/kibo/targets/sim"
)

var (
	configPath = flag.String("config", "", "Path to JSON config (default built-in head calibration)")
	device     = flag.String("device", "sim", "Output target: sim, serial or linux")
	port       = flag.String("port", "/dev/ttyACM0", "Serial device for -device=serial")
	verbose    = flag.Bool("verbose", false, "Log every simulated bus call")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	images, err := loadImages(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	catalog, err := config.BuildCatalog(cfg, images)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid catalog: %v\n", err)
		os.Exit(1)
	}

	outputs, closeOutputs, err := openOutputs(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeOutputs()

	if err := outputs.PWM.SetFrequency(cfg.PWM.FrequencyHz); err != nil {
		fmt.Fprintf(os.Stderr, "Error: set PWM frequency: %v\n", err)
		os.Exit(1)
	}

	worker := core.NewDeviceWorker(*outputs, cfg.QueueDepth, cfg.FailThreshold)
	sched, err := core.NewScheduler(catalog, cfg.Encoder(), worker, cfg.SchedulerConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go worker.Run(ctx)
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("scheduler stopped: %v", err)
			stop()
		}
	}()

	fmt.Printf("kibod: %d channels, %d clips, target %s\n",
		len(catalog.Channels()), len(catalog.ClipNames()), *device)
	console(ctx, sched, cfg)
}

func loadConfig() (*config.Config, error) {
	if *configPath == "" {
		return config.Default(), nil
	}
	data, err := os.ReadFile(*configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := config.Load(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", *configPath, err)
	}
	return cfg, nil
}

func loadImages(cfg *config.Config) (map[string]*core.FrameImage, error) {
	images := make(map[string]*core.FrameImage, len(cfg.Images))
	for _, ic := range cfg.Images {
		img, err := assets.LoadImageFile(filepath.Join(cfg.AssetDir, ic.File), ic.X, ic.Y, ic.W, ic.H)
		if err != nil {
			return nil, err
		}
		images[ic.Name] = img
	}
	return images, nil
}

func openOutputs(cfg *config.Config) (*core.Outputs, func() error, error) {
	switch *device {
	case "sim":
		outputs, _, _ := sim.New(*verbose)
		return outputs, func() error { return nil }, nil

	case "serial":
		b, err := bridge.Open(*port)
		if err != nil {
			return nil, nil, fmt.Errorf("bridge on %s: %w", *port, err)
		}
		if err := b.Ping(); err != nil {
			b.Close()
			return nil, nil, fmt.Errorf("bridge on %s not answering: %w", *port, err)
		}
		return &core.Outputs{PWM: b, Display: b}, b.Close, nil

	case "linux":
		return linux.Open(linux.Config{
			I2CBus:  cfg.PWM.I2CBus,
			I2CAddr: uint16(cfg.PWM.I2CAddr),
			SPIDev:  cfg.Display.SPIDev,
			DCPin:   cfg.Display.DCPin,
			RSTPin:  cfg.Display.RSTPin,
			Width:   cfg.Display.Width,
			Height:  cfg.Display.Height,
		})

	default:
		return nil, nil, fmt.Errorf("unknown device %q (want sim, serial or linux)", *device)
	}
}

func console(ctx context.Context, sched *core.Scheduler, cfg *config.Config) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		if ctx.Err() != nil {
			return
		}

		args, err := shlex.Split(scanner.Text())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}

		switch args[0] {
		case "quit", "exit", "q":
			return

		case "help", "?":
			printHelp()

		case "clips":
			for _, name := range sched.ClipNames() {
				fmt.Println(" ", name)
			}

		case "play":
			if len(args) < 2 {
				fmt.Println("usage: play <clip> [blend_ms]")
				continue
			}
			blend := time.Duration(cfg.DefaultBlendMs) * time.Millisecond
			if len(args) >= 3 {
				ms, err := strconv.Atoi(args[2])
				if err != nil || ms < 0 {
					fmt.Printf("bad blend %q\n", args[2])
					continue
				}
				blend = time.Duration(ms) * time.Millisecond
			}
			if err := sched.Request(args[1], blend); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}

		case "stop":
			sched.Stop(time.Duration(cfg.NeutralGlideMs) * time.Millisecond)

		case "status":
			st := sched.Status()
			fmt.Printf("state=%s clip=%q elapsed=%v errors=%d\n",
				st.State, st.Clip, st.Elapsed.Round(time.Millisecond), st.ConsecutiveErrs)

		default:
			fmt.Printf("Unknown command: %s (type 'help' for available commands)\n", args[0])
		}
	}
}

func printHelp() {
	fmt.Println("\nAvailable commands:")
	fmt.Println("  clips                - List available expression clips")
	fmt.Println("  play <clip> [ms]     - Play a clip, blending over ms (default from config)")
	fmt.Println("  stop                 - Glide back to the rest pose")
	fmt.Println("  status               - Show playback state")
	fmt.Println("  help                 - Show this help message")
	fmt.Println("  quit/exit/q          - Exit")
	fmt.Println()
}
