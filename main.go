// main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/camroom/camroom/internal/config"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("camroom v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		showUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "init":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: init requires a directory path")
			fmt.Fprintln(os.Stderr, "Usage: camroom init <directory>")
			os.Exit(1)
		}
		runInit(args[1])

	case "serve":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: serve requires a directory path")
			fmt.Fprintln(os.Stderr, "Usage: camroom serve <directory>")
			os.Exit(1)
		}
		runWithSignals(args[1], func(ctx context.Context, dir string, cfgPath string, cfg *config.Config) error {
			return runServe(ctx, dir, cfgPath, cfg)
		})

	case "join":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "Error: join requires a directory and a room name")
			fmt.Fprintln(os.Stderr, "Usage: camroom join <directory> <ROOM>")
			os.Exit(1)
		}
		room := args[2]
		runWithSignals(args[1], func(ctx context.Context, dir string, cfgPath string, cfg *config.Config) error {
			return runJoin(ctx, dir, cfgPath, cfg, room)
		})

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n\n", args[0])
		showUsage()
		os.Exit(1)
	}
}

func runInit(dirArg string) {
	absDir, err := filepath.Abs(dirArg)
	if err != nil {
		log.Fatalf("Invalid directory: %v", err)
	}
	cfgPath := filepath.Join(absDir, "camroom.json")
	if _, err := os.Stat(cfgPath); err == nil {
		log.Fatalf("Config already exists: %s", cfgPath)
	}
	if err := config.Default().Save(cfgPath); err != nil {
		log.Fatalf("Failed to write config: %v", err)
	}
	fmt.Printf("Wrote %s\n", cfgPath)
	fmt.Println("Set identity.username (capital A-Z) before joining rooms.")
}

// runWithSignals loads the config from dir and runs fn under a context that
// cancels on SIGINT/SIGTERM.
func runWithSignals(dirArg string, fn func(context.Context, string, string, *config.Config) error) {
	absDir, err := filepath.Abs(dirArg)
	if err != nil {
		log.Fatalf("Invalid directory: %v", err)
	}
	if stat, err := os.Stat(absDir); err != nil || !stat.IsDir() {
		log.Fatalf("Directory does not exist: %s", absDir)
	}

	cfgPath := filepath.Join(absDir, "camroom.json")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down gracefully...")
		cancel()
	}()

	if err := fn(ctx, absDir, cfgPath, cfg); err != nil && !errorsIsCanceled(err) {
		log.Fatalf("camroom failed: %v", err)
	}
}

func errorsIsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

func showUsage() {
	fmt.Println("camroom - multi-party video chatrooms")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  camroom init <directory>         Write a default config file")
	fmt.Println("  camroom serve <directory>        Run the room gateway")
	fmt.Println("  camroom join <directory> <ROOM>  Join a room with camera")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init <directory>")
	fmt.Println("        Create camroom.json with defaults in the directory")
	fmt.Println()
	fmt.Println("  serve <directory>")
	fmt.Println("        Run the HTTP/WebSocket gateway over the directory's storage")
	fmt.Println()
	fmt.Println("  join <directory> <ROOM>")
	fmt.Println("        Join the named room as identity.username from camroom.json,")
	fmt.Println("        capture the local camera and mesh with the other participants")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h        Show this help message")
	fmt.Println("  -version  Show version information")
}
