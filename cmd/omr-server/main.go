package main

import (
	"fmt"
	"log"
	"os"

	"omrscan/internal/config"
	"omrscan/internal/server"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("omr-server %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			fmt.Println("omr-server - answer sheet scanning service")
			fmt.Println()
			fmt.Println("Usage: omr-server [options]")
			fmt.Println()
			fmt.Println("Options:")
			fmt.Println("  --version, -v    Print version information")
			fmt.Println("  --help, -h       Print this help message")
			fmt.Println()
			fmt.Println("Environment variables:")
			fmt.Println("  OMR_PORT=8080            Listen port")
			fmt.Println("  OMR_MODE=local           Run mode (local or docker)")
			fmt.Println("  OMR_LOG_LEVEL=debug      Enable debug logging")
			return
		}
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.LogLevel == "debug" {
		log.Printf("omr-server v%s (built %s, commit %s) mode=%s port=%s",
			Version, BuildTime, GitCommit, cfg.Mode, cfg.Port)
	}

	srv := server.New(cfg, Version)
	log.Printf("Listening on :%s", cfg.Port)
	if err := srv.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
