// horizon-worker is the backend process the desktop app spawns over
// stdin/stdout: it speaks the newline-JSON IPC protocol, dispatches the
// closed command vocabulary, drives the local LLM providers, and exposes
// the optional tunneled remote-access HTTP surface.
package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "configs/worker.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("horizon-worker", version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
