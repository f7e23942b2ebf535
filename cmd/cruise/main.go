// Cruise is a single-session proxy in front of an LLM provider's API: it
// predicts when a client is about to hit a usage ceiling and reroutes
// requests to a cheaper model or fallback provider before the client ever
// sees a 429.
package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to optional config file")
	port := flag.Int("port", 0, "port to listen on (overrides config/default 4141)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("cruise", version)
		os.Exit(0)
	}

	if err := run(*configPath, *port); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
