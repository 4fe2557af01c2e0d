package main

import (
	"os"

	"github.com/slipway/slipway/pkg/cli"
)

// Version metadata is injected at build time via -ldflags
// "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := cli.Execute(version, commit, date); err != nil {
		os.Exit(1)
	}
}
