package main

import (
	"os"

	"github.com/bitteprotocol/make-agent/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
