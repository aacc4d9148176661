package main

import (
	"os"

	"github.com/fintrack/fintrack/cmd/fintrackctl/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:]))
}
