// Package main provides the entry point for tokmesh-cli.
//
// tokmesh-cli is the command-line management tool for TokMesh. It runs
// one command per invocation; it has no interactive REPL mode.
package main

import (
	"fmt"
	"os"

	"github.com/tokmesh/cluster-go/internal/cli/command"
)

func main() {
	app := command.App()

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
