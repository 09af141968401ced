// Package main is the entry point for the regsync command line tool.
package main

import (
	"os"

	"github.com/modregistry/regsync/cmd/regsync/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
