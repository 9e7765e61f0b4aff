// Package main is the entry point for the schemactl binary.
package main

import (
	"os"

	cli "schemaevo/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
