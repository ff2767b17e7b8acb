// kvl is the command-line front end for kvlite, a key-value store backed by
// the local file system.
package main

import (
	"os"

	"github.com/heysubinoy/kvlite/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
