// Package main provides docstore, a command-line client for document
// key-value stores kept in a local file, on an FTP/SFTP server or in SQLite.
package main

import (
	"os"

	"github.com/calvinalkan/docstore/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Stdin, os.Stdout, os.Stderr, os.Args, cli.Environ()))
}
