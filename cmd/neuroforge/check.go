package main

import (
	"io"

	"neuroforge/internal/cli"
)

func runCheck(stdout, stderr io.Writer, fix bool) int {
	return cli.RunCheck(cli.CheckOptions{Fix: fix}, stdout, stderr)
}
