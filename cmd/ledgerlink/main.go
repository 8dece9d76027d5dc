package main

import (
	"os"

	"ledgerlink-reconciliation-service/cmd/ledgerlink/cmd"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, date)
	os.Exit(cmd.Execute())
}
