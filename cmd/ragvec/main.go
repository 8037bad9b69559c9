// Command ragvec ingests text documents into a vector store and answers
// nearest-neighbour similarity queries against it. It provides a CLI
// (via Cobra) and an optional HTTP API.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/54b3r/ragvec-go/cmd/ragvec/commands"
	"github.com/54b3r/ragvec-go/internal/audit"
)

func main() {
	start := time.Now()
	cmd, err := commands.NewRootCmd().ExecuteC()
	if cmd != nil {
		audit.LogCommandEnd(slog.Default(), cmd.Name(), time.Since(start), err)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
