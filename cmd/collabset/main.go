package main

import (
	"context"
	"fmt"
	"os"

	"github.com/collabset/backend/internal/app"
)

const usage = `usage: collabset <command>

commands:
  serve              run the HTTP API
  migrate [up|status]
  seed <name>        apply seeds/<name>_seed.sql
  snapshot           export the ledger to object storage
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err := app.Run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "collabset: %v\n", err)
		os.Exit(1)
	}
}
