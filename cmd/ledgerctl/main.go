package main

import (
	"fmt"
	"os"

	"github.com/makeasinger/studio/internal/app"
	"github.com/makeasinger/studio/internal/cli"
	"github.com/makeasinger/studio/internal/config"
	"github.com/makeasinger/studio/internal/ledger"
)

func main() {
	open := func() (*ledger.Ledger, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		return app.OpenLedger(&cfg.Ledger, app.NewRedisClient(&cfg.Redis))
	}

	if err := cli.NewRootCommand(open).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
