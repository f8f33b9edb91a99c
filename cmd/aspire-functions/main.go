package main

import (
	"github.com/rs/zerolog"

	"github.com/mostefaiamine-25/aspire-functions/pkg/console"
	"github.com/mostefaiamine-25/aspire-functions/pkg/functions"
	"github.com/mostefaiamine-25/aspire-functions/pkg/queue"
	"github.com/mostefaiamine-25/aspire-functions/pkg/root"
)

func main() {
	// 1. Register Functions
	console.SetFunctions(func(registry *queue.Registry, logger zerolog.Logger) {
		functions.Register(registry, functions.NewEmailFunction(logger))
	})

	// 2. Execute Root Command
	root.Execute()
}
