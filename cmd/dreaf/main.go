package main

import (
	"os"

	"github.com/scragly/dreaf/pkg/app"
	"github.com/scragly/dreaf/pkg/log"
)

// main is the entry point of the Discord bot.
func main() {
	if err := app.Run("dreaf"); err != nil {
		log.ErrorLoggerRaw().Error("Fatal", "err", err)
		os.Exit(1)
	}
}
