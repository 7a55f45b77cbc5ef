package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/tsawler/dermnet/logging"
)

func main() {
	// Optional .env for local runs; absence is fine.
	_ = godotenv.Load()

	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func initLogging(levelStr string, jsonOutput bool) {
	logging.Init(jsonOutput, logging.ParseLevel(levelStr))
}
