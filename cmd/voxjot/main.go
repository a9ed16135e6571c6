package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/voxjot/voxjot/internal/cli"
)

func main() {
	// Optional .env for OPENAI_API_KEY and Google client settings.
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
