package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/edulution-io/installer/cmd/cli/commands"
)

func main() {
	// Load environment variables from .env file if present
	_ = godotenv.Load()

	if err := commands.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
