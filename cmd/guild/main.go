package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ferrolane/guild/internal/cmd"
	"github.com/joho/godotenv"
)

func main() {
	// A workspace .env can pin overrides like GUILD_HOME before the
	// commands resolve it. Existing variables win over file entries.
	_ = godotenv.Load()

	err := cmd.NewRootCommand().Execute()
	if err == nil {
		return
	}

	var exitErr *cmd.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.Err)
		}
		os.Exit(exitErr.Code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
