package main

import (
	"os"

	"joinme/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
