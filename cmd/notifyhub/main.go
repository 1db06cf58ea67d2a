package main

import (
	"os"

	"github.com/notifyhub/notifyhub/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
