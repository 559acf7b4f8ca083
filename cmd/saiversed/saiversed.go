package main

import (
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse"
)

func main() {
	if err := saiverse.NewSaiverseCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "saiversed:", err)
		os.Exit(1)
	}
}
