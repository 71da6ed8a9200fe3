package main

import (
	"os"

	"github.com/notargets/kernelheap/cmd/kernelheap/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
