package main

import (
	"os"

	"github.com/alpacahq/marketqueue/cmd"
	"github.com/alpacahq/marketqueue/utils/log"
)

func main() {
	err := cmd.Execute()
	log.Sync()
	if err != nil {
		os.Exit(1)
	}
}
