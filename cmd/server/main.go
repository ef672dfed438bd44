package main

import (
	"os"

	"github.com/arnavshah/relief-dispatch-go/pkg/logger"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.New("main").Errorf("%v", err)
		os.Exit(1)
	}
}
