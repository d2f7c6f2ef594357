package main

import (
	"os"

	"github.com/maxiv-kitscontrols/albaem/internal/cli"
	"github.com/sirupsen/logrus"
)

func main() {
	// Setup logging; log.json in the config switches to JSON
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	rootCmd := cli.NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
