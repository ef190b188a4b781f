package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"bleq/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		log.WithError(err).Error("bleq failed")
		os.Exit(1)
	}
}
