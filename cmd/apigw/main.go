/*
This command provides an executable version of the API gateway.

For the list of command line options, run:

	apigw -help

The APIs are loaded from one or more definition files:

	apigw -apis-file=apis.yaml -tags=internal

For details about the request processing, see the documentation of the
root apigw package.
*/
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/zalando/apigw"
	"github.com/zalando/apigw/config"
)

var (
	version string
	commit  string
)

func main() {
	cfg := config.NewConfig()
	if err := cfg.Parse(); err != nil {
		log.Fatalf("Error processing config: %s", err)
	}

	if cfg.PrintVersion {
		fmt.Printf("apigw version %s (commit: %s)\n", version, commit)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := apigw.Run(ctx, cfg.ToOptions()); err != nil {
		log.Fatal(err)
	}
}
