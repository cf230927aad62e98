//go:build !unix

package main

import (
	"context"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
)

// watchForShutdown blocks waiting for an interrupt. When received, cancelFn
// will be called and this function will return. The context `ctx` being
// cancelled will also cause this function to return.
func watchForShutdown(ctx context.Context, cancelFn context.CancelFunc) {
	defer cancelFn()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		// something else told us to exit
	case sig := <-sigCh:
		log.Infof("received signal '%s'", sig)
	}
}
