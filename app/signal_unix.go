//go:build !windows
// +build !windows

package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bankfabric/guarantee-message-engine/engine"

	"github.com/pkg/errors"
)

func interrupt(cancel <-chan struct{}, e *engine.Engine) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	for {
		select {
		case sig := <-c:
			switch sig {
			case syscall.SIGUSR1:
				e.Kick()
				continue
			default:
				return fmt.Errorf("received signal %s", sig)
			}
		case <-cancel:
			return errors.New("canceled")
		}
	}
}
