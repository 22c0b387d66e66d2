package bootstrap

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/kbukum/brokerpool/logger"
)

// WaitForSignal blocks until SIGINT, SIGTERM or ctx cancellation.
func WaitForSignal(ctx context.Context, log *logger.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info("Received shutdown signal, graceful shutdown starting", logger.Fields("signal", sig.String()))
	case <-ctx.Done():
		log.Info("Context canceled, shutting down")
	}
}

// WaitForEnterOrSignal returns a WaitFunc that also stops when a line (or
// EOF) is read from in.
func WaitForEnterOrSignal(in io.Reader) WaitFunc {
	return func(ctx context.Context, log *logger.Logger) {
		lineCh := make(chan struct{})
		go func() {
			_, _ = bufio.NewReader(in).ReadString('\n')
			close(lineCh)
		}()

		waitCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-lineCh:
				log.Info("Enter pressed, stopping")
				cancel()
			case <-waitCtx.Done():
			}
		}()

		log.Info("Press Enter to stop")
		WaitForSignal(waitCtx, log)
	}
}
