package cmd

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/filerecall/filerecall/internal/httpapi"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the Core API over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = svc.Config().Server.Addr
			}

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", addr, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "filerecall listening on %s\n", ln.Addr())

			server := httpapi.New(svc)

			errCh := make(chan error, 1)
			go func() { errCh <- server.Serve(ln) }()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case <-sigCh:
				return ln.Close()
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "address to listen on (default: configured server.addr)")

	return cmd
}
