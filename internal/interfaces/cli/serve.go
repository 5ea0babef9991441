package cli

import (
	"log/slog"

	"aawallet/internal/interfaces/httpapi"

	"github.com/spf13/cobra"
)

func NewServeCommand(opts *RootOptions, info httpapi.BuildInfo) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the wallet session over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			server, err := httpapi.NewServer(rt.session, rt.chain, rt.metrics, info)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = rt.cfg.HTTPAddr
			}
			rt.session.RefreshHistory(cmd.Context())

			slog.Info("http server listening", "addr", addr, "account", rt.session.Address().Hex())
			return server.ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to HTTP_ADDR)")
	return cmd
}
