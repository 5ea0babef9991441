package cli

import (
	"fmt"
	"slices"

	"aawallet/internal/interfaces/httpapi"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Email   string
	IDToken string
	Format  string // "json" | "text"
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the aawallet command tree.
func NewRootCommand(info httpapi.BuildInfo) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "aawallet",
		Short: "Email-keyed smart account wallet",
		Long: `aawallet controls a Kernel smart account on EntryPoint v0.7 whose owner key
is derived from an email identity. Transfers are sent as sponsored user
operations; history is rebuilt from the bundler and the token's Transfer logs.`,
		Version:       info.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Email, "email", "", "wallet identity email (defaults to WALLET_EMAIL)")
	cmd.PersistentFlags().StringVar(&opts.IDToken, "id-token", "", "OIDC ID token carrying the email claim")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewAddressCommand(opts))
	cmd.AddCommand(NewBalanceCommand(opts))
	cmd.AddCommand(NewSendCommand(opts))
	cmd.AddCommand(NewBatchCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewServeCommand(opts, info))

	return cmd
}
