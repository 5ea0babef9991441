package cli

import (
	"errors"
	"fmt"
	"io"

	"aawallet/internal/application"

	"github.com/spf13/cobra"
)

func NewAddressCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the smart account and owner addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			account := rt.session.Account()
			out := map[string]string{
				"email":   rt.session.Identity().Email,
				"address": account.Address.Hex(),
				"owner":   account.Owner.Hex(),
			}
			return writeOutput(cmd.OutOrStdout(), opts.Format, out, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "email:   %s\naddress: %s\nowner:   %s\n", out["email"], out["address"], out["owner"])
				return err
			})
		},
	}
}

func NewBalanceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Print token and native balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			symbol := rt.session.Token().Symbol
			out := map[string]string{
				"token":  rt.session.TokenBalance(cmd.Context()),
				"native": rt.session.NativeBalance(cmd.Context()),
				"symbol": symbol,
			}
			return writeOutput(cmd.OutOrStdout(), opts.Format, out, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s %s\nETH %s\n", symbol, out["token"], out["native"])
				return err
			})
		},
	}
}

func NewSendCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send <recipient> <amount>",
		Short: "Send a sponsored token transfer",
		Example: `  aawallet send 0x1234567890abcdef1234567890abcdef12345678 10.5 --email a@x.com`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			hash, err := rt.session.SendTransfer(cmd.Context(), args[0], args[1])
			return writeSubmission(cmd, opts, rt, hash, err)
		},
	}
}

func NewBatchCommand(opts *RootOptions) *cobra.Command {
	var approve string
	cmd := &cobra.Command{
		Use:   "batch <recipient> <amount>",
		Short: "Approve and transfer in one sponsored user operation",
		Long: `Approve the recipient for --approve and transfer amount to it, as one
batched user operation. The approval defaults to the transfer amount.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			approveAmount := approve
			if approveAmount == "" {
				approveAmount = args[1]
			}
			hash, err := rt.session.BatchTransfer(cmd.Context(), args[0], args[1], approveAmount)
			return writeSubmission(cmd, opts, rt, hash, err)
		},
	}
	cmd.Flags().StringVar(&approve, "approve", "", "allowance to grant the recipient (>= amount)")
	return cmd
}

func writeSubmission(cmd *cobra.Command, opts *RootOptions, rt *runtime, hash string, err error) error {
	if err != nil {
		var walletErr *application.WalletError
		if errors.As(err, &walletErr) {
			return fmt.Errorf("%s failed: %s", walletErr.Op, walletErr.Message)
		}
		return err
	}
	out := map[string]string{"hash": hash, "explorerUrl": rt.session.ExplorerURL(hash)}
	return writeOutput(cmd.OutOrStdout(), opts.Format, out, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "confirmed %s\n%s\n", hash, out["explorerUrl"])
		return err
	})
}

func NewHistoryCommand(opts *RootOptions) *cobra.Command {
	var cached bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Reconcile and print the transaction history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			txs := rt.session.Transactions()
			if !cached {
				txs = rt.session.RefreshHistory(cmd.Context())
			}
			return writeOutput(cmd.OutOrStdout(), opts.Format, txs, func(w io.Writer) error {
				return writeTransactions(w, txs)
			})
		},
	}
	cmd.Flags().BoolVar(&cached, "cached", false, "print the local ledger without reconciling")
	return cmd
}
