package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/makeasinger/studio/internal/ledger"
	"github.com/makeasinger/studio/internal/model"
)

// NewWalletCommand creates the wallet command group
func NewWalletCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Provision wallets",
	}

	var grant int64
	create := &cobra.Command{
		Use:   "create <user>",
		Short: "Create a wallet, optionally with a starting grant",
		Example: `  ledgerctl wallet create user-123
  ledgerctl wallet create user-123 --grant 50`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if grant < 0 {
				return fmt.Errorf("--grant must not be negative")
			}
			return opts.withLedger(func(l *ledger.Ledger) error {
				wallet, err := l.CreateWallet(cmd.Context(), args[0], grant)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), wallet, func() {
					fmt.Fprintf(cmd.OutOrStdout(), "created wallet %s with balance %d\n", wallet.UserID, wallet.Balance)
				})
			})
		},
	}
	create.Flags().Int64Var(&grant, "grant", 0, "credits granted on creation")

	cmd.AddCommand(create)
	return cmd
}

// NewBalanceCommand creates the balance command
func NewBalanceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <user>",
		Short: "Show a wallet balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withLedger(func(l *ledger.Ledger) error {
				wallet, err := l.Balance(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), wallet, func() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", wallet.UserID, wallet.Balance)
				})
			})
		},
	}
}

// NewHistoryCommand creates the history command
func NewHistoryCommand(opts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <user>",
		Short: "List recent transactions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withLedger(func(l *ledger.Ledger) error {
				txs, err := l.History(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				if txs == nil {
					txs = []model.Transaction{}
				}
				return opts.print(cmd.OutOrStdout(), txs, func() {
					out := cmd.OutOrStdout()
					for _, tx := range txs {
						fmt.Fprintf(out, "%s  %+6d  %-10s  %s\n",
							tx.CreatedAt.Format("2006-01-02 15:04:05"), tx.Amount, tx.Reason, tx.ID)
					}
					if len(txs) == 0 {
						fmt.Fprintln(out, "no transactions")
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of transactions")

	return cmd
}

// NewCreditCommand creates the credit command
func NewCreditCommand(opts *RootOptions) *cobra.Command {
	var (
		reason    string
		reference string
	)

	cmd := &cobra.Command{
		Use:   "credit <user> <amount>",
		Short: "Add credits to an existing wallet",
		Example: `  ledgerctl credit user-123 100
  ledgerctl credit user-123 500 --reason purchase --reference order-42`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}

			r := model.TransactionReason(reason)
			if r != model.ReasonGrant && r != model.ReasonPurchase {
				return fmt.Errorf("--reason must be %q or %q", model.ReasonGrant, model.ReasonPurchase)
			}

			var meta map[string]string
			if reference != "" {
				meta = map[string]string{model.MetaReference: reference}
			}

			return opts.withLedger(func(l *ledger.Ledger) error {
				if err := l.AddCredits(cmd.Context(), args[0], amount, r, meta); err != nil {
					return err
				}
				wallet, err := l.Balance(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), wallet, func() {
					fmt.Fprintf(cmd.OutOrStdout(), "credited %d to %s, balance %d\n", amount, wallet.UserID, wallet.Balance)
				})
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", string(model.ReasonGrant), "transaction reason (grant|purchase)")
	cmd.Flags().StringVar(&reference, "reference", "", "external reference stored with the transaction")

	return cmd
}
