package main

import (
	"fmt"
	"strconv"

	domaudit "github.com/Zhima-Mochi/minishop-checkout/internal/domain/audit"

	"github.com/spf13/cobra"
)

type restockOutput struct {
	ProductID  string `yaml:"product_id"`
	Added      int    `yaml:"added"`
	Available  int    `yaml:"available"`
	MovementID string `yaml:"movement_id"`
}

func restockCmd(open opener) *cobra.Command {
	var reason, actor string
	cmd := &cobra.Command{
		Use:   "restock <product-id> <quantity>",
		Short: "Add stock for a product",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			qty, err := strconv.Atoi(args[1])
			if err != nil || qty <= 0 {
				return fmt.Errorf("quantity must be a positive integer, got %q", args[1])
			}
			s, err := open(cmd)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := s.Close(); err == nil {
					err = cerr
				}
			}()

			m, err := s.core.Ledger.Restock(cmd.Context(), args[0], qty, reason)
			if err != nil {
				return fmt.Errorf("restock %s: %w", args[0], err)
			}
			s.core.Audit.Record(cmd.Context(), domaudit.Entry{
				Action:       domaudit.ActionStockRestocked,
				ResourceType: domaudit.ResourceProduct,
				ResourceID:   args[0],
				Actor:        "operator:" + actor,
				Metadata: map[string]any{
					"quantity":    qty,
					"reason":      reason,
					"movement_id": m.ID,
				},
			})
			available, err := s.core.Ledger.Available(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), restockOutput{
				ProductID:  args[0],
				Added:      qty,
				Available:  available,
				MovementID: m.ID,
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "restock", "Reason recorded on the movement")
	cmd.Flags().StringVar(&actor, "actor", "cli", "Operator name recorded in the audit log")
	return cmd
}
