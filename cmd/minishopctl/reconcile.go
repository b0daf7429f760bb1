package main

import (
	"fmt"

	appPayment "github.com/Zhima-Mochi/minishop-checkout/internal/application/payment"

	"github.com/spf13/cobra"
)

type reconcileOutput struct {
	OrderID       string          `yaml:"order_id"`
	Outcome       string          `yaml:"outcome"`
	Status        string          `yaml:"status"`
	PaymentStatus string          `yaml:"payment_status"`
	Shortages     []shortageEntry `yaml:"shortages,omitempty"`
}

type shortageEntry struct {
	ProductID string `yaml:"product_id"`
	Requested int    `yaml:"requested"`
	Available int    `yaml:"available"`
}

func reconcileCmd(open opener) *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "reconcile <order-id>",
		Short: "Retry the stock decrement of a captured order waiting for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := open(cmd)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := s.Close(); err == nil {
					err = cerr
				}
			}()

			res, err := s.core.Reconcile.Execute(cmd.Context(), appPayment.ReconcileOrderInput{
				OrderID: args[0],
				Actor:   "operator:" + actor,
			})
			if err != nil {
				return fmt.Errorf("reconcile %s: %w", args[0], err)
			}
			out := reconcileOutput{
				OrderID:       res.OrderID,
				Outcome:       string(res.Outcome),
				Status:        string(res.Status),
				PaymentStatus: string(res.PaymentStatus),
			}
			for _, sh := range res.Shortages {
				out.Shortages = append(out.Shortages, shortageEntry{ProductID: sh.ProductID, Requested: sh.Requested, Available: sh.Available})
			}
			return writeYAML(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "cli", "Operator name recorded in the audit log")
	return cmd
}
