package main

import (
	"fmt"

	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/seed"

	"github.com/spf13/cobra"
)

func seedCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Raise stock to the listed levels and upsert prices and coupons",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			f, err := seed.Load(args[0])
			if err != nil {
				return err
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

			sum, err := seed.Apply(cmd.Context(), f, s.core.Ledger, s.core.Stores.Catalog, s.core.Stores.Coupons)
			if err != nil {
				return fmt.Errorf("seed %s: %w", args[0], err)
			}
			return writeYAML(cmd.OutOrStdout(), map[string]any{
				"restocked": sum.Restocked,
				"prices":    sum.Prices,
				"coupons":   sum.Coupons,
			})
		},
	}
}
