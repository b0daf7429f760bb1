package main

import (
	"fmt"
	"time"

	domaudit "github.com/Zhima-Mochi/minishop-checkout/internal/domain/audit"

	"github.com/spf13/cobra"
)

type auditOutput struct {
	ID        string         `yaml:"id"`
	Action    string         `yaml:"action"`
	Actor     string         `yaml:"actor"`
	Resource  string         `yaml:"resource"`
	Metadata  map[string]any `yaml:"metadata,omitempty"`
	CreatedAt string         `yaml:"created_at"`
}

func auditCmd(open opener) *cobra.Command {
	var resource string
	cmd := &cobra.Command{
		Use:   "audit <resource-id>",
		Short: "Print the audit trail of an order or product as YAML",
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

			entries, err := s.core.Audit.List(cmd.Context(), resource, args[0])
			if err != nil {
				return fmt.Errorf("audit %s %s: %w", resource, args[0], err)
			}
			out := make([]auditOutput, 0, len(entries))
			for _, e := range entries {
				out = append(out, auditOutput{
					ID:        e.ID,
					Action:    string(e.Action),
					Actor:     e.Actor,
					Resource:  e.ResourceType + "/" + e.ResourceID,
					Metadata:  e.Metadata,
					CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano),
				})
			}
			return writeYAML(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&resource, "resource", domaudit.ResourceOrder, "Resource type: order or product")
	return cmd
}
