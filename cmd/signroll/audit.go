package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func (c *cli) auditCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Verifica todas las firmas almacenadas contra la clave activa y las retiradas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := c.app.ledger.Audit(cmd.Context(), c.app.keys)
			if err != nil {
				return fmt.Errorf("audit: %w", err)
			}
			if err := c.print(cmd.OutOrStdout(), rep, func(w io.Writer) {
				fmt.Fprintf(w, "users=%d records=%d signed=%d unsigned=%d invalid=%d\n",
					rep.Users, rep.Records, rep.Signed, rep.Unsigned, rep.Invalid)
				for _, f := range rep.Findings {
					fmt.Fprintf(w, "  %s %s %s[%d]: %s\n", f.UserID, f.Username, f.Kind, f.Index, f.Problem)
				}
			}); err != nil {
				return err
			}
			if strict && !rep.Clean() {
				return fmt.Errorf("audit: %d sin firma, %d inválidas", rep.Unsigned, rep.Invalid)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Sale con error si hay registros sin firma o inválidos")
	return cmd
}
