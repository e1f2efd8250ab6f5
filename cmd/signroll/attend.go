package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/signroll/internal/domain/repository"
)

func (c *cli) attendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attend",
		Short: "Agrega registros de asistencia firmados",
	}

	type appendFn func(*cli, *cobra.Command, string) (*repository.AttendanceRecord, error)
	mk := func(use, short string, fn appendFn) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <user-id|username>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				u, err := c.lookup(cmd, args[0])
				if err != nil {
					return err
				}
				rec, err := fn(c, cmd, u.UserID)
				if err != nil {
					return fmt.Errorf("%s: %w", use, err)
				}
				return c.print(cmd.OutOrStdout(), rec, func(w io.Writer) {
					fmt.Fprintf(w, "%s %s at %s signed=%t\n", rec.Kind, u.Username, rec.LoginTime, rec.Signature != nil)
				})
			},
		}
	}

	// La autenticación ocurre fuera de signroll; signin registra su resultado.
	signinCmd := mk("signin", "Registra una autenticación exitosa", func(c *cli, cmd *cobra.Command, id string) (*repository.AttendanceRecord, error) {
		return c.app.ledger.RecordSignIn(cmd.Context(), id)
	})
	checkinCmd := mk("checkin", "Registra un check-in manual", func(c *cli, cmd *cobra.Command, id string) (*repository.AttendanceRecord, error) {
		return c.app.ledger.CheckIn(cmd.Context(), id)
	})

	cmd.AddCommand(signinCmd, checkinCmd)
	return cmd
}
