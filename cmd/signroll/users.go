package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/signroll/internal/domain/repository"
	"github.com/dropDatabas3/signroll/internal/ledger"
)

func (c *cli) usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Registro y consulta de identidades",
	}

	var username, fullName string
	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Registra una identidad nueva y firma sus campos estables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := c.app.ledger.Register(cmd.Context(), username, fullName)
			if err != nil {
				if errors.Is(err, repository.ErrConflict) {
					return fmt.Errorf("username %q ya existe", username)
				}
				return fmt.Errorf("register: %w", err)
			}
			return c.print(cmd.OutOrStdout(), u, func(w io.Writer) {
				fmt.Fprintf(w, "registered %s (%s) signed=%t\n", u.UserID, u.Username, u.DigitalSignature != nil)
			})
		},
	}
	registerCmd.Flags().StringVar(&username, "username", "", "Username (único)")
	registerCmd.Flags().StringVar(&fullName, "full-name", "", "Nombre completo")
	_ = registerCmd.MarkFlagRequired("username")
	_ = registerCmd.MarkFlagRequired("full-name")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Lista los usuarios en orden de registro",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := c.app.ledger.Users(cmd.Context())
			if err != nil {
				return fmt.Errorf("list users: %w", err)
			}
			return c.printUsers(cmd.OutOrStdout(), users)
		},
	}

	searchCmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Busca usuarios por id, username, nombre, firma o fecha de asistencia",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := c.app.ledger.Search(cmd.Context(), args[0])
			if err != nil {
				if errors.Is(err, ledger.ErrEmptyQuery) {
					return errors.New("término de búsqueda vacío")
				}
				return fmt.Errorf("search users: %w", err)
			}
			return c.printUsers(cmd.OutOrStdout(), users)
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <user-id|username>",
		Short: "Muestra una identidad con su log de asistencia",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := c.lookup(cmd, args[0])
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), u, func(w io.Writer) {
				fmt.Fprintf(w, "%s  %s  %s\ncreated: %s\n", u.UserID, u.Username, u.FullName, u.AccountCreatedDate)
				if u.LastLogin != nil {
					fmt.Fprintf(w, "last login: %s\n", *u.LastLogin)
				}
				for i, r := range u.AttendanceLog {
					fmt.Fprintf(w, "  %3d  %s  %-6s  signed=%t\n", i, r.LoginTime, r.Kind, r.Signature != nil)
				}
			})
		},
	}

	cmd.AddCommand(registerCmd, listCmd, searchCmd, showCmd)
	return cmd
}

func (c *cli) printUsers(w io.Writer, users []*repository.User) error {
	return c.print(w, users, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "USER ID\tUSERNAME\tFULL NAME\tCREATED\tRECORDS\tSIGNED")
		for _, u := range users {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%t\n",
				u.UserID, u.Username, u.FullName, u.AccountCreatedDate, len(u.AttendanceLog), u.DigitalSignature != nil)
		}
		_ = tw.Flush()
	})
}

func (c *cli) lookup(cmd *cobra.Command, ref string) (*repository.User, error) {
	u, err := c.app.ledger.Lookup(cmd.Context(), ref)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("usuario %q no encontrado", ref)
		}
		return nil, fmt.Errorf("lookup: %w", err)
	}
	return u, nil
}
