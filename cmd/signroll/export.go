package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/signroll/internal/export"
)

type exportView struct {
	CSV        string `json:"csv,omitempty"`
	Bundle     string `json:"bundle,omitempty"`
	JSON       string `json:"json,omitempty"`
	Signed     bool   `json:"signed"`
	Records    int    `json:"records"`
	BaseName   string `json:"baseName"`
	ExportedBy string `json:"exportedBy"`
}

func (c *cli) exportCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Exporta asistencia como CSV + bundle de firma separado",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "Directorio de salida (default export.dir)")

	sink := func() export.DirSink {
		if dir != "" {
			return export.DirSink{Dir: dir}
		}
		return c.app.sink
	}

	deliver := func(cmd *cobra.Command, e *export.Export, records int) error {
		s := sink()
		if err := s.Deliver(cmd.Context(), e); err != nil {
			return fmt.Errorf("deliver export: %w", err)
		}
		csvPath, bundlePath := s.Paths(e)
		v := exportView{
			CSV:        csvPath,
			Bundle:     bundlePath,
			Signed:     e.Bundle.Signature != nil,
			Records:    records,
			BaseName:   e.BaseName,
			ExportedBy: e.Bundle.Meta.ExportedBy,
		}
		return c.print(cmd.OutOrStdout(), v, func(w io.Writer) {
			fmt.Fprintf(w, "wrote %s\nwrote %s\n", csvPath, bundlePath)
			if !v.Signed {
				fmt.Fprintln(w, "warning: export is unsigned (signing failed)")
			}
		})
	}

	userCmd := &cobra.Command{
		Use:   "user <user-id|username>",
		Short: "Exporta el log de un usuario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := c.lookup(cmd, args[0])
			if err != nil {
				return err
			}
			e, err := c.app.exporter.BuildUserExport(cmd.Context(), u)
			if err != nil {
				return fmt.Errorf("build export: %w", err)
			}
			return deliver(cmd, e, len(u.AttendanceLog))
		},
	}

	allCmd := &cobra.Command{
		Use:   "all",
		Short: "Exporta el log de todos los usuarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := c.app.ledger.Users(cmd.Context())
			if err != nil {
				return fmt.Errorf("list users: %w", err)
			}
			e, err := c.app.exporter.BuildAllExport(cmd.Context(), users)
			if err != nil {
				return fmt.Errorf("build export: %w", err)
			}
			n := 0
			for _, u := range users {
				n += len(u.AttendanceLog)
			}
			return deliver(cmd, e, n)
		},
	}

	var exportedBy string
	jsonCmd := &cobra.Command{
		Use:   "json",
		Short: "Exporta todos los usuarios como JSON autocontenido y firmado",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			users, err := c.app.ledger.Users(ctx)
			if err != nil {
				return fmt.Errorf("list users: %w", err)
			}
			by := exportedBy
			if !cmd.Flags().Changed("exported-by") {
				by = c.app.cfg.Export.ExportedBy
			}
			e, err := c.app.exporter.BuildJSONExport(ctx, users, by)
			if err != nil {
				return fmt.Errorf("build export: %w", err)
			}
			at, err := time.Parse(export.ISOLayout, e.Meta.ExportedAtISO)
			if err != nil {
				return fmt.Errorf("build export: %w", err)
			}
			name := export.BaseName("attendance_data", at)
			path, err := sink().DeliverJSON(ctx, name, e)
			if err != nil {
				return fmt.Errorf("deliver export: %w", err)
			}
			v := exportView{JSON: path, Signed: e.Signature != nil, Records: len(users), BaseName: name, ExportedBy: e.Meta.ExportedBy}
			return c.print(cmd.OutOrStdout(), v, func(w io.Writer) {
				fmt.Fprintf(w, "wrote %s\n", path)
				if !v.Signed {
					fmt.Fprintln(w, "warning: export is unsigned (signing failed)")
				}
			})
		},
	}
	jsonCmd.Flags().StringVar(&exportedBy, "exported-by", "", "Autor del export (default export.exported_by)")

	cmd.AddCommand(userCmd, allCmd, jsonCmd)
	return cmd
}
