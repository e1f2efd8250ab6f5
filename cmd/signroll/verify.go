package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/signroll/internal/export"
	"github.com/dropDatabas3/signroll/internal/keys"
)

type verifyView struct {
	Valid       bool   `json:"valid"`
	Fingerprint string `json:"fingerprint,omitempty"`
	ExportedBy  string `json:"exportedBy,omitempty"`
	ExportedAt  string `json:"exportedAt,omitempty"`
}

// verifyCmd funciona offline: sólo necesita los archivos del export.
func (c *cli) verifyCmd() *cobra.Command {
	var bodyPath, bundlePath, jsonPath, exportedBy string
	cmd := &cobra.Command{
		Use:         "verify",
		Short:       "Verifica un export con la clave pública que trae su bundle",
		Annotations: map[string]string{annotationOffline: "true"},
		Args:        cobra.NoArgs,
		Example: `  signroll verify --body attendance_USR_1_2024-01-01T00-00-00-000Z.csv
  signroll verify --body a.csv --bundle a.csv.sig.json
  signroll verify --json attendance_data_2024-01-01T00-00-00-000Z.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				v   verifyView
				err error
			)
			switch {
			case jsonPath != "":
				v, err = verifyJSON(jsonPath, exportedBy, cmd.Flags().Changed("exported-by"))
			case bodyPath != "":
				if bundlePath == "" {
					bundlePath = strings.TrimSuffix(bodyPath, ".csv") + ".csv.sig.json"
				}
				v, err = verifyCSV(bodyPath, bundlePath)
			default:
				return fmt.Errorf("indicar --body (y opcionalmente --bundle) o --json")
			}
			if err != nil {
				return err
			}
			if perr := c.print(cmd.OutOrStdout(), v, func(w io.Writer) {
				if v.Valid {
					fmt.Fprintf(w, "valid: signed by %s (exported by %s at %s)\n", v.Fingerprint, v.ExportedBy, v.ExportedAt)
				} else {
					fmt.Fprintln(w, "INVALID: signature does not match content")
				}
			}); perr != nil {
				return perr
			}
			if !v.Valid {
				return fmt.Errorf("verificación fallida")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&bodyPath, "body", "", "CSV exportado")
	cmd.Flags().StringVar(&bundlePath, "bundle", "", "Bundle .csv.sig.json (default <body>.sig.json)")
	cmd.Flags().StringVar(&jsonPath, "json", "", "Export JSON autocontenido")
	cmd.Flags().StringVar(&exportedBy, "exported-by", "", "exportedBy con el que se armó el export JSON (default el de meta)")
	return cmd
}

func verifyCSV(bodyPath, bundlePath string) (verifyView, error) {
	body, err := os.ReadFile(bodyPath)
	if err != nil {
		return verifyView{}, fmt.Errorf("read body: %w", err)
	}
	raw, err := os.ReadFile(bundlePath)
	if err != nil {
		return verifyView{}, fmt.Errorf("read bundle: %w", err)
	}
	b, err := export.ParseBundle(raw)
	if err != nil {
		return verifyView{}, err
	}
	ok, err := export.VerifyBundle(body, b)
	if err != nil {
		return verifyView{}, fmt.Errorf("verify: %w", err)
	}
	v := verifyView{Valid: ok, ExportedBy: b.Meta.ExportedBy, ExportedAt: b.Meta.ExportedAtISO}
	if b.PublicKey != nil {
		v.Fingerprint = keys.Thumbprint(*b.PublicKey)
	}
	return v, nil
}

func verifyJSON(path, exportedBy string, explicit bool) (verifyView, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return verifyView{}, fmt.Errorf("read export: %w", err)
	}
	e, err := export.ParseJSONExport(raw)
	if err != nil {
		return verifyView{}, err
	}
	var ok bool
	if explicit {
		ok, err = export.VerifyJSONExport(e, exportedBy)
	} else {
		ok, err = export.VerifyJSONExportFromMeta(e)
	}
	if err != nil {
		return verifyView{}, fmt.Errorf("verify: %w", err)
	}
	v := verifyView{Valid: ok, ExportedBy: e.Meta.ExportedBy, ExportedAt: e.Meta.ExportedAtISO}
	if e.PublicKey != nil {
		v.Fingerprint = keys.Thumbprint(*e.PublicKey)
	}
	return v, nil
}
