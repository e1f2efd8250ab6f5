package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/signroll/internal/keys"
)

type keyView struct {
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"createdAt"`
	PublicKey   keys.JWK  `json:"publicKey"`
	Retired     int       `json:"retired,omitempty"`
	Previous    string    `json:"previous,omitempty"`
}

func (c *cli) keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Gestión del par de firma ECDSA P-256",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Crea el par de firma si no existe (idempotente)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := c.app.keys.GetOrCreateKeyPair(cmd.Context())
			if err != nil {
				return fmt.Errorf("init keys: %w", err)
			}
			v := keyView{Fingerprint: kp.Fingerprint, CreatedAt: kp.CreatedAt, PublicKey: kp.PublicJWK}
			return c.print(cmd.OutOrStdout(), v, func(w io.Writer) {
				fmt.Fprintf(w, "key ready: %s (created %s)\n", kp.Fingerprint, kp.CreatedAt.Format(time.RFC3339))
			})
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Muestra la clave pública activa y cuántas hay retiradas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			kp, err := c.app.keys.GetOrCreateKeyPair(ctx)
			if err != nil {
				return fmt.Errorf("load keys: %w", err)
			}
			vks, err := c.app.keys.VerificationKeys(ctx)
			if err != nil {
				return fmt.Errorf("load keys: %w", err)
			}
			v := keyView{
				Fingerprint: kp.Fingerprint,
				CreatedAt:   kp.CreatedAt,
				PublicKey:   kp.PublicJWK,
				Retired:     len(vks) - 1,
			}
			return c.print(cmd.OutOrStdout(), v, func(w io.Writer) {
				fmt.Fprintf(w, "fingerprint: %s\ncreated:     %s\nretired:     %d\n%s\n",
					kp.Fingerprint, kp.CreatedAt.Format(time.RFC3339), v.Retired, keys.DescribePublic(kp.PublicJWK))
			})
		},
	}

	rotateCmd := &cobra.Command{
		Use:   "rotate",
		Short: "Genera un par nuevo; la pública anterior queda retirada para verificar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var prev string
			if old, err := c.app.stores.Keys().Load(ctx); err == nil && old.HasPublic() {
				if j, perr := keys.ParseJWK(old.PublicJWK); perr == nil {
					prev = keys.Thumbprint(j)
				}
			}
			kp, err := c.app.keys.Rotate(ctx)
			if err != nil {
				return fmt.Errorf("rotate keys: %w", err)
			}
			v := keyView{Fingerprint: kp.Fingerprint, CreatedAt: kp.CreatedAt, PublicKey: kp.PublicJWK, Previous: prev}
			return c.print(cmd.OutOrStdout(), v, func(w io.Writer) {
				if prev == "" {
					prev = "(none)"
				}
				fmt.Fprintf(w, "rotated: %s -> %s\n", prev, kp.Fingerprint)
			})
		},
	}

	cmd.AddCommand(initCmd, showCmd, rotateCmd)
	return cmd
}
