package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/signroll/internal/config"
	"github.com/dropDatabas3/signroll/internal/observability/logger"
)

const defaultConfigPath = "configs/signroll.yaml"

type cli struct {
	configPath  string
	envFile     string
	out         string
	metricsFile string

	app *app
}

// NewRootCmd arma el árbol de comandos. Para ejecutarlo usar execute, que
// cierra los stores aunque el comando falle.
func NewRootCmd() *cobra.Command {
	root, _ := newRootCmd()
	return root
}

// execute corre la CLI con args y libera lo abierto en setup (stores,
// textfile de métricas, logger) tanto si el comando terminó bien como si no.
// Cobra no corre PersistentPostRunE cuando RunE falla.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root, c := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, c.teardown())
}

func newRootCmd() (*cobra.Command, *cli) {
	c := &cli{}

	root := &cobra.Command{
		Use:   "signroll",
		Short: "Registro de asistencia firmado (ECDSA P-256)",
		Long: `signroll registra identidades y asistencia con firmas ECDSA P-256 por
registro, y exporta reportes CSV con un bundle de firma separado
(.csv.sig.json) verificable offline con la clave pública incluida.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "Ruta a config YAML (default "+defaultConfigPath+" si existe)")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "Ruta a .env (se ignora si no existe)")
	root.PersistentFlags().StringVarP(&c.out, "output", "o", "table", "Formato de salida: table, json, yaml")
	root.PersistentFlags().StringVar(&c.metricsFile, "metrics-textfile", "", "Vuelca métricas Prometheus a este archivo al terminar")

	root.AddCommand(
		c.keysCmd(),
		c.usersCmd(),
		c.attendCmd(),
		c.exportCmd(),
		c.verifyCmd(),
		c.auditCmd(),
	)
	return root, c
}

func (c *cli) setup(cmd *cobra.Command) error {
	switch c.out {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("--output %q no soportado (table, json, yaml)", c.out)
	}
	if c.envFile != "" {
		_ = godotenv.Load(c.envFile)
	}

	path := c.configPath
	if path == "" && fileExists(defaultConfigPath) {
		path = defaultConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "signroll"})
	logger.Set(log)
	// Logger del comando: ledger y export lo toman del ctx.
	cmd.SetContext(logger.ToContext(cmd.Context(), log.With(logger.Op(cmd.CommandPath()))))

	// verify no necesita stores: sólo lee archivos.
	if cmd.Annotations[annotationOffline] == "true" {
		return nil
	}
	a, err := newApp(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	c.app = a
	return nil
}

func (c *cli) teardown() error {
	defer func() { _ = logger.Sync() }()
	if c.app == nil {
		return nil
	}
	err := c.app.Close(c.metricsFile)
	c.app = nil
	return err
}

const annotationOffline = "offline"

// print escribe v según --output. El formato table lo arma cada comando.
func (c *cli) print(w io.Writer, v any, table func(io.Writer)) error {
	switch c.out {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		out, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	default:
		table(w)
		return nil
	}
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}
