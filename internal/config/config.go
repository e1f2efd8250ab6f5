package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/signroll/internal/store"
	"github.com/dropDatabas3/signroll/internal/validation"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Log struct {
		// debug | info | warn | error
		Level string `yaml:"level"`
	} `yaml:"log"`

	// Storage guarda usuarios y asistencia.
	Storage struct {
		Driver   string `yaml:"driver"` // memory | fs | postgres
		DSN      string `yaml:"dsn"`
		FSRoot   string `yaml:"fs_root"`
		Postgres struct {
			MaxOpenConns int `yaml:"max_open_conns"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	// Keys guarda los slots de la clave de firma. Puede ser otro backend.
	Keys struct {
		Driver      string `yaml:"driver"` // memory | fs | postgres | redis
		DSN         string `yaml:"dsn"`
		Dir         string `yaml:"dir"`
		CacheTTL    string `yaml:"cache_ttl"`
		MasterKey   string `yaml:"master_key"`
		SignTimeout string `yaml:"sign_timeout"`
	} `yaml:"keys"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`

	Export struct {
		Dir         string `yaml:"dir"`
		ExportedBy  string `yaml:"exported_by"`
		LocalLayout string `yaml:"local_layout"`
		Timezone    string `yaml:"timezone"`
	} `yaml:"export"`

	Records struct {
		TimeLayout string `yaml:"time_layout"`
		Timezone   string `yaml:"timezone"`
	} `yaml:"records"`
}

// Load lee el YAML en path (vacío = sólo defaults), aplica defaults y
// variables de entorno. No valida: llamar Validate.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	c.applyEnvOverrides()
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "fs"
	}
	if c.Storage.FSRoot == "" {
		c.Storage.FSRoot = "data"
	}
	if c.Keys.Driver == "" {
		c.Keys.Driver = c.Storage.Driver
	}
	if c.Keys.Dir == "" {
		c.Keys.Dir = c.Storage.FSRoot
	}
	if c.Keys.DSN == "" && c.Keys.Driver == "postgres" {
		c.Keys.DSN = c.Storage.DSN
	}
	if c.Keys.CacheTTL == "" {
		c.Keys.CacheTTL = "30s"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "signroll"
	}
	if c.Export.Dir == "" {
		c.Export.Dir = "exports"
	}
	if c.Export.ExportedBy == "" {
		c.Export.ExportedBy = "admin"
	}
	if c.Export.LocalLayout == "" {
		c.Export.LocalLayout = "1/2/2006, 3:04:05 PM"
	}
	if c.Records.TimeLayout == "" {
		c.Records.TimeLayout = "2006-01-02 15:04:05"
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvStr("STORAGE_FS_ROOT"); ok {
		c.Storage.FSRoot = v
	}
	if v, ok := getEnvInt("STORAGE_MAX_OPEN_CONNS"); ok {
		c.Storage.Postgres.MaxOpenConns = v
	}

	// KEYS
	if v, ok := getEnvStr("KEYS_DRIVER"); ok {
		c.Keys.Driver = v
	}
	if v, ok := getEnvStr("KEYS_DSN"); ok {
		c.Keys.DSN = v
	}
	if v, ok := getEnvStr("KEYS_DIR"); ok {
		c.Keys.Dir = v
	}
	if v, ok := getEnvStr("KEYS_CACHE_TTL"); ok {
		c.Keys.CacheTTL = v
	}
	if v, ok := getEnvStr("KEYS_SIGN_TIMEOUT"); ok {
		c.Keys.SignTimeout = v
	}
	if v, ok := getEnvStr("SIGNING_MASTER_KEY"); ok {
		c.Keys.MasterKey = v
	}

	// REDIS
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Redis.Prefix = v
	}

	// EXPORT / RECORDS
	if v, ok := getEnvStr("EXPORT_DIR"); ok {
		c.Export.Dir = v
	}
	if v, ok := getEnvStr("EXPORT_EXPORTED_BY"); ok {
		c.Export.ExportedBy = v
	}
	if v, ok := getEnvStr("EXPORT_LOCAL_LAYOUT"); ok {
		c.Export.LocalLayout = v
	}
	if v, ok := getEnvStr("EXPORT_TIMEZONE"); ok {
		c.Export.Timezone = v
	}
	if v, ok := getEnvStr("RECORDS_TIME_LAYOUT"); ok {
		c.Records.TimeLayout = v
	}
	if v, ok := getEnvStr("RECORDS_TIMEZONE"); ok {
		c.Records.Timezone = v
	}
}

var (
	recordDrivers = map[string]bool{"memory": true, "fs": true, "postgres": true}
	keyDrivers    = map[string]bool{"memory": true, "fs": true, "postgres": true, "redis": true}
)

// Validate revisa valores críticos. Devuelve todos los problemas juntos.
func (c *Config) Validate() error {
	var errs []error
	if !recordDrivers[c.Storage.Driver] {
		errs = append(errs, fmt.Errorf("storage.driver %q not supported (memory|fs|postgres)", c.Storage.Driver))
	}
	if !keyDrivers[c.Keys.Driver] {
		errs = append(errs, fmt.Errorf("keys.driver %q not supported (memory|fs|postgres|redis)", c.Keys.Driver))
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		errs = append(errs, errors.New("storage.dsn is required for postgres"))
	}
	if c.Keys.Driver == "postgres" && c.Keys.DSN == "" {
		errs = append(errs, errors.New("keys.dsn is required for postgres"))
	}
	if c.Keys.Driver == "redis" && !validation.ValidKeyPrefix(c.Redis.Prefix) {
		errs = append(errs, fmt.Errorf("redis.prefix %q is not a valid key prefix", c.Redis.Prefix))
	}
	if _, err := c.CacheTTL(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.SignTimeout(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ExportLocation(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.RecordsLocation(); err != nil {
		errs = append(errs, err)
	}
	if c.App.Env == "prod" && c.Keys.MasterKey == "" {
		errs = append(errs, errors.New("SIGNING_MASTER_KEY is required in prod"))
	}
	return errors.Join(errs...)
}

// CacheTTL parsea keys.cache_ttl. "0" o negativo desactiva la cache.
func (c *Config) CacheTTL() (time.Duration, error) {
	d, err := time.ParseDuration(c.Keys.CacheTTL)
	if err != nil {
		return 0, fmt.Errorf("keys.cache_ttl: %w", err)
	}
	if d == 0 {
		d = -1
	}
	return d, nil
}

// SignTimeout parsea keys.sign_timeout (vacío = sin timeout).
func (c *Config) SignTimeout() (time.Duration, error) {
	if c.Keys.SignTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Keys.SignTimeout)
	if err != nil {
		return 0, fmt.Errorf("keys.sign_timeout: %w", err)
	}
	return d, nil
}

func loadLocation(field, name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return loc, nil
}

// ExportLocation resuelve export.timezone (vacío = hora local).
func (c *Config) ExportLocation() (*time.Location, error) {
	return loadLocation("export.timezone", c.Export.Timezone)
}

// RecordsLocation resuelve records.timezone (vacío = hora local).
func (c *Config) RecordsLocation() (*time.Location, error) {
	return loadLocation("records.timezone", c.Records.Timezone)
}

// RecordsStore arma la config del adapter de registros.
func (c *Config) RecordsStore() store.AdapterConfig {
	return store.AdapterConfig{
		Name:         c.Storage.Driver,
		DSN:          c.Storage.DSN,
		FSRoot:       c.Storage.FSRoot,
		MaxOpenConns: c.Storage.Postgres.MaxOpenConns,
	}
}

// KeysStore arma la config del adapter de slots de clave. Si apunta al
// mismo backend que los registros devuelve la misma config, y OpenStores
// comparte la conexión.
func (c *Config) KeysStore() store.AdapterConfig {
	switch c.Keys.Driver {
	case "memory":
		if c.Storage.Driver == "memory" {
			return c.RecordsStore()
		}
	case "fs":
		if c.Storage.Driver == "fs" && c.Keys.Dir == c.Storage.FSRoot {
			return c.RecordsStore()
		}
		return store.AdapterConfig{Name: "fs", FSRoot: c.Keys.Dir}
	case "postgres":
		if c.Storage.Driver == "postgres" && c.Keys.DSN == c.Storage.DSN {
			return c.RecordsStore()
		}
		return store.AdapterConfig{Name: "postgres", DSN: c.Keys.DSN, MaxOpenConns: c.Storage.Postgres.MaxOpenConns}
	case "redis":
		return store.AdapterConfig{
			Name:     "redis",
			DSN:      c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Prefix:   c.Redis.Prefix,
		}
	}
	return store.AdapterConfig{Name: c.Keys.Driver}
}
