package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/signroll/internal/domain/repository"
	"github.com/dropDatabas3/signroll/internal/keys"
	"github.com/dropDatabas3/signroll/internal/metrics"
	"github.com/dropDatabas3/signroll/internal/observability/logger"
)

const (
	// ISOLayout reproduce Date.prototype.toISOString (UTC, milisegundos).
	ISOLayout = "2006-01-02T15:04:05.000Z"
	// DefaultLocalLayout reproduce toLocaleString() en en-US.
	DefaultLocalLayout = "1/2/2006, 3:04:05 PM"

	kindExport = "export"

	// unknownExporter es lo que muestra meta cuando exportedBy era vacío.
	unknownExporter = "unknown"
)

// BundleSigner firma el cuerpo y devuelve la clave que lo verifica.
// *signing.Signer la implementa.
type BundleSigner interface {
	SignWithKey(ctx context.Context, payload []byte) (string, keys.JWK, error)
	PublicJWK(ctx context.Context) (keys.JWK, error)
}

// Meta son los metadatos del bundle.
type Meta struct {
	ExportedBy      string `json:"exportedBy"`
	ExportedAtISO   string `json:"exportedAtISO"`
	ExportedAtLocal string `json:"exportedAtLocal"`
}

// Bundle es el archivo .csv.sig.json que acompaña al cuerpo. Signature y
// PublicKey son null si la firma no estuvo disponible.
type Bundle struct {
	Meta      Meta      `json:"meta"`
	Signature *string   `json:"signature"`
	PublicKey *keys.JWK `json:"publicKey"`
}

// Export es un cuerpo CSV más su bundle, listo para entregar a un Sink.
type Export struct {
	Body     string
	Bundle   Bundle
	BaseName string
}

// JSONExport es un export autocontenido: los datos viajan dentro del bundle.
type JSONExport struct {
	Meta      Meta            `json:"meta"`
	Data      json.RawMessage `json:"data"`
	Signature *string         `json:"signature"`
	PublicKey *keys.JWK       `json:"publicKey"`
}

// Options configura un Builder.
type Options struct {
	ExportedBy  string
	LocalLayout string
	Location    *time.Location
	Now         func() time.Time
	Logger      *zap.Logger
}

// Builder arma exports firmados. La firma del cuerpo es independiente de las
// firmas por registro que el cuerpo ya contiene.
type Builder struct {
	signer      BundleSigner
	exportedBy  string
	localLayout string
	loc         *time.Location
	now         func() time.Time
	log         *zap.Logger
}

func NewBuilder(s BundleSigner, opts Options) *Builder {
	if opts.ExportedBy == "" {
		opts.ExportedBy = "admin"
	}
	if opts.LocalLayout == "" {
		opts.LocalLayout = DefaultLocalLayout
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("export")
	}
	return &Builder{
		signer:      s,
		exportedBy:  opts.ExportedBy,
		localLayout: opts.LocalLayout,
		loc:         opts.Location,
		now:         opts.Now,
		log:         opts.Logger,
	}
}

func (b *Builder) meta(now time.Time, exportedBy string) Meta {
	return Meta{
		ExportedBy:      exportedBy,
		ExportedAtISO:   now.UTC().Format(ISOLayout),
		ExportedAtLocal: now.In(b.loc).Format(b.localLayout),
	}
}

// BuildUserExport exporta el log de asistencia de u.
func (b *Builder) BuildUserExport(ctx context.Context, u *repository.User) (*Export, error) {
	if u == nil {
		return nil, errors.New("export: nil user")
	}
	return b.build(ctx, BuildCSVForUser(u), "attendance_"+u.Username)
}

// BuildAllExport exporta el log de todos los usuarios.
func (b *Builder) BuildAllExport(ctx context.Context, users []*repository.User) (*Export, error) {
	return b.build(ctx, BuildCSVForAll(users), "attendance_all")
}

func (b *Builder) build(ctx context.Context, body, prefix string) (*Export, error) {
	now := b.now()
	sig, pub := b.signBody(ctx, []byte(body))
	return &Export{
		Body: body,
		Bundle: Bundle{
			Meta:      b.meta(now, b.exportedBy),
			Signature: sig,
			PublicKey: pub,
		},
		BaseName: BaseName(prefix, now),
	}, nil
}

// signBody es fail-open: sin firma el export se entrega igual.
func (b *Builder) signBody(ctx context.Context, body []byte) (*string, *keys.JWK) {
	sig, pub, err := b.signer.SignWithKey(ctx, body)
	if err != nil {
		metrics.SignaturesTotal.WithLabelValues(kindExport, "error").Inc()
		metrics.UnsignedRecordsTotal.WithLabelValues(kindExport).Inc()
		logger.FromOr(ctx, b.log).Warn("export signing failed; delivering unsigned bundle",
			logger.RecordKind(kindExport), logger.Err(err))
		if pk, perr := b.signer.PublicJWK(ctx); perr == nil {
			return nil, &pk
		}
		return nil, nil
	}
	metrics.SignaturesTotal.WithLabelValues(kindExport, "ok").Inc()
	return &sig, &pub
}

// signedEnvelope es lo que se firma en un JSONExport; el orden de campos es
// parte del formato.
type signedEnvelope struct {
	Payload       json.RawMessage `json:"payload"`
	ExportedAtISO string          `json:"exportedAtISO"`
	ExportedBy    string          `json:"exportedBy"`
}

// BuildJSONExport firma {"payload":data,"exportedAtISO":…,"exportedBy":…} y
// embebe data en el resultado.
func (b *Builder) BuildJSONExport(ctx context.Context, data any, exportedBy string) (*JSONExport, error) {
	raw, err := marshalCompact(data)
	if err != nil {
		return nil, err
	}
	now := b.now()
	meta := b.meta(now, exportedBy)

	toSign, err := envelopeBytes(raw, meta.ExportedAtISO, exportedBy)
	if err != nil {
		return nil, err
	}
	sig, pub := b.signBody(ctx, toSign)

	if meta.ExportedBy == "" {
		meta.ExportedBy = unknownExporter
	}
	return &JSONExport{Meta: meta, Data: raw, Signature: sig, PublicKey: pub}, nil
}

func envelopeBytes(payload json.RawMessage, exportedAtISO, exportedBy string) ([]byte, error) {
	return marshalCompact(signedEnvelope{Payload: payload, ExportedAtISO: exportedAtISO, ExportedBy: exportedBy})
}

// marshalCompact serializa sin escapar <, > y & (igual que JSON.stringify).
func marshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// BaseName arma el nombre base de archivo: <prefix>_<ISO con ':' y '.' → '-'>.
func BaseName(prefix string, now time.Time) string {
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(now.UTC().Format(ISOLayout))
	safe := strings.NewReplacer("/", "_", `\`, "_", "\x00", "_").Replace(prefix)
	return safe + "_" + stamp
}
