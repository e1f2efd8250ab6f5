package ledger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/signroll/internal/domain/repository"
	"github.com/dropDatabas3/signroll/internal/metrics"
	"github.com/dropDatabas3/signroll/internal/observability/logger"
)

const (
	KindIdentity   = "identity"
	KindAttendance = "attendance"
)

var errSignTimeout = errors.New("signing timed out")

// PayloadSigner firma un payload. *signing.Signer la implementa.
type PayloadSigner interface {
	Sign(ctx context.Context, payload []byte) (string, error)
}

// RecordSigner firma registros con política fail-open: cualquier error de
// firma se registra y se devuelve nil; nunca bloquea la creación del registro.
type RecordSigner struct {
	signer  PayloadSigner
	timeout time.Duration
	log     *zap.Logger
}

// RecordSignerOptions configura un RecordSigner.
type RecordSignerOptions struct {
	// Timeout > 0 deja de esperar la firma pasado ese tiempo y devuelve nil.
	// La firma en curso termina igual en background (no se cancela a mitad).
	Timeout time.Duration
	Logger  *zap.Logger
}

func NewRecordSigner(s PayloadSigner, opts RecordSignerOptions) *RecordSigner {
	if opts.Logger == nil {
		opts.Logger = logger.Named("ledger")
	}
	return &RecordSigner{signer: s, timeout: opts.Timeout, log: opts.Logger}
}

// SignIdentity firma los campos estables de u. nil si la firma falló.
func (r *RecordSigner) SignIdentity(ctx context.Context, u *repository.User) *string {
	return r.sign(ctx, KindIdentity, IdentityPayload(u), u)
}

// SignAttendance firma rec en el contexto de u. nil si la firma falló.
func (r *RecordSigner) SignAttendance(ctx context.Context, u *repository.User, rec repository.AttendanceRecord) *string {
	return r.sign(ctx, KindAttendance, AttendancePayload(u, rec), u)
}

func (r *RecordSigner) sign(ctx context.Context, kind, payload string, u *repository.User) *string {
	sig, err := r.signBounded(ctx, []byte(payload))
	if err != nil {
		metrics.SignaturesTotal.WithLabelValues(kind, "error").Inc()
		metrics.UnsignedRecordsTotal.WithLabelValues(kind).Inc()
		logger.FromOr(ctx, r.log).Warn("record signing failed; storing unsigned",
			logger.RecordKind(kind), logger.UserID(u.UserID), logger.Err(err))
		return nil
	}
	metrics.SignaturesTotal.WithLabelValues(kind, "ok").Inc()
	return &sig
}

type signResult struct {
	sig string
	err error
}

func (r *RecordSigner) signBounded(ctx context.Context, payload []byte) (string, error) {
	if r.timeout <= 0 {
		return r.signer.Sign(ctx, payload)
	}

	done := make(chan signResult, 1)
	go func() {
		sig, err := r.signer.Sign(context.WithoutCancel(ctx), payload)
		done <- signResult{sig: sig, err: err}
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	select {
	case res := <-done:
		return res.sig, res.err
	case <-timer.C:
		return "", errSignTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
