package ledger_test

import (
	"context"
	"errors"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dropDatabas3/signroll/internal/domain/repository"
	"github.com/dropDatabas3/signroll/internal/keys"
	"github.com/dropDatabas3/signroll/internal/ledger"
	"github.com/dropDatabas3/signroll/internal/metrics"
	"github.com/dropDatabas3/signroll/internal/observability/logger"
	"github.com/dropDatabas3/signroll/internal/signing"
	"github.com/dropDatabas3/signroll/internal/store/adapters/memory"
)

var jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// flakySigner delega en un Signer real salvo cuando fail está activo.
type flakySigner struct {
	inner ledger.PayloadSigner
	fail  atomic.Bool
}

func (f *flakySigner) Sign(ctx context.Context, payload []byte) (string, error) {
	if f.fail.Load() {
		return "", &signing.SigningError{Err: errors.New("provider unavailable")}
	}
	return f.inner.Sign(ctx, payload)
}

type fixture struct {
	svc    *ledger.Service
	users  *memory.UserRepo
	ks     *keys.KeyStore
	signer *flakySigner
	logs   *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.WarnLevel)
	log := zap.New(core)

	ks := keys.NewKeyStore(memory.NewKeyRepo(), keys.Options{Logger: zap.NewNop()})
	fs := &flakySigner{inner: signing.NewSigner(ks)}
	users := memory.NewUserRepo()

	var n atomic.Int32
	svc := ledger.NewService(users, ledger.NewRecordSigner(fs, ledger.RecordSignerOptions{Logger: log}), ledger.Options{
		Location: time.UTC,
		Now:      func() time.Time { return jan1 },
		NewUserID: func(time.Time) string {
			return "USR_" + string(rune('0'+n.Add(1)))
		},
		Logger: zap.NewNop(),
	})
	return &fixture{svc: svc, users: users, ks: ks, signer: fs, logs: logs}
}

func TestIdentityPayload_AliceScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	u, err := f.svc.Register(ctx, "alice", "Alice A")
	require.NoError(t, err)
	require.Equal(t, "USR_1", u.UserID)
	require.Equal(t, "2024-01-01 00:00:00", u.AccountCreatedDate)
	require.Equal(t, "USER|USR_1|alice|Alice A|2024-01-01 00:00:00", ledger.IdentityPayload(u))
	require.NotNil(t, u.DigitalSignature)

	pub, err := f.ks.PublicJWK(ctx)
	require.NoError(t, err)
	ok, err := signing.Verify([]byte("USER|USR_1|alice|Alice A|2024-01-01 00:00:00"), *u.DigitalSignature, pub)
	require.NoError(t, err)
	require.True(t, ok)

	stored, err := f.users.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, *u.DigitalSignature, *stored.DigitalSignature)
}

func TestAttendancePayload_Format(t *testing.T) {
	u := &repository.User{UserID: "USR_1", Username: "alice"}
	rec := repository.AttendanceRecord{LoginTime: "2024-01-02 09:00:00", Timestamp: 1704186000000}

	want := "ATTEND|USR_1|alice|2024-01-02 09:00:00|1704186000000"
	require.Equal(t, want, ledger.AttendancePayload(u, rec))
	// Estable: sin contenido no determinista.
	require.Equal(t, ledger.AttendancePayload(u, rec), ledger.AttendancePayload(u, rec))

	rec.Signature = new(string)
	rec.Kind = repository.AttendanceManual
	require.Equal(t, want, ledger.AttendancePayload(u, rec), "signature and kind are not part of the payload")
}

func TestCheckIn_SignsEachRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u, err := f.svc.Register(ctx, "alice", "Alice A")
	require.NoError(t, err)

	signin, err := f.svc.RecordSignIn(ctx, u.UserID)
	require.NoError(t, err)
	manual, err := f.svc.CheckIn(ctx, u.UserID)
	require.NoError(t, err)
	require.Equal(t, repository.AttendanceSignIn, signin.Kind)
	require.Equal(t, repository.AttendanceManual, manual.Kind)
	require.Equal(t, jan1.UnixMilli(), signin.Timestamp)

	pub, err := f.ks.PublicJWK(ctx)
	require.NoError(t, err)
	for _, rec := range []*repository.AttendanceRecord{signin, manual} {
		require.NotNil(t, rec.Signature)
		ok, err := signing.Verify([]byte(ledger.AttendancePayload(u, *rec)), *rec.Signature, pub)
		require.NoError(t, err)
		require.True(t, ok)
	}

	stored, err := f.users.GetByID(ctx, u.UserID)
	require.NoError(t, err)
	require.Len(t, stored.AttendanceLog, 2)
	require.Equal(t, "2024-01-01 00:00:00", *stored.LastLogin)
}

func TestSignAttendance_FailOpen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u, err := f.svc.Register(ctx, "alice", "Alice A")
	require.NoError(t, err)

	before := testutil.ToFloat64(metrics.UnsignedRecordsTotal.WithLabelValues(ledger.KindAttendance))
	f.signer.fail.Store(true)

	rec, err := f.svc.CheckIn(ctx, u.UserID)
	require.NoError(t, err, "a signing outage must not block attendance")
	require.Nil(t, rec.Signature)

	stored, err := f.users.GetByID(ctx, u.UserID)
	require.NoError(t, err)
	require.Len(t, stored.AttendanceLog, 1)
	require.Nil(t, stored.AttendanceLog[0].Signature)

	require.Equal(t, before+1, testutil.ToFloat64(metrics.UnsignedRecordsTotal.WithLabelValues(ledger.KindAttendance)))
	warns := f.logs.FilterMessage("record signing failed; storing unsigned").All()
	require.Len(t, warns, 1)
	require.Equal(t, ledger.KindAttendance, warns[0].ContextMap()["record_kind"])
}

func TestRegister_FailOpenIdentity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.signer.fail.Store(true)

	u, err := f.svc.Register(ctx, "bob", "Bob B")
	require.NoError(t, err)
	require.Nil(t, u.DigitalSignature)

	_, err = f.users.GetByUsername(ctx, "bob")
	require.NoError(t, err)
}

func TestService_LogsToContextLogger(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zapcore.InfoLevel)
	ctx := logger.ToContext(context.Background(), zap.New(core).With(logger.Op("users register")))

	u, err := f.svc.Register(ctx, "carol", "Carol C")
	require.NoError(t, err)
	f.signer.fail.Store(true)
	_, err = f.svc.CheckIn(ctx, u.UserID)
	require.NoError(t, err)

	for _, msg := range []string{"user registered", "attendance recorded", "record signing failed; storing unsigned"} {
		entries := logs.FilterMessage(msg).All()
		require.Len(t, entries, 1, msg)
		require.Equal(t, "users register", entries[0].ContextMap()["op"])
	}
	require.Zero(t, f.logs.Len(), "the injected logger is only a fallback")
}

type slowSigner struct{ release chan struct{} }

func (s slowSigner) Sign(ctx context.Context, payload []byte) (string, error) {
	<-s.release
	return "late", nil
}

func TestRecordSigner_TimeoutYieldsUnsigned(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	rs := ledger.NewRecordSigner(slowSigner{release: release}, ledger.RecordSignerOptions{
		Timeout: 20 * time.Millisecond,
		Logger:  zap.NewNop(),
	})
	sig := rs.SignAttendance(context.Background(), &repository.User{UserID: "USR_1"}, repository.AttendanceRecord{})
	require.Nil(t, sig)
}

func TestRegister_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Register(ctx, "  ", "Alice A")
	require.ErrorIs(t, err, repository.ErrInvalidInput)

	_, err = f.svc.Register(ctx, "alice", "Alice A")
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, "alice", "Other")
	require.ErrorIs(t, err, repository.ErrConflict)

	_, err = f.svc.CheckIn(ctx, "USR_404")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestNewUserID_Format(t *testing.T) {
	id := ledger.NewUserID(jan1)
	require.Regexp(t, regexp.MustCompile(`^USR_1704067200000_[0-9A-F]{9}$`), id)
	require.NotEqual(t, id, ledger.NewUserID(jan1))
}

func TestLookup_ByIDOrUsername(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u, err := f.svc.Register(ctx, "alice", "Alice A")
	require.NoError(t, err)

	byID, err := f.svc.Lookup(ctx, u.UserID)
	require.NoError(t, err)
	byName, err := f.svc.Lookup(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, byID.UserID, byName.UserID)
}

func TestAudit_ReportsDegradedRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	u, err := f.svc.Register(ctx, "alice", "Alice A")
	require.NoError(t, err)
	_, err = f.svc.RecordSignIn(ctx, u.UserID)
	require.NoError(t, err)

	f.signer.fail.Store(true)
	_, err = f.svc.CheckIn(ctx, u.UserID)
	require.NoError(t, err)
	f.signer.fail.Store(false)

	// Registro con firma ajena: el payload no coincide.
	forged := *u.DigitalSignature
	require.NoError(t, f.users.Create(ctx, &repository.User{
		UserID: "USR_X", Username: "mallory", FullName: "M", AccountCreatedDate: "2024-01-01 00:00:00",
		DigitalSignature: &forged,
	}))

	// Una rotación no invalida lo firmado antes.
	_, err = f.ks.Rotate(ctx)
	require.NoError(t, err)

	rep, err := f.svc.Audit(ctx, f.ks)
	require.NoError(t, err)
	require.Equal(t, 2, rep.Users)
	require.Equal(t, 4, rep.Records)
	require.Equal(t, 2, rep.Signed)
	require.Equal(t, 1, rep.Unsigned)
	require.Equal(t, 1, rep.Invalid)
	require.False(t, rep.Clean())
	require.ElementsMatch(t, []ledger.Finding{
		{UserID: u.UserID, Username: "alice", Kind: ledger.KindAttendance, Index: 1, Problem: ledger.ProblemUnsigned},
		{UserID: "USR_X", Username: "mallory", Kind: ledger.KindIdentity, Index: -1, Problem: ledger.ProblemInvalid},
	}, rep.Findings)
}
