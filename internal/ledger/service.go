package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/signroll/internal/domain/repository"
	"github.com/dropDatabas3/signroll/internal/observability/logger"
)

// DefaultTimeLayout formatea accountCreatedDate y loginTime.
const DefaultTimeLayout = "2006-01-02 15:04:05"

// Options configura el Service. Los campos vacíos toman defaults.
type Options struct {
	TimeLayout string
	Location   *time.Location
	Now        func() time.Time
	NewUserID  func(now time.Time) string
	Logger     *zap.Logger
}

// Service registra identidades y asistencia. Calcula la firma (puede fallar)
// y después persiste (no depende de la firma).
type Service struct {
	users  repository.UserRepository
	signer *RecordSigner
	layout string
	loc    *time.Location
	now    func() time.Time
	newID  func(time.Time) string
	log    *zap.Logger
}

func NewService(users repository.UserRepository, signer *RecordSigner, opts Options) *Service {
	if opts.TimeLayout == "" {
		opts.TimeLayout = DefaultTimeLayout
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewUserID == nil {
		opts.NewUserID = NewUserID
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("ledger")
	}
	return &Service{
		users:  users,
		signer: signer,
		layout: opts.TimeLayout,
		loc:    opts.Location,
		now:    opts.Now,
		newID:  opts.NewUserID,
		log:    opts.Logger,
	}
}

// NewUserID genera USR_<epoch ms>_<9 caracteres aleatorios en mayúscula>.
func NewUserID(now time.Time) string {
	rnd := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "USR_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + rnd[:9]
}

// Register crea una identidad firmada. El username es único.
func (s *Service) Register(ctx context.Context, username, fullName string) (*repository.User, error) {
	username = strings.TrimSpace(username)
	fullName = strings.TrimSpace(fullName)
	if username == "" || fullName == "" {
		return nil, fmt.Errorf("username and full name are required: %w", repository.ErrInvalidInput)
	}

	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return nil, fmt.Errorf("username %q already taken: %w", username, repository.ErrConflict)
	} else if !repository.IsNotFound(err) {
		return nil, fmt.Errorf("lookup username: %w", err)
	}

	now := s.now()
	u := &repository.User{
		UserID:             s.newID(now),
		Username:           username,
		FullName:           fullName,
		AccountCreatedDate: now.In(s.loc).Format(s.layout),
		AttendanceLog:      []repository.AttendanceRecord{},
	}
	u.DigitalSignature = s.signer.SignIdentity(ctx, u)

	if err := s.users.Create(ctx, u); err != nil {
		if repository.IsConflict(err) {
			return nil, fmt.Errorf("username %q already taken: %w", username, err)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	logger.FromOr(ctx, s.log).Info("user registered",
		logger.UserID(u.UserID), logger.Username(u.Username), zap.Bool("signed", u.DigitalSignature != nil))
	return u, nil
}

// RecordSignIn agrega el registro de asistencia de una autenticación exitosa.
// La verificación de credenciales la hace el llamador.
func (s *Service) RecordSignIn(ctx context.Context, userID string) (*repository.AttendanceRecord, error) {
	return s.appendAttendance(ctx, userID, repository.AttendanceSignIn)
}

// CheckIn agrega un registro de asistencia manual.
func (s *Service) CheckIn(ctx context.Context, userID string) (*repository.AttendanceRecord, error) {
	return s.appendAttendance(ctx, userID, repository.AttendanceManual)
}

func (s *Service) appendAttendance(ctx context.Context, userID string, kind repository.AttendanceKind) (*repository.AttendanceRecord, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}

	now := s.now()
	rec := repository.AttendanceRecord{
		LoginTime: now.In(s.loc).Format(s.layout),
		Timestamp: now.UnixMilli(),
		Kind:      kind,
	}
	rec.Signature = s.signer.SignAttendance(ctx, u, rec)

	if err := s.users.AppendAttendance(ctx, userID, rec); err != nil {
		return nil, fmt.Errorf("append attendance: %w", err)
	}
	logger.FromOr(ctx, s.log).Info("attendance recorded",
		logger.UserID(userID), zap.String("kind", string(kind)), zap.Bool("signed", rec.Signature != nil))
	return &rec, nil
}

// Lookup resuelve un usuario por id o, si no existe, por username.
func (s *Service) Lookup(ctx context.Context, ref string) (*repository.User, error) {
	u, err := s.users.GetByID(ctx, ref)
	if err == nil {
		return u, nil
	}
	if !repository.IsNotFound(err) {
		return nil, err
	}
	return s.users.GetByUsername(ctx, ref)
}

// Users lista todas las identidades en orden de registro.
func (s *Service) Users(ctx context.Context) ([]*repository.User, error) {
	return s.users.List(ctx)
}
