package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dropDatabas3/signroll/internal/domain/repository"
	"github.com/dropDatabas3/signroll/internal/util/atomicwrite"
)

// userRepo guarda todos los usuarios en un único users.json (array, orden de
// registro). Cada escritura reescribe el archivo de forma atómica bajo
// .users.lock, así dos procesos no se pisan los registros.
type userRepo struct {
	path string
	lock *fileLock
}

func newUserRepo(root string) *userRepo {
	return &userRepo{
		path: filepath.Join(root, "users.json"),
		lock: newFileLock(filepath.Join(root, ".users.lock")),
	}
}

func (r *userRepo) load() ([]*repository.User, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var users []*repository.User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("parse users: %w", err)
	}
	return users, nil
}

func (r *userRepo) save(users []*repository.User) error {
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return fmt.Errorf("encode users: %w", err)
	}
	return atomicwrite.WriteFile(r.path, data, 0o600)
}

func (r *userRepo) Create(ctx context.Context, u *repository.User) error {
	if u == nil || u.UserID == "" || u.Username == "" {
		return repository.ErrInvalidInput
	}
	return r.lock.withLock(ctx, func() error {
		users, err := r.load()
		if err != nil {
			return err
		}
		for _, x := range users {
			if x.Username == u.Username || x.UserID == u.UserID {
				return repository.ErrConflict
			}
		}
		return r.save(append(users, u.Clone()))
	})
}

func (r *userRepo) GetByID(ctx context.Context, userID string) (*repository.User, error) {
	return r.find(func(u *repository.User) bool { return u.UserID == userID })
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*repository.User, error) {
	return r.find(func(u *repository.User) bool { return u.Username == username })
}

func (r *userRepo) find(match func(*repository.User) bool) (*repository.User, error) {
	users, err := r.load()
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if match(u) {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *userRepo) List(ctx context.Context) ([]*repository.User, error) {
	users, err := r.load()
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []*repository.User{}
	}
	return users, nil
}

func (r *userRepo) AppendAttendance(ctx context.Context, userID string, rec repository.AttendanceRecord) error {
	return r.lock.withLock(ctx, func() error {
		users, err := r.load()
		if err != nil {
			return err
		}
		for _, u := range users {
			if u.UserID != userID {
				continue
			}
			u.AttendanceLog = append(u.AttendanceLog, rec)
			lt := rec.LoginTime
			u.LastLogin = &lt
			return r.save(users)
		}
		return repository.ErrNotFound
	})
}
