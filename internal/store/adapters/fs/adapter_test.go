package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/signroll/internal/domain/repository"
)

func TestUserRepo_CreateAndAppend(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(t.TempDir())
	require.NoError(t, err)
	users := conn.Users()

	u := &repository.User{
		UserID:             "USR_1",
		Username:           "alice",
		FullName:           "Alice A",
		AccountCreatedDate: "2024-01-01 00:00:00",
	}
	require.NoError(t, users.Create(ctx, u))
	require.ErrorIs(t, users.Create(ctx, &repository.User{UserID: "USR_2", Username: "alice"}), repository.ErrConflict)

	sig := "c2ln"
	require.NoError(t, users.AppendAttendance(ctx, "USR_1", repository.AttendanceRecord{
		LoginTime: "2024-01-02T09:00:00.000Z",
		Timestamp: 1704186000000,
		Signature: &sig,
		Kind:      repository.AttendanceSignIn,
	}))
	require.ErrorIs(t, users.AppendAttendance(ctx, "nope", repository.AttendanceRecord{}), repository.ErrNotFound)

	// Relectura desde disco con otra conexión.
	again, err := Open(conn.root)
	require.NoError(t, err)
	got, err := again.Users().GetByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got.AttendanceLog, 1)
	require.Equal(t, "c2ln", *got.AttendanceLog[0].Signature)
	require.NotNil(t, got.LastLogin)
	require.Equal(t, "2024-01-02T09:00:00.000Z", *got.LastLogin)

	_, err = again.Users().GetByID(ctx, "USR_404")
	require.True(t, repository.IsNotFound(err))
}

func TestUserRepo_ListEmpty(t *testing.T) {
	conn, err := Open(t.TempDir())
	require.NoError(t, err)
	list, err := conn.Users().List(context.Background())
	require.NoError(t, err)
	require.NotNil(t, list)
	require.Empty(t, list)
}

func TestUserRepo_ConcurrentAppendAcrossConnections(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	first, err := Open(root)
	require.NoError(t, err)
	second, err := Open(root)
	require.NoError(t, err)
	require.NoError(t, first.Users().Create(ctx, &repository.User{UserID: "USR_1", Username: "alice", FullName: "Alice A"}))

	const perConn = 50
	var wg sync.WaitGroup
	for c, conn := range []*Connection{first, second} {
		wg.Add(1)
		go func(c int, users repository.UserRepository) {
			defer wg.Done()
			for i := 0; i < perConn; i++ {
				err := users.AppendAttendance(ctx, "USR_1", repository.AttendanceRecord{
					LoginTime: fmt.Sprintf("conn%d-%02d", c, i),
					Timestamp: int64(c*perConn + i),
					Kind:      repository.AttendanceManual,
				})
				require.NoError(t, err)
			}
		}(c, conn.Users())
	}
	wg.Wait()

	reread, err := Open(root)
	require.NoError(t, err)
	u, err := reread.Users().GetByID(ctx, "USR_1")
	require.NoError(t, err)
	require.Len(t, u.AttendanceLog, 2*perConn)

	seen := make(map[int64]bool, 2*perConn)
	for _, r := range u.AttendanceLog {
		seen[r.Timestamp] = true
	}
	require.Len(t, seen, 2*perConn)
}

func TestUserRepo_ConcurrentCreateAcrossConnections(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := Open(root)
			require.NoError(t, err)
			require.NoError(t, conn.Users().Create(ctx, &repository.User{
				UserID:   fmt.Sprintf("USR_%d", i),
				Username: fmt.Sprintf("user%d", i),
			}))
		}(i)
	}
	wg.Wait()

	conn, err := Open(root)
	require.NoError(t, err)
	list, err := conn.Users().List(ctx)
	require.NoError(t, err)
	require.Len(t, list, n)
}

func TestUserRepo_AppendGivesUpWhileLockHeld(t *testing.T) {
	root := t.TempDir()
	holder, err := Open(root)
	require.NoError(t, err)
	require.NoError(t, holder.Users().Create(context.Background(), &repository.User{UserID: "USR_1", Username: "alice"}))

	// Otro proceso tiene el lock: el llamador se rinde cuando vence su ctx.
	other, err := Open(root)
	require.NoError(t, err)
	ou := other.Users().(*userRepo)
	release := make(chan struct{})
	locked := make(chan struct{})
	go func() {
		_ = ou.lock.withLock(context.Background(), func() error {
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = holder.Users().AppendAttendance(ctx, "USR_1", repository.AttendanceRecord{LoginTime: "x"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func pair(tag string) *repository.StoredKeyPair {
	return &repository.StoredKeyPair{
		PrivateJWK: []byte(`{"d":"` + tag + `"}`),
		PublicJWK:  []byte(`{"x":"` + tag + `"}`),
		CreatedAt:  time.Now().UTC(),
	}
}

func TestKeyRepo_CreateIfAbsentOneWinnerAcrossConnections(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	const n = 8
	winners := make([]*repository.StoredKeyPair, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := Open(root)
			require.NoError(t, err)
			w, err := conn.Keys().CreateIfAbsent(ctx, pair(string(rune('a'+i))))
			require.NoError(t, err)
			winners[i] = w
		}(i)
	}
	wg.Wait()

	for _, w := range winners {
		require.Equal(t, string(winners[0].PrivateJWK), string(w.PrivateJWK))
	}
}

func TestKeyRepo_LoadReportsPartialSlots(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(t.TempDir())
	require.NoError(t, err)
	keys := conn.Keys()

	_, err = keys.Load(ctx)
	require.True(t, repository.IsNotFound(err))

	_, err = keys.CreateIfAbsent(ctx, pair("a"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(conn.root, "keys", repository.SlotPublicJWK+".json")))

	kp, err := keys.Load(ctx)
	require.NoError(t, err)
	require.True(t, kp.HasPrivate())
	require.False(t, kp.HasPublic())
	require.False(t, kp.CreatedAt.IsZero())
}

func TestKeyRepo_RotateRetiresPrevious(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(t.TempDir())
	require.NoError(t, err)
	keys := conn.Keys()

	prev, err := keys.Rotate(ctx, pair("a"))
	require.NoError(t, err)
	require.Nil(t, prev)

	prev, err = keys.Rotate(ctx, pair("b"))
	require.NoError(t, err)
	require.Equal(t, `{"x":"a"}`, string(prev.PublicJWK))

	retired, err := keys.ListRetired(ctx)
	require.NoError(t, err)
	require.Len(t, retired, 1)
	require.JSONEq(t, `{"x":"a"}`, string(retired[0].PublicJWK))

	cur, err := keys.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, `{"d":"b"}`, string(cur.PrivateJWK))
}

func TestKeyRepo_ConcurrentRotateAcrossConnections(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	seed, err := Open(root)
	require.NoError(t, err)
	_, err = seed.Keys().CreateIfAbsent(ctx, pair("seed"))
	require.NoError(t, err)

	const perConn = 5
	var wg sync.WaitGroup
	for c := 0; c < 2; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			conn, err := Open(root)
			require.NoError(t, err)
			for i := 0; i < perConn; i++ {
				_, err := conn.Keys().Rotate(ctx, pair(fmt.Sprintf("c%d-%d", c, i)))
				require.NoError(t, err)
			}
		}(c)
	}
	wg.Wait()

	// Cada rotación retira exactamente la pública que estaba activa.
	retired, err := seed.Keys().ListRetired(ctx)
	require.NoError(t, err)
	require.Len(t, retired, 2*perConn)
	seen := make(map[string]bool)
	for _, r := range retired {
		var pub struct {
			X string `json:"x"`
		}
		require.NoError(t, json.Unmarshal(r.PublicJWK, &pub))
		require.False(t, seen[pub.X], "retired twice: %s", pub.X)
		seen[pub.X] = true
	}
	require.True(t, seen["seed"])
}
