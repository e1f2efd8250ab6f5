package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/signroll/internal/domain/repository"
	"github.com/dropDatabas3/signroll/internal/ledger"
)

func usernames(us []*repository.User) []string {
	out := make([]string, 0, len(us))
	for _, u := range us {
		out = append(out, u.Username)
	}
	return out
}

func TestSearch_MatchesIdentityAndAttendanceFields(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	alice, err := f.svc.Register(ctx, "alice", "Alice Anders")
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, "bob", "Robert Brown")
	require.NoError(t, err)
	rec, err := f.svc.CheckIn(ctx, alice.UserID)
	require.NoError(t, err)
	require.NotNil(t, rec.Signature)

	cases := []struct {
		term string
		want []string
	}{
		{"ALICE", []string{"alice"}},
		{"anders", []string{"alice"}},
		{"brown", []string{"bob"}},
		{"usr_", []string{"alice", "bob"}},
		{"  Robert  ", []string{"bob"}},
		{"2024-01-01", []string{"alice"}},
		{"nadie", []string{}},
	}
	for _, tc := range cases {
		got, err := f.svc.Search(ctx, tc.term)
		require.NoError(t, err, tc.term)
		require.Equal(t, tc.want, usernames(got), tc.term)
	}

	// La firma de un registro también es buscable.
	got, err := f.svc.Search(ctx, (*rec.Signature)[:12])
	require.NoError(t, err)
	require.Contains(t, usernames(got), "alice")
}

func TestSearch_EmptyTerm(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Search(context.Background(), "   ")
	require.ErrorIs(t, err, ledger.ErrEmptyQuery)
}
