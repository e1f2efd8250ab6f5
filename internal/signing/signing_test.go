package signing_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dropDatabas3/signroll/internal/keys"
	"github.com/dropDatabas3/signroll/internal/signing"
	"github.com/dropDatabas3/signroll/internal/store/adapters/memory"
)

func newSigner(t *testing.T) (*signing.Signer, *keys.KeyStore) {
	t.Helper()
	ks := keys.NewKeyStore(memory.NewKeyRepo(), keys.Options{Logger: zap.NewNop()})
	return signing.NewSigner(ks), ks
}

func TestSignVerify_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newSigner(t)
	pub, err := s.PublicJWK(ctx)
	require.NoError(t, err)

	payloads := []string{
		"",
		"USER|USR_1|alice|Alice A|2024-01-01 00:00:00",
		"ATTEND|USR_1|alice|1/2/2024, 9:00:00 AM|1704186000000",
		"ñandú, \"comillas\"\nnueva línea",
	}
	for _, p := range payloads {
		sig, err := s.Sign(ctx, []byte(p))
		require.NoError(t, err)

		raw, err := base64.StdEncoding.DecodeString(sig)
		require.NoError(t, err)
		require.Len(t, raw, signing.SignatureSize)

		ok, err := signing.Verify([]byte(p), sig, pub)
		require.NoError(t, err)
		require.True(t, ok, "payload %q", p)
	}
}

func TestSign_RawRSFormat(t *testing.T) {
	ctx := context.Background()
	s, ks := newSigner(t)
	payload := []byte("ATTEND|USR_1|alice|t|1")

	sig, err := s.Sign(ctx, payload)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(sig)
	require.NoError(t, err)

	kp, err := ks.GetOrCreateKeyPair(ctx)
	require.NoError(t, err)
	digest := sha256.Sum256(payload)
	r := new(big.Int).SetBytes(raw[:32])
	sv := new(big.Int).SetBytes(raw[32:])
	require.True(t, ecdsa.Verify(&kp.Private.PublicKey, digest[:], r, sv))
}

func TestVerify_SingleBitMutation(t *testing.T) {
	ctx := context.Background()
	s, _ := newSigner(t)
	pub, err := s.PublicJWK(ctx)
	require.NoError(t, err)
	payload := []byte("USER|USR_1|alice|Alice A|2024-01-01 00:00:00")

	sig, err := s.Sign(ctx, payload)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(sig)
	require.NoError(t, err)

	for _, bit := range []int{0, 7, 100, 255, 256, 300, 511} {
		mut := append([]byte(nil), raw...)
		mut[bit/8] ^= 1 << (bit % 8)
		ok, err := signing.Verify(payload, base64.StdEncoding.EncodeToString(mut), pub)
		require.NoError(t, err)
		require.False(t, ok, "bit %d", bit)
	}

	ok, err := signing.Verify([]byte("USER|USR_1|alice|Alice B|2024-01-01 00:00:00"), sig, pub)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerify_MalformedInput(t *testing.T) {
	ctx := context.Background()
	s, _ := newSigner(t)
	pub, err := s.PublicJWK(ctx)
	require.NoError(t, err)
	sig, err := s.Sign(ctx, []byte("x"))
	require.NoError(t, err)

	badKey := pub
	badKey.X = "!!"

	cases := []struct {
		name string
		sig  string
		key  keys.JWK
	}{
		{"not base64", "%%%", pub},
		{"short signature", base64.StdEncoding.EncodeToString([]byte("short")), pub},
		{"der length", base64.StdEncoding.EncodeToString(make([]byte, 70)), pub},
		{"bad key", sig, badKey},
		{"empty key", sig, keys.JWK{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := signing.Verify([]byte("x"), tc.sig, tc.key)
			require.False(t, ok)
			require.True(t, signing.IsVerificationError(err), "got %v", err)
		})
	}
}

func TestVerifyAny_FindsRetiredKey(t *testing.T) {
	ctx := context.Background()
	s, ks := newSigner(t)
	payload := []byte("ATTEND|USR_1|alice|t|1")

	old, err := s.Sign(ctx, payload)
	require.NoError(t, err)
	_, err = ks.Rotate(ctx)
	require.NoError(t, err)

	candidates, err := ks.VerificationKeys(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	idx, err := signing.VerifyAny(payload, old, candidates...)
	require.NoError(t, err)
	require.Equal(t, 1, idx)

	fresh, err := s.Sign(ctx, payload)
	require.NoError(t, err)
	idx, err = signing.VerifyAny(payload, fresh, candidates...)
	require.NoError(t, err)
	require.Equal(t, 0, idx)

	idx, err = signing.VerifyAny([]byte("other"), fresh, candidates...)
	require.NoError(t, err)
	require.Equal(t, -1, idx)

	_, err = signing.VerifyAny(payload, fresh)
	require.True(t, signing.IsVerificationError(err))
}

type failingSource struct{ err error }

func (f failingSource) GetOrCreateKeyPair(context.Context) (*keys.KeyPair, error) { return nil, f.err }

func TestSign_ErrorTaxonomy(t *testing.T) {
	ctx := context.Background()

	kg := &keys.KeyGenerationError{Err: errors.New("provider down")}
	_, err := signing.NewSigner(failingSource{err: kg}).Sign(ctx, []byte("x"))
	require.True(t, keys.IsKeyGenerationError(err))
	require.False(t, signing.IsSigningError(err))

	_, err = signing.NewSigner(failingSource{err: errors.New("disk gone")}).Sign(ctx, []byte("x"))
	require.True(t, signing.IsSigningError(err))
}
