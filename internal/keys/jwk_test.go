package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"
)

func TestJWK_PrivateRoundTrip(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	j, err := EncodePrivate(priv)
	require.NoError(t, err)
	require.Equal(t, "EC", j.Kty)
	require.Equal(t, "P-256", j.Crv)
	require.Equal(t, []string{"sign"}, j.KeyOps)
	require.True(t, j.Ext)

	back, err := ParseJWK(j.Marshal())
	require.NoError(t, err)
	got, err := back.PrivateKey()
	require.NoError(t, err)
	require.True(t, priv.Equal(got))
}

func TestJWK_PublicHalfHasNoScalar(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	j, err := EncodePrivate(priv)
	require.NoError(t, err)

	pub := j.Public()
	require.False(t, pub.IsPrivate())
	require.Equal(t, []string{"verify"}, pub.KeyOps)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(pub.Marshal(), &raw))
	require.NotContains(t, raw, "d")

	pk, err := pub.PublicKey()
	require.NoError(t, err)
	require.True(t, priv.PublicKey.Equal(pk))
}

func TestJWK_FixedWidthCoordinates(t *testing.T) {
	// Con suficientes claves alguna tiene coordenadas con ceros a la izquierda;
	// el JWK siempre debe codificar 32 bytes (43 chars base64url).
	for i := 0; i < 64; i++ {
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		j, err := EncodePrivate(priv)
		require.NoError(t, err)
		require.Len(t, j.X, 43)
		require.Len(t, j.Y, 43)
		require.Len(t, j.D, 43)
	}
}

func TestParseJWK_Rejects(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	good, err := EncodePrivate(priv)
	require.NoError(t, err)
	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	otherJ, err := EncodePrivate(other)
	require.NoError(t, err)

	wrongCrv := good
	wrongCrv.Crv = "P-384"
	shortX := good
	shortX.X = "AAAA"
	offCurve := good.Public()
	offCurve.Y = offCurve.X
	mismatched := good
	mismatched.D = otherJ.D

	cases := map[string][]byte{
		"not json":   []byte("{nope"),
		"wrong crv":  wrongCrv.Marshal(),
		"short x":    shortX.Marshal(),
		"off curve":  offCurve.Marshal(),
		"mismatch d": mismatched.Marshal(),
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseJWK(in)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrMalformedJWK), "got %v", err)
		})
	}
}

func TestThumbprint_IgnoresPrivateMembers(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	j, err := EncodePrivate(priv)
	require.NoError(t, err)

	require.Equal(t, Thumbprint(j), Thumbprint(j.Public()))
	require.Len(t, Thumbprint(j), 43)
}

func TestJWK_InteropWithJoseAndWebCryptoMembers(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	j, err := EncodePrivate(priv)
	require.NoError(t, err)

	// Un JWK exportado por WebCrypto trae ext y key_ops; go-jose los ignora.
	var jk jose.JSONWebKey
	require.NoError(t, jk.UnmarshalJSON(j.Marshal()))
	require.True(t, jk.Valid())
	got, ok := jk.Key.(*ecdsa.PrivateKey)
	require.True(t, ok)
	require.True(t, priv.Equal(got))

	// Thumbprint coincide con el de go-jose sobre la clave pública.
	sum, err := (&jose.JSONWebKey{Key: &priv.PublicKey}).Thumbprint(crypto.SHA256)
	require.NoError(t, err)
	require.Equal(t, base64.RawURLEncoding.EncodeToString(sum), Thumbprint(j))

	// Y lo que emite go-jose se parsea tal cual.
	raw, err := jose.JSONWebKey{Key: &priv.PublicKey}.MarshalJSON()
	require.NoError(t, err)
	back, err := ParseJWK(raw)
	require.NoError(t, err)
	require.Equal(t, j.X, back.X)
	require.Equal(t, j.Y, back.Y)
}

func TestThumbprint_InvalidKeyIsEmpty(t *testing.T) {
	require.Empty(t, Thumbprint(JWK{Kty: "EC", Crv: "P-256", X: "AAAA", Y: "AAAA"}))
}
