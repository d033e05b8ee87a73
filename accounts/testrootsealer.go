package accounts

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateECKey(t *testing.T, curve elliptic.Curve) ecdsa.PrivateKey {
	privateKey, err := ecdsa.GenerateKey(curve, rand.Reader)
	require.NoError(t, err)
	return *privateKey
}

func TestNewRootSealer(t *testing.T, issuer string) RootSealer {
	cborCodec, err := NewRootSealerCodec()
	require.NoError(t, err)
	rs := NewRootSealer(issuer, cborCodec)
	return rs
}
