package accounts

import (
	"crypto/elliptic"
	"testing"

	"github.com/datatrails/go-datatrails-common/azkeys"
	dtcose "github.com/datatrails/go-datatrails-common/cose"
	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootSealer_Sign1(t *testing.T) {

	logger.New("TEST")

	type fields struct {
		issuer string
		curve  elliptic.Curve
	}
	type args struct {
		subject  string
		state    SealedState
		external []byte
	}
	treeID := uuid.New()
	tests := []struct {
		name    string
		fields  fields
		args    args
		wantErr bool
	}{
		{
			name: "common case P-256 & ES256",
			fields: fields{
				issuer: "synsation.org",
				curve:  elliptic.P256(),
			},
			args: args{
				subject: "tree-attestor",
				state: SealedState{
					TreeID:         treeID[:],
					SequenceNumber: 7,
					Root:           []byte{1},
					Timestamp:      1234,
				},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {

			key := TestGenerateECKey(t, tt.fields.curve)
			rs := TestNewRootSealer(t, tt.fields.issuer)

			coseSigner := azkeys.NewTestCoseSigner(t, key)
			pubKey, err := coseSigner.PublicKey()
			require.NoError(t, err)

			coseMsg, err := rs.Sign1(
				coseSigner, coseSigner.KeyIdentifier(), pubKey,
				tt.args.subject, tt.args.state, tt.args.external)
			if (err != nil) != tt.wantErr {
				t.Errorf("RootSealer.Sign1() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			signed, state, err := DecodeSealedState(rs.cborCodec, coseMsg)
			assert.NoError(t, err)
			assert.Equal(t, tt.args.state.SequenceNumber, state.SequenceNumber)
			// the root travels detached, the decoded claim must not carry it
			assert.Nil(t, state.Root)

			err = VerifySealedState(
				rs.cborCodec,
				dtcose.NewCWTPublicKeyProvider(signed),
				signed, state, nil,
			)
			// verification must fail while the root is absent
			assert.Error(t, err)

			// the verifier recomputes the root from the account it holds and
			// restores it before checking the signature
			state.Root = tt.args.state.Root
			err = VerifySealedState(
				rs.cborCodec,
				dtcose.NewCWTPublicKeyProvider(signed),
				signed, state, nil,
			)
			assert.NoError(t, err)
		})
	}
}
