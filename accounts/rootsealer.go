package accounts

import (
	"crypto/ecdsa"
	"crypto/rand"

	dtcbor "github.com/datatrails/go-datatrails-common/cbor"
	dtcose "github.com/datatrails/go-datatrails-common/cose"
	"github.com/veraison/go-cose"
)

// SealedState is the signed commitment to a tree's head state. Because the
// sequence number advances by exactly one per accepted mutation, any two
// sealed states for the same tree order each other, and an indexer replaying
// the change event stream can prove it has every event up to the seal.
type SealedState struct {
	TreeID         []byte `cbor:"1,keyasint"`
	SequenceNumber uint64 `cbor:"2,keyasint"`
	Root           []byte `cbor:"3,keyasint"`
	// Timestamp is the unix time (milliseconds) read at the time the root was
	// sealed. Including it allows the same root to be re-sealed.
	Timestamp int64 `cbor:"4,keyasint"`
}

// RootSealer produces a signature over a tree account's head state. A seal
// commits to the account state and should be created only after the committer
// has durably written the corresponding bytes.
type RootSealer struct {
	issuer    string
	cborCodec dtcbor.CBORCodec
}

func NewRootSealer(issuer string, cborCodec dtcbor.CBORCodec) RootSealer {
	return RootSealer{
		issuer:    issuer,
		cborCodec: cborCodec,
	}
}

// Sign1 signs the provided state. The root is detached from the signed
// payload after signing, verifiers are forced to obtain it from the account
// rather than trusting the seal alone.
func (rs RootSealer) Sign1(
	coseSigner cose.Signer, keyIdentifier string, publicKey *ecdsa.PublicKey,
	subject string, state SealedState, external []byte,
) ([]byte, error) {

	payload, err := rs.cborCodec.MarshalCBOR(state)
	if err != nil {
		return nil, err
	}

	coseHeaders := cose.Headers{
		Protected: cose.ProtectedHeader{
			dtcose.HeaderLabelCWTClaims: dtcose.NewCNFClaim(
				rs.issuer, subject, keyIdentifier, coseSigner.Algorithm(), *publicKey),
		},
	}

	msg := cose.Sign1Message{
		Headers: coseHeaders,
		Payload: payload,
	}
	if err = msg.Sign(rand.Reader, external, coseSigner); err != nil {
		return nil, err
	}

	state.Root = nil
	payload, err = rs.cborCodec.MarshalCBOR(state)
	if err != nil {
		return nil, err
	}
	msg.Payload = payload

	return msg.MarshalCBOR()
}

func NewRootSealerCodec() (dtcbor.CBORCodec, error) {
	codec, err := dtcbor.NewCBORCodec(
		dtcbor.NewDeterministicEncOpts(),
		dtcbor.NewDeterministicDecOpts(), // unsigned int decodes to uint64
	)
	if err != nil {
		return dtcbor.CBORCodec{}, err
	}
	return codec, nil
}

func newSealDecOptions() []dtcose.SignOption {
	return []dtcose.SignOption{dtcose.WithDecOptions(dtcbor.NewDeterministicDecOpts())}
}
