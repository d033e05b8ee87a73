package accounts

import (
	"crypto"
	"fmt"

	"github.com/datatrails/go-datatrails-common/cbor"
	dtcose "github.com/datatrails/go-datatrails-common/cose"
	"github.com/veraison/go-cose"
)

type publicKeyProvider interface {
	PublicKey() (crypto.PublicKey, cose.Algorithm, error)
}

// DecodeSealedState decodes the SealedState from a seal produced by
// RootSealer.Sign1. The returned state does not verify as is, the root was
// detached after signing. See VerifySealedState.
func DecodeSealedState(
	codec cbor.CBORCodec, msg []byte,
) (*dtcose.CoseSign1Message, SealedState, error) {

	signed, err := dtcose.NewCoseSign1MessageFromCBOR(msg, newSealDecOptions()...)
	if err != nil {
		return nil, SealedState{}, err
	}

	var unverified SealedState
	if err = codec.UnmarshalInto(signed.Payload, &unverified); err != nil {
		return nil, SealedState{}, err
	}
	return signed, unverified, nil
}

// VerifySealedState restores the detached root into the decoded state and
// verifies the signature over the result.
//
// Verification is a 3 step process:
//  1. Use DecodeSealedState to obtain the SealedState from the seal. This
//     state will not verify, the root was detached after signing.
//  2. Read the account at the sealed sequence number and take its root.
//  3. Set that root on the state and call this function.
func VerifySealedState(
	codec cbor.CBORCodec, keyProvider publicKeyProvider,
	signed *dtcose.CoseSign1Message, unverified SealedState, external []byte,
) error {

	var err error
	signed.Payload, err = codec.MarshalCBOR(unverified)
	if err != nil {
		return err
	}
	if err = signed.VerifyWithProvider(keyProvider, external); err != nil {
		return fmt.Errorf("%w: %v", ErrSealVerifyFailed, err)
	}
	return nil
}
