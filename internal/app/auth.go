package app

import (
	"crypto/sha256"

	errorsmod "cosmossdk.io/errors"
	"github.com/cometbft/cometbft/crypto/ed25519"

	"globaltable/internal/codec"
)

const txAuthDomain = "gtable/tx/v1"

var (
	ErrUnauthenticated = errorsmod.Register(codespace, 1, "transaction not authenticated")
	ErrEmptyTx         = errorsmod.Register(codespace, 2, "transaction carries no instructions")
	ErrNotAdmin        = errorsmod.Register(codespace, 3, "instruction requires the table admin")
	ErrCorruptState    = errorsmod.Register(codespace, 4, "corrupt app state")
)

// signBytes = DOMAIN || 0x00 || sha256(body)
func signBytes(body []byte) []byte {
	sum := sha256.Sum256(body)
	out := make([]byte, 0, len(txAuthDomain)+1+sha256.Size)
	out = append(out, txAuthDomain...)
	out = append(out, 0)
	return append(out, sum[:]...)
}

// SignTx prepends an auth frame to body: the signer's ed25519 public key
// followed by its signature over body.
func SignTx(priv ed25519.PrivKey, body []byte) ([]byte, error) {
	sig, err := priv.Sign(signBytes(body))
	if err != nil {
		return nil, err
	}
	payload := append(append([]byte(nil), priv.PubKey().Bytes()...), sig...)
	tx, err := codec.AppendFrame(nil, codec.Frame{Subsystem: codec.SubsystemAuth, Version: codec.FrameVersion, Payload: payload})
	if err != nil {
		return nil, err
	}
	return append(tx, body...), nil
}

// openTx checks the leading auth frame and returns the signer and the signed
// remainder of the transaction.
func openTx(tx []byte) (codec.Player, []byte, error) {
	var signer codec.Player
	f, n, err := codec.ReadFrame(tx)
	if err != nil {
		return signer, nil, errorsmod.Wrap(ErrUnauthenticated, err.Error())
	}
	if f.Subsystem != codec.SubsystemAuth || f.Version != codec.FrameVersion {
		return signer, nil, errorsmod.Wrapf(ErrUnauthenticated, "first frame is subsystem %d v%d", f.Subsystem, f.Version)
	}
	if len(f.Payload) != ed25519.PubKeySize+ed25519.SignatureSize {
		return signer, nil, errorsmod.Wrapf(ErrUnauthenticated, "auth payload of %d bytes", len(f.Payload))
	}
	pub := ed25519.PubKey(f.Payload[:ed25519.PubKeySize])
	body := tx[n:]
	if !pub.VerifySignature(signBytes(body), f.Payload[ed25519.PubKeySize:]) {
		return signer, nil, errorsmod.Wrap(ErrUnauthenticated, "invalid signature")
	}
	copy(signer[:], pub)
	return signer, body, nil
}

// decodeTx authenticates tx and decodes its Global Table instructions.
func decodeTx(tx []byte) (codec.Player, []codec.Instruction, error) {
	signer, body, err := openTx(tx)
	if err != nil {
		return signer, nil, err
	}
	ins, err := codec.DecodeInstructionFrames(body)
	if err != nil {
		return signer, nil, err
	}
	if len(ins) == 0 {
		return signer, nil, ErrEmptyTx
	}
	return signer, ins, nil
}
