package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/sbtcoptions/internal/chain"
	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

// Signer signs transaction ids with a secp256k1 key. The signing principal
// is the checksummed hex address of the key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the address derived from the key.
func (s *Signer) Address() common.Address {
	return s.address
}

// Principal returns the checksummed address as a contract principal.
func (s *Signer) Principal() domain.Principal {
	return domain.Principal(s.address.Hex())
}

// SignTx returns the 0x-prefixed 65-byte personal-sign signature over txID,
// with v in {27, 28}.
func (s *Signer) SignTx(txID common.Hash) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(txID.Bytes()), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	sig[ethcrypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// SignCall sets call.Sender to the signer's principal and attaches a
// signature over the resulting transaction id.
func (s *Signer) SignCall(call domain.Call) (domain.Call, error) {
	call.Sender = s.Principal()
	call.Signature = ""
	id, err := chain.TxID(call)
	if err != nil {
		return domain.Call{}, err
	}
	if call.Signature, err = s.SignTx(id); err != nil {
		return domain.Call{}, err
	}
	return call, nil
}

// RecoverSigner returns the address that produced sigHex over txID.
func RecoverSigner(txID common.Hash, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil || len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("crypto/signer: malformed signature: %w", domain.ErrBadSignature)
	}
	v := sig[ethcrypto.RecoveryIDOffset]
	if v >= 27 {
		sig[ethcrypto.RecoveryIDOffset] = v - 27
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(txID.Bytes()), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %v: %w", err, domain.ErrBadSignature)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyCall requires a signature whose recovered checksum address equals
// call.Sender.
func VerifyCall(call domain.Call, txID common.Hash) error {
	if call.Signature == "" {
		return fmt.Errorf("crypto/signer: missing signature: %w", domain.ErrBadSignature)
	}
	addr, err := RecoverSigner(txID, call.Signature)
	if err != nil {
		return err
	}
	if addr.Hex() != call.Sender.String() {
		return fmt.Errorf("crypto/signer: signer %s is not sender %s: %w", addr.Hex(), call.Sender, domain.ErrBadSignature)
	}
	return nil
}

// VerifyIfSigned accepts unsigned calls and verifies signed ones.
func VerifyIfSigned(call domain.Call, txID common.Hash) error {
	if call.Signature == "" {
		return nil
	}
	return VerifyCall(call, txID)
}

var (
	_ chain.VerifyFunc = VerifyCall
	_ chain.VerifyFunc = VerifyIfSigned
)
