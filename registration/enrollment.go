// Package registration implements the enclave enrollment workflow: it
// binds the enclave's registration public key to hardware attestation
// evidence so the registration authority can admit the enclave to the
// network. The consensus seed hierarchy is not involved; enrollment only
// uses the independent registration key.
package registration

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"math"
	"math/big"

	"github.com/alexanderbez/SecretNetwork/keymanager"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// EnrollmentRequest carries everything the registration authority needs
// to admit an enclave: the registration public key, a request nonce, the
// operator submitting the registration transaction, and attestation
// evidence binding the key to the enclave's measurements.
type EnrollmentRequest struct {
	Pubkey      []byte         `json:"pubkey"`
	Nonce       *big.Int       `json:"nonce"`
	Operator    common.Address `json:"operator"`
	Attestation []byte         `json:"attestation"`
}

// Hash computes the canonical hash of an enrollment request, used as the
// registration transaction payload identifier on chain.
func (r EnrollmentRequest) Hash() ([32]byte, error) {
	intTy, _ := abi.NewType("int", "", nil)
	bytesTy, _ := abi.NewType("bytes", "", nil)
	addressTy, _ := abi.NewType("address", "", nil)

	arguments := abi.Arguments{
		{Type: bytesTy},
		{Type: intTy},
		{Type: addressTy},
		{Type: bytesTy},
	}

	packed, err := arguments.Pack(r.Pubkey, r.Nonce, r.Operator, r.Attestation)
	if err != nil {
		return [32]byte{}, err
	}
	return ethcrypto.Keccak256Hash(packed), nil
}

// ReportData computes the 64-byte attestation report data for an
// enrollment request: the registration authority's address followed by a
// hash of the request fields. Quoting this value ties the registration
// key to both the enclave and the intended authority.
func (r EnrollmentRequest) ReportData(authority common.Address) [64]byte {
	var reportData [64]byte

	serialized := append([]byte{}, r.Pubkey...)
	serialized = append(serialized, r.Nonce.Bytes()...)
	serialized = append(serialized, r.Operator.Bytes()...)
	requestHash := sha256.Sum256(serialized)

	copy(reportData[:20], authority[:])
	copy(reportData[20:], requestHash[:])
	return reportData
}

// Enroller builds attested enrollment requests from the keychain's
// registration key.
type Enroller struct {
	keys     *keymanager.Keychain
	provider AttestationProvider
	log      *slog.Logger
}

// NewEnroller creates an enroller over the given keychain.
func NewEnroller(keys *keymanager.Keychain, provider AttestationProvider, log *slog.Logger) *Enroller {
	return &Enroller{keys: keys, provider: provider, log: log}
}

// NewEnrollmentRequest creates an attested enrollment request for the
// given registration authority and operator. The keychain must hold a
// registration key.
func (e *Enroller) NewEnrollmentRequest(authority, operator common.Address) (EnrollmentRequest, error) {
	kp, err := e.keys.GetRegistrationKey()
	if err != nil {
		return EnrollmentRequest{}, err
	}
	pub := kp.Public()

	randomInt, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	if err != nil {
		return EnrollmentRequest{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	request := EnrollmentRequest{
		Pubkey:   pub[:],
		Nonce:    randomInt,
		Operator: operator,
	}

	reportData := request.ReportData(authority)
	request.Attestation, err = e.provider.Attest(reportData)
	if err != nil {
		return EnrollmentRequest{}, fmt.Errorf("failed to attest enrollment request: %w", err)
	}

	e.log.Info("Built enrollment request",
		slog.String("pubkey", pub.String()),
		slog.String("authority", authority.Hex()))

	return request, nil
}

// VerifyEnrollment verifies, on the authority side, that the request's
// attestation is a valid quote over the expected report data. It returns
// the quoted measurements for admission policy evaluation.
func VerifyEnrollment(authority common.Address, request EnrollmentRequest) (map[int]string, error) {
	return VerifyDCAPAttestation(request.ReportData(authority), request.Attestation)
}
