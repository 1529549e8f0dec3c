package registration

import (
	"bytes"
	"encoding/hex"
	"fmt"

	tdx_abi "github.com/google/go-tdx-guest/abi"
	tdx_client "github.com/google/go-tdx-guest/client"
	tdx_pb "github.com/google/go-tdx-guest/proto/tdx"
	"github.com/google/go-tdx-guest/verify"
)

// AttestationProvider produces hardware attestation evidence over 64
// bytes of report data, binding that data to the enclave's measurements.
type AttestationProvider interface {
	Attest(reportData [64]byte) ([]byte, error)
}

// DCAPAttestationProvider produces TDX quotes via the local quote
// provider or device.
type DCAPAttestationProvider struct{}

// Attest requests a raw TDX quote over the report data.
func (DCAPAttestationProvider) Attest(reportData [64]byte) ([]byte, error) {
	qp := &tdx_client.LinuxConfigFsQuoteProvider{}
	if qp.IsSupported() == nil {
		return qp.GetRawQuote(reportData)
	}

	qd, err := tdx_client.OpenDevice()
	if err != nil {
		return nil, err
	}
	defer qd.Close()

	return tdx_client.GetRawQuote(qd, reportData)
}

// DummyAttestationProvider produces a recognizable non-attestation for
// development outside trusted hardware.
type DummyAttestationProvider struct{}

func (DummyAttestationProvider) Attest(reportData [64]byte) ([]byte, error) {
	return []byte(fmt.Sprintf("Attestation for report data %x", reportData)), nil
}

// VerifyDCAPAttestation verifies a TDX quote and checks that it binds the
// expected report data. On success it returns the quoted measurement
// registers, indexed for policy evaluation by the registration authority.
func VerifyDCAPAttestation(reportData [64]byte, quote []byte) (map[int]string, error) {
	protoQuote, err := tdx_abi.QuoteToProto(quote)
	if err != nil {
		return nil, fmt.Errorf("could not parse quote: %w", err)
	}

	v4Quote, ok := protoQuote.(*tdx_pb.QuoteV4)
	if !ok {
		return nil, fmt.Errorf("unsupported quote type: %T", protoQuote)
	}

	if err := verify.TdxQuote(protoQuote, verify.DefaultOptions()); err != nil {
		return nil, fmt.Errorf("quote verification failed: %w", err)
	}

	if !bytes.Equal(v4Quote.TdQuoteBody.ReportData, reportData[:]) {
		return nil, fmt.Errorf("invalid report data %x, expected %x",
			v4Quote.TdQuoteBody.ReportData, reportData[:])
	}

	measurements := map[int]string{
		0: hex.EncodeToString(v4Quote.TdQuoteBody.MrTd),
		1: hex.EncodeToString(v4Quote.TdQuoteBody.Rtmrs[0]),
		2: hex.EncodeToString(v4Quote.TdQuoteBody.Rtmrs[1]),
		3: hex.EncodeToString(v4Quote.TdQuoteBody.Rtmrs[2]),
		4: hex.EncodeToString(v4Quote.TdQuoteBody.Rtmrs[3]),
	}

	return measurements, nil
}
