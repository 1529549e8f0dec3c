package httpserver

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alexanderbez/SecretNetwork/crypto"
	"github.com/alexanderbez/SecretNetwork/keymanager"
	"github.com/alexanderbez/SecretNetwork/metrics"
	"github.com/awnumar/memguard"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// StatusResponse reports which keys the enclave currently holds.
type StatusResponse struct {
	ConsensusSeedSet    bool `json:"consensus_seed_set"`
	RegistrationKeySet  bool `json:"registration_key_set"`
	ExchangeKeysDerived bool `json:"exchange_keys_derived"`
}

// ExchangeKeysResponse carries the derived public exchange keys, hex
// encoded.
type ExchangeKeysResponse struct {
	SeedExchangePubkey string `json:"seed_exchange_pubkey"`
	IoExchangePubkey   string `json:"io_exchange_pubkey"`
}

// RegistrationKeyResponse carries the ephemeral registration public key.
type RegistrationKeyResponse struct {
	RegistrationPubkey string `json:"registration_pubkey"`
}

// SetSeedRequest delivers a consensus seed obtained over the attested
// exchange channel.
type SetSeedRequest struct {
	Seed string `json:"seed"`
}

// Handler processes HTTP requests against the enclave keychain.
type Handler struct {
	keys *keymanager.Keychain
	log  *slog.Logger
}

// NewHandler creates an HTTP request handler backed by the given
// keychain.
func NewHandler(keys *keymanager.Keychain, log *slog.Logger) *Handler {
	return &Handler{
		keys: keys,
		log:  log,
	}
}

// HandleStatus reports which keys are currently present.
//
// URL format: GET /api/public/status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		ConsensusSeedSet:   h.keys.IsConsensusSeedSet(),
		RegistrationKeySet: h.keys.IsRegistrationKeySet(),
		ExchangeKeysDerived: h.keys.IsConsensusSeedExchangeKeypairSet() &&
			h.keys.IsConsensusIoExchangeKeypairSet(),
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// HandleExchangeKeys returns the public halves of the derived exchange
// keypairs.
//
// URL format: GET /api/public/exchange_keys
//
// Status codes:
//   - 200 OK: keys returned
//   - 503 Service Unavailable: the enclave is not provisioned yet
func (h *Handler) HandleExchangeKeys(w http.ResponseWriter, r *http.Request) {
	seedExchange, err := h.keys.GetConsensusSeedExchangeKeypair()
	if err != nil {
		h.notProvisioned(w, r, err)
		return
	}
	defer seedExchange.Wipe()

	ioExchange, err := h.keys.GetConsensusIoExchangeKeypair()
	if err != nil {
		h.notProvisioned(w, r, err)
		return
	}
	defer ioExchange.Wipe()

	resp := ExchangeKeysResponse{
		SeedExchangePubkey: seedExchange.Public().String(),
		IoExchangePubkey:   ioExchange.Public().String(),
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// HandleRegistrationKey returns the ephemeral registration public key
// used during node enrollment.
//
// URL format: GET /api/public/registration_key
func (h *Handler) HandleRegistrationKey(w http.ResponseWriter, r *http.Request) {
	regKey, err := h.keys.GetRegistrationKey()
	if err != nil {
		h.notProvisioned(w, r, err)
		return
	}
	defer regKey.Wipe()

	resp := RegistrationKeyResponse{
		RegistrationPubkey: regKey.Public().String(),
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// HandleSetSeed installs a consensus seed received over the attested
// exchange channel. The seed can only be set once; re-provisioning a
// running enclave is rejected.
//
// URL format: POST /api/attested/seed
//
// Status codes:
//   - 200 OK: seed installed, master keys derived
//   - 400 Bad Request: malformed body or seed
//   - 409 Conflict: a consensus seed is already installed
//   - 500 Internal Server Error: sealing or derivation failed
func (h *Handler) HandleSetSeed(w http.ResponseWriter, r *http.Request) {
	if h.keys.IsConsensusSeedSet() {
		h.httpError(w, r, http.StatusConflict, errors.New("consensus seed already set"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.httpError(w, r, http.StatusBadRequest, fmt.Errorf("could not read request body: %w", err))
		return
	}

	var req SetSeedRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.httpError(w, r, http.StatusBadRequest, fmt.Errorf("could not parse request body: %w", err))
		return
	}

	rawSeed, err := hex.DecodeString(req.Seed)
	if err != nil {
		h.httpError(w, r, http.StatusBadRequest, fmt.Errorf("seed is not valid hex: %w", err))
		return
	}

	seed, err := crypto.SeedFromBytes(rawSeed)
	memguard.WipeBytes(rawSeed)
	if err != nil {
		h.httpError(w, r, http.StatusBadRequest, err)
		return
	}

	if err := h.keys.SetConsensusSeed(seed); err != nil {
		seed.Wipe()
		h.httpError(w, r, http.StatusInternalServerError, err)
		return
	}
	seed.Wipe()

	h.log.Info("Consensus seed provisioned over attested channel")
	h.writeJSON(w, r, http.StatusOK, map[string]string{"status": "seed set"})
}

func (h *Handler) notProvisioned(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, keymanager.ErrNotInitialized) {
		h.httpError(w, r, http.StatusServiceUnavailable, err)
		return
	}
	h.httpError(w, r, http.StatusInternalServerError, err)
}

func (h *Handler) httpError(w http.ResponseWriter, r *http.Request, code int, err error) {
	h.log.Error("Request failed", "err", err, "path", r.URL.Path, "status", code)
	metrics.HTTPRequestsTotal.WithLabelValues(r.URL.Path, strconv.Itoa(code)).Inc()
	http.Error(w, err.Error(), code)
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	metrics.HTTPRequestsTotal.WithLabelValues(r.URL.Path, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}
