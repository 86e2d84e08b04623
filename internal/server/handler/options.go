package handler

import (
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/sbtcoptions/internal/contract"
	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

// satsDecimals is the number of decimals in one sBTC.
const satsDecimals = 8

// Ledger is the read side of the contract engine.
type Ledger interface {
	Owner() domain.Principal
	Params() contract.Params
	Oracle() domain.OracleState
	Height() uint64
	Account(p domain.Principal) (domain.CollateralAccount, error)
	Option(id uint64) (domain.Option, error)
	Options(f domain.OptionFilter) []domain.Option
	NextOptionID() uint64
	Totals() domain.Totals
	Digest() (common.Hash, error)
}

// ContractHandler serves option, account, oracle and contract queries.
type ContractHandler struct {
	ledger Ledger
	logger *slog.Logger
}

// NewContractHandler creates a ContractHandler over ledger.
func NewContractHandler(ledger Ledger, logger *slog.Logger) *ContractHandler {
	return &ContractHandler{ledger: ledger, logger: logHandler(logger, "contract")}
}

// ListOptions returns options in id order. Supports ?holder=, ?status=,
// ?type=CALL|PUT plus limit/offset.
// GET /api/options
func (h *ContractHandler) ListOptions(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	q := r.URL.Query()

	f := domain.OptionFilter{
		Holder: domain.Principal(q.Get("holder")),
		Status: domain.OptionStatus(q.Get("status")),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	}
	switch f.Status {
	case "", domain.OptionOpen, domain.OptionExercised, domain.OptionExpired:
	default:
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	if t := q.Get("type"); t != "" {
		typ, err := domain.ParseOptionType(t)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid option type")
			return
		}
		f.Type = typ
	}

	options := h.ledger.Options(f)
	if options == nil {
		options = []domain.Option{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"options": options,
		"count":   len(options),
	})
}

// GetOption returns a single option.
// GET /api/options/{id}
func (h *ContractHandler) GetOption(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid option id")
		return
	}
	o, err := h.ledger.Option(id)
	if err != nil {
		writeError(w, statusFor(err), "option not found")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// GetAccount returns a principal's available collateral. Principals that
// never deposited report a zero balance.
// GET /api/accounts/{principal}
func (h *ContractHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	p := domain.Principal(r.PathValue("principal"))
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid principal")
		return
	}

	acct, err := h.ledger.Account(p)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "failed to load account")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":        p,
		"balance":      acct.Balance,
		"balance_sbtc": formatSats(acct.Balance),
		"known":        err == nil,
	})
}

// GetOracle returns the oracle updater and the latest price.
// GET /api/oracle
func (h *ContractHandler) GetOracle(w http.ResponseWriter, r *http.Request) {
	o := h.ledger.Oracle()
	writeJSON(w, http.StatusOK, map[string]any{
		"updater":        o.Updater,
		"price":          o.Price,
		"updated_height": o.UpdatedHeight,
	})
}

// GetContract returns the owner, parameters, counters and state digest.
// GET /api/contract
func (h *ContractHandler) GetContract(w http.ResponseWriter, r *http.Request) {
	digest, err := h.ledger.Digest()
	if err != nil {
		h.logger.ErrorContext(r.Context(), "state digest", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to compute state digest")
		return
	}
	params := h.ledger.Params()
	totals := h.ledger.Totals()
	writeJSON(w, http.StatusOK, map[string]any{
		"owner": h.ledger.Owner(),
		"params": map[string]uint64{
			"price_scale":         params.PriceScale,
			"call_collateral_bps": params.CallCollateralBps,
			"put_collateral_bps":  params.PutCollateralBps,
		},
		"total_deposited": totals.Deposited,
		"total_paid_out":  totals.PaidOut,
		"next_option_id":  h.ledger.NextOptionID(),
		"height":          h.ledger.Height(),
		"state_digest":    digest.Hex(),
	})
}

// formatSats renders a satoshi amount as a decimal sBTC string.
func formatSats(sats uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(sats), -satsDecimals).StringFixed(satsDecimals)
}
