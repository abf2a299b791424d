package pointxgo

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type amountJSONReq struct {
	Amount *decimal.Decimal `json:"amount"`
}

type errJSONResp struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewHTTPHandler mounts the point API. node generates the request IDs that
// tag every request's log lines.
func NewHTTPHandler(svc Service, logger *zerolog.Logger, node *snowflake.Node) http.Handler {
	hndlr := &httpHandler{
		Svc: svc,
	}
	mux := chi.NewMux()
	mux.Use(middleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		ExposedHeaders: []string{"X-Request-Id"},
	}))
	mux.Use(requestLogger(logger, node))
	mux.NotFound(HTTPNotFound)
	mux.Route("/points", func(r chi.Router) {
		r.Route("/{userID:[0-9]+}", func(rr chi.Router) {
			rr.Get("/", hndlr.Balance)
			rr.Get("/histories", hndlr.History)
			rr.Get("/statement", hndlr.Statement)
			rr.Patch("/charge", hndlr.Charge)
			rr.Patch("/use", hndlr.Use)
		})
	})

	return mux
}

// requestLogger attaches a child logger carrying a fresh request ID to the
// request context.
func requestLogger(base *zerolog.Logger, node *snowflake.Node) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := node.Generate().String()
			l := base.With().Str("req_id", id).Logger()
			w.Header().Set("X-Request-Id", id)
			next.ServeHTTP(w, r.WithContext(l.WithContext(r.Context())))
		})
	}
}

type httpHandler struct {
	Svc Service
}

func (h *httpHandler) Charge(w http.ResponseWriter, r *http.Request) {
	req, err := h.chargeReq(r, "charge")
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	acct, err := h.Svc.Charge(r.Context(), req)
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	writeJSON(w, acct)
}

func (h *httpHandler) Use(w http.ResponseWriter, r *http.Request) {
	req, err := h.chargeReq(r, "use")
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	acct, err := h.Svc.Debit(r.Context(), req)
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	writeJSON(w, acct)
}

func (h *httpHandler) Balance(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r, "balance")
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	acct, err := h.Svc.Balance(r.Context(), BalanceReq{UserID: userID})
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	writeJSON(w, acct)
}

func (h *httpHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r, "history")
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	txs, err := h.Svc.History(r.Context(), HistoryReq{UserID: userID})
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	writeJSON(w, txs)
}

func (h *httpHandler) Statement(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r, "statement")
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	buf := new(bytes.Buffer)
	if err = h.Svc.Statement(r.Context(), buf, StatementReq{UserID: userID}); err != nil {
		zerolog.Ctx(r.Context()).Err(err).Str("method", "statement").Msg("error rendering statement")
		WriteHTTPError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	if _, err = buf.WriteTo(w); err != nil {
		zerolog.Ctx(r.Context()).Err(err).Str("method", "statement").Msg("error writing statement")
	}
}

func (h *httpHandler) userID(r *http.Request, method string) (int64, error) {
	pid := chi.URLParam(r, "userID")
	userID, err := strconv.ParseInt(pid, 10, 64)
	if err != nil {
		zerolog.Ctx(r.Context()).Err(err).Str("method", method).Msg("error parsing user ID")
		return 0, ErrBadRequest{Fields: map[string]string{"userID": "invalid format"}}
	}
	return userID, nil
}

func (h *httpHandler) chargeReq(r *http.Request, method string) (ChargeReq, error) {
	var req ChargeReq
	userID, err := h.userID(r, method)
	if err != nil {
		return req, err
	}
	buf, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		zerolog.Ctx(r.Context()).Err(err).Str("method", method).Msg("error reading HTTP request")
		return req, ErrInternalServer
	}
	var body amountJSONReq
	if err = json.Unmarshal(buf, &body); err != nil {
		zerolog.Ctx(r.Context()).Err(err).Str("method", method).Msg("error unmarshalling JSON")
		return req, ErrBadRequest{Fields: map[string]string{"request body": "malformed JSON"}}
	}
	if body.Amount == nil {
		return req, ErrBadRequest{Fields: map[string]string{"amount": "required"}}
	}
	amount, err := parseAmount(*body.Amount)
	if err != nil {
		return req, err
	}
	req.UserID = userID
	req.Amount = amount
	return req, nil
}

// parseAmount accepts only whole, non-negative amounts that fit an int64.
func parseAmount(d decimal.Decimal) (int64, error) {
	switch {
	case !d.IsInteger():
		return 0, &InvalidAmountError{Amount: d.String(), Reason: "must be a whole number"}
	case d.IsNegative():
		return 0, &InvalidAmountError{Amount: d.String(), Reason: "must not be negative"}
	case !d.BigInt().IsInt64():
		return 0, &InvalidAmountError{Amount: d.String(), Reason: "out of range"}
	}
	return d.IntPart(), nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("response encoding failed")
	}
}

func WriteHTTPError(w http.ResponseWriter, err error) {
	var ne error
	defer func() {
		if ne != nil {
			log.Error().
				Err(ne).
				Msg("error response encoding failed")
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	errbr := &ErrBadRequest{}
	errinv := &InvalidAmountError{}
	errins := &InsufficientBalanceError{}
	errovf := &OverflowError{}
	switch {
	case errors.As(err, errbr):
		w.WriteHeader(http.StatusBadRequest)
		ne = json.NewEncoder(w).Encode(errbr)
	case errors.As(err, &errinv):
		w.WriteHeader(http.StatusBadRequest)
		ne = json.NewEncoder(w).Encode(errJSONResp{Error: "invalid_amount", Message: errinv.Error()})
	case errors.As(err, &errins):
		w.WriteHeader(http.StatusUnprocessableEntity)
		ne = json.NewEncoder(w).Encode(errJSONResp{Error: "insufficient_balance", Message: errins.Error()})
	case errors.As(err, &errovf):
		w.WriteHeader(http.StatusUnprocessableEntity)
		ne = json.NewEncoder(w).Encode(errJSONResp{Error: "balance_overflow", Message: errovf.Error()})
	case errors.Is(err, ErrServiceBusy):
		w.WriteHeader(http.StatusServiceUnavailable)
		ne = json.NewEncoder(w).Encode(errJSONResp{Error: "busy", Message: "service busy, retry later"})
	default:
		w.WriteHeader(http.StatusInternalServerError)
		resp := map[string]string{
			"message": "server error",
		}
		ne = json.NewEncoder(w).Encode(resp)
	}
}

func HTTPNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	resp := map[string]string{
		"path": r.URL.Path,
	}
	json.NewEncoder(w).Encode(resp)
}
