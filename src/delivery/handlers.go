package delivery

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/GraphTxn/src"
	"github.com/Blackdeer1524/GraphTxn/src/locking"
	"github.com/Blackdeer1524/GraphTxn/src/transactions"
)

type LockInspector interface {
	Accept(visitor locking.LockVisitor)
}

type TransactionRegistry interface {
	List() []*transactions.Transaction
	Interrupt(id string) error
}

// AdminHandler serves the read-mostly diagnostic endpoints.
type AdminHandler struct {
	Locks        LockInspector
	Transactions TransactionRegistry
	Logger       src.Logger
}

func (h *AdminHandler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/locks", h.GetLocks)
	mux.HandleFunc("GET /admin/transactions", h.GetTransactions)
	mux.HandleFunc("POST /admin/transactions/{id}/interrupt", h.InterruptTransaction)

	return mux
}

func (h *AdminHandler) GetLocks(w http.ResponseWriter, _ *http.Request) {
	var infos []locking.LockInfo
	h.Locks.Accept(func(info locking.LockInfo) {
		infos = append(infos, info)
	})

	h.write(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, info := range infos {
			encodeLock(e, info)
		}
		e.ArrEnd()
	})
}

func (h *AdminHandler) GetTransactions(w http.ResponseWriter, _ *http.Request) {
	txs := h.Transactions.List()

	h.write(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, t := range txs {
			encodeTransaction(e, t)
		}
		e.ArrEnd()
	})
}

func (h *AdminHandler) InterruptTransaction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	err := h.Transactions.Interrupt(id)
	switch {
	case errors.Is(err, transactions.ErrTransactionNotFound):
		h.write(w, http.StatusNotFound, func(e *jx.Encoder) {
			encodeError(e, "NOT_FOUND", "transaction "+id+" not found")
		})
		return
	case err != nil:
		h.Logger.Errorw("internal server error", zap.Error(err))
		h.write(w, http.StatusInternalServerError, func(e *jx.Encoder) {
			encodeError(e, "INTERNAL_SERVER_ERROR", "Internal Server Error")
		})
		return
	}

	h.Logger.Infow("transaction interrupted by admin", zap.String("txn_id", id))
	h.write(w, http.StatusAccepted, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(id)
		e.FieldStart("interrupted")
		e.Bool(true)
		e.ObjEnd()
	})
}

func (h *AdminHandler) write(w http.ResponseWriter, status int, body func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	body(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(e.Bytes()); err != nil {
		h.Logger.Errorw("failed to write response", zap.Error(err))
	}
}
