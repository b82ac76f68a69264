// Package service implements the backing service's REST and real-time
// endpoints on top of a storage.Store.
package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mmynk/receiptsync/internal/calculator"
	"github.com/mmynk/receiptsync/internal/models"
	"github.com/mmynk/receiptsync/internal/storage"
)

const maxBodyBytes = 1 << 20

// Hub receives change notifications and serves real-time connections.
// *realtime.Hub implements it.
type Hub interface {
	NotifyGroupChanged(groupID, action, receiptID, origin string)
	NotifyEntryUpdated(groupID, entryID, receiptID, origin string)
	ServeWS(w http.ResponseWriter, r *http.Request, groupID, clientID string)
}

// LedgerService serves groups, receipts and entries over HTTP.
type LedgerService struct {
	store  storage.Store
	hub    Hub
	engine calculator.Engine
	logger *slog.Logger
}

// NewLedgerService creates a new LedgerService with the given storage backend
// and real-time hub. engine prices the balances endpoint.
func NewLedgerService(store storage.Store, hub Hub, engine calculator.Engine, logger *slog.Logger) *LedgerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerService{
		store:  store,
		hub:    hub,
		engine: engine,
		logger: logger.With("component", "service"),
	}
}

// Register adds every route to mux.
func (s *LedgerService) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /groups/{$}", s.createGroup)
	mux.HandleFunc("GET /groups/{$}", s.listGroups)
	mux.HandleFunc("GET /groups/{id}", s.getGroup)
	mux.HandleFunc("PATCH /groups/{id}", s.updateGroup)
	mux.HandleFunc("DELETE /groups/{id}", s.deleteGroup)
	mux.HandleFunc("GET /groups/{id}/version", s.getVersion)
	mux.HandleFunc("GET /groups/{id}/balances", s.getBalances)

	mux.HandleFunc("POST /groups/{id}/receipts/{$}", s.createReceipt)
	mux.HandleFunc("GET /groups/{id}/receipts/{$}", s.listReceipts)
	mux.HandleFunc("GET /receipts/{id}", s.getReceipt)
	mux.HandleFunc("PATCH /receipts/{id}", s.updateReceipt)
	mux.HandleFunc("DELETE /receipts/{id}", s.deleteReceipt)

	mux.HandleFunc("POST /receipts/{id}/entries/{$}", s.createEntry)
	mux.HandleFunc("DELETE /receipts/{id}/entries/{entryID}", s.deleteEntry)
	mux.HandleFunc("PATCH /receipt-entries/{id}", s.updateEntry)

	mux.HandleFunc("POST /create-sample-data", s.createSampleData)

	mux.HandleFunc("GET /ws/groups/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.hub.ServeWS(w, r, r.PathValue("id"), r.URL.Query().Get("client_id"))
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeMutation writes a mutation result with the new group version.
func writeMutation(w http.ResponseWriter, status int, v models.Version, body any) {
	w.Header().Set(models.HeaderGroupVersion, string(v))
	if body == nil {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, body)
}

// fail maps a storage error to an HTTP status and writes it.
func (s *LedgerService) fail(w http.ResponseWriter, op string, err error, attrs ...any) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, storage.ErrInvalid):
		status = http.StatusBadRequest
	}

	attrs = append(attrs, "status", status, "error", err)
	if status == http.StatusInternalServerError {
		s.logger.Error(op+" failed", attrs...)
	} else {
		s.logger.Warn(op+" failed", attrs...)
	}
	writeJSON(w, status, models.ErrorBody{Error: err.Error()})
}

// decode reads a JSON body into v.
func decode(r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %v: %w", err, storage.ErrInvalid)
	}
	return nil
}

func origin(r *http.Request) string {
	return r.Header.Get(models.HeaderClientID)
}
