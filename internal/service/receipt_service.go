package service

import (
	"net/http"

	"github.com/mmynk/receiptsync/internal/models"
	"github.com/mmynk/receiptsync/internal/realtime"
)

// createReceipt adds a receipt to a group.
func (s *LedgerService) createReceipt(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")

	var in models.NewReceipt
	if err := decode(r, &in); err != nil {
		s.fail(w, "CreateReceipt", err, "group_id", groupID)
		return
	}
	s.logger.Info("CreateReceipt request received",
		"group_id", groupID,
		"name", in.Name,
		"entries_count", len(in.Entries),
	)

	receipt, v, err := s.store.CreateReceipt(r.Context(), groupID, in)
	if err != nil {
		s.fail(w, "CreateReceipt", err, "group_id", groupID)
		return
	}

	s.logger.Info("Receipt created", "group_id", groupID, "receipt_id", receipt.ID, "version", v)
	s.hub.NotifyGroupChanged(groupID, realtime.ActionReceiptCreated, receipt.ID, origin(r))
	writeMutation(w, http.StatusCreated, v, receipt)
}

// listReceipts returns a group's receipts.
func (s *LedgerService) listReceipts(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")

	receipts, err := s.store.ListReceipts(r.Context(), groupID)
	if err != nil {
		s.fail(w, "ListReceipts", err, "group_id", groupID)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

// getReceipt retrieves one receipt with its entries.
func (s *LedgerService) getReceipt(w http.ResponseWriter, r *http.Request) {
	receiptID := r.PathValue("id")

	receipt, err := s.store.GetReceipt(r.Context(), receiptID)
	if err != nil {
		s.fail(w, "GetReceipt", err, "receipt_id", receiptID)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// updateReceipt applies a partial update to a receipt.
func (s *LedgerService) updateReceipt(w http.ResponseWriter, r *http.Request) {
	receiptID := r.PathValue("id")

	var patch models.ReceiptPatch
	if err := decode(r, &patch); err != nil {
		s.fail(w, "UpdateReceipt", err, "receipt_id", receiptID)
		return
	}
	s.logger.Info("UpdateReceipt request received", "receipt_id", receiptID)

	receipt, v, err := s.store.UpdateReceipt(r.Context(), receiptID, patch)
	if err != nil {
		s.fail(w, "UpdateReceipt", err, "receipt_id", receiptID)
		return
	}

	s.logger.Info("Receipt updated", "group_id", receipt.GroupID, "receipt_id", receiptID, "version", v)
	s.hub.NotifyGroupChanged(receipt.GroupID, realtime.ActionReceiptUpdated, receiptID, origin(r))
	writeMutation(w, http.StatusOK, v, receipt)
}

// deleteReceipt removes a receipt and its entries.
func (s *LedgerService) deleteReceipt(w http.ResponseWriter, r *http.Request) {
	receiptID := r.PathValue("id")

	groupID, v, err := s.store.DeleteReceipt(r.Context(), receiptID)
	if err != nil {
		s.fail(w, "DeleteReceipt", err, "receipt_id", receiptID)
		return
	}

	s.logger.Info("Receipt deleted", "group_id", groupID, "receipt_id", receiptID, "version", v)
	s.hub.NotifyGroupChanged(groupID, realtime.ActionReceiptDeleted, receiptID, origin(r))
	writeMutation(w, http.StatusNoContent, v, nil)
}

// createEntry appends an entry to a receipt.
func (s *LedgerService) createEntry(w http.ResponseWriter, r *http.Request) {
	receiptID := r.PathValue("id")

	var in models.NewEntry
	if err := decode(r, &in); err != nil {
		s.fail(w, "CreateEntry", err, "receipt_id", receiptID)
		return
	}

	entry, v, err := s.store.CreateEntry(r.Context(), receiptID, in)
	if err != nil {
		s.fail(w, "CreateEntry", err, "receipt_id", receiptID)
		return
	}
	groupID, err := s.store.GroupOf(r.Context(), receiptID)
	if err != nil {
		s.fail(w, "CreateEntry", err, "receipt_id", receiptID)
		return
	}

	s.logger.Info("Entry created", "receipt_id", receiptID, "entry_id", entry.ID, "version", v)
	s.hub.NotifyGroupChanged(groupID, realtime.ActionEntryCreated, receiptID, origin(r))
	writeMutation(w, http.StatusCreated, v, entry)
}

// updateEntry applies a partial update to an entry. Other clients hear about
// it immediately through entry_updated.
func (s *LedgerService) updateEntry(w http.ResponseWriter, r *http.Request) {
	entryID := r.PathValue("id")

	var patch models.EntryPatch
	if err := decode(r, &patch); err != nil {
		s.fail(w, "UpdateEntry", err, "entry_id", entryID)
		return
	}
	s.logger.Info("UpdateEntry request received", "entry_id", entryID)

	entry, v, err := s.store.UpdateEntry(r.Context(), entryID, patch)
	if err != nil {
		s.fail(w, "UpdateEntry", err, "entry_id", entryID)
		return
	}
	groupID, err := s.store.GroupOf(r.Context(), entry.ReceiptID)
	if err != nil {
		s.fail(w, "UpdateEntry", err, "entry_id", entryID)
		return
	}

	s.logger.Info("Entry updated", "receipt_id", entry.ReceiptID, "entry_id", entryID, "version", v)
	s.hub.NotifyEntryUpdated(groupID, entryID, entry.ReceiptID, origin(r))
	writeMutation(w, http.StatusOK, v, entry)
}

// deleteEntry removes an entry from its receipt.
func (s *LedgerService) deleteEntry(w http.ResponseWriter, r *http.Request) {
	receiptID, entryID := r.PathValue("id"), r.PathValue("entryID")

	groupID, err := s.store.GroupOf(r.Context(), receiptID)
	if err != nil {
		s.fail(w, "DeleteEntry", err, "receipt_id", receiptID)
		return
	}
	v, err := s.store.DeleteEntry(r.Context(), receiptID, entryID)
	if err != nil {
		s.fail(w, "DeleteEntry", err, "receipt_id", receiptID, "entry_id", entryID)
		return
	}

	s.logger.Info("Entry deleted", "receipt_id", receiptID, "entry_id", entryID, "version", v)
	s.hub.NotifyGroupChanged(groupID, realtime.ActionEntryDeleted, receiptID, origin(r))
	writeMutation(w, http.StatusNoContent, v, nil)
}
