package service

import (
	"net/http"

	"github.com/mmynk/receiptsync/internal/models"
	"github.com/mmynk/receiptsync/internal/realtime"
)

// createGroup creates a new group.
func (s *LedgerService) createGroup(w http.ResponseWriter, r *http.Request) {
	var in models.NewGroup
	if err := decode(r, &in); err != nil {
		s.fail(w, "CreateGroup", err)
		return
	}
	s.logger.Info("CreateGroup request received", "name", in.Name, "people_count", len(in.People))

	group, err := s.store.CreateGroup(r.Context(), in)
	if err != nil {
		s.fail(w, "CreateGroup", err)
		return
	}

	s.logger.Info("Group created", "group_id", group.ID, "slug", group.Slug)
	writeMutation(w, http.StatusCreated, group.Version, group)
}

// listGroups retrieves all groups.
func (s *LedgerService) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.ListGroups(r.Context())
	if err != nil {
		s.fail(w, "ListGroups", err)
		return
	}
	s.logger.Debug("ListGroups successful", "count", len(groups))
	writeJSON(w, http.StatusOK, groups)
}

// getGroup retrieves a group with all receipts and entries.
func (s *LedgerService) getGroup(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")

	group, err := s.store.GetGroup(r.Context(), groupID)
	if err != nil {
		s.fail(w, "GetGroup", err, "group_id", groupID)
		return
	}
	s.logger.Debug("GetGroup successful", "group_id", group.ID, "version", group.Version)
	writeJSON(w, http.StatusOK, group)
}

// getVersion returns only the group's version, for cheap change polling.
func (s *LedgerService) getVersion(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")

	v, err := s.store.GroupVersion(r.Context(), groupID)
	if err != nil {
		s.fail(w, "GetVersion", err, "group_id", groupID)
		return
	}
	writeJSON(w, http.StatusOK, models.VersionInfo{Version: v})
}

// updateGroup applies a partial update to a group.
func (s *LedgerService) updateGroup(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")

	var patch models.GroupPatch
	if err := decode(r, &patch); err != nil {
		s.fail(w, "UpdateGroup", err, "group_id", groupID)
		return
	}
	s.logger.Info("UpdateGroup request received", "group_id", groupID)

	group, err := s.store.UpdateGroup(r.Context(), groupID, patch)
	if err != nil {
		s.fail(w, "UpdateGroup", err, "group_id", groupID)
		return
	}

	s.logger.Info("Group updated", "group_id", groupID, "version", group.Version)
	s.hub.NotifyGroupChanged(groupID, realtime.ActionGroupUpdated, "", origin(r))
	writeMutation(w, http.StatusOK, group.Version, group)
}

// deleteGroup removes a group and everything in it.
func (s *LedgerService) deleteGroup(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")

	if err := s.store.DeleteGroup(r.Context(), groupID); err != nil {
		s.fail(w, "DeleteGroup", err, "group_id", groupID)
		return
	}

	s.logger.Info("Group deleted", "group_id", groupID)
	s.hub.NotifyGroupChanged(groupID, realtime.ActionGroupUpdated, "", origin(r))
	w.WriteHeader(http.StatusNoContent)
}
