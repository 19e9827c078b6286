package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dashborion/dashborion/pkg/audit"
	"github.com/dashborion/dashborion/pkg/auth"
	"github.com/dashborion/dashborion/pkg/directory"
	"github.com/dashborion/dashborion/pkg/httputil"
	"github.com/dashborion/dashborion/pkg/middleware"
	"github.com/dashborion/dashborion/pkg/observability"
	"github.com/dashborion/dashborion/pkg/rbac"
)

type adminHandlers struct {
	auditStore AuditSearcher
	directory  GrantDirectory
	auditor    audit.Logger
	logger     *observability.Logger
}

func auditFilterFromQuery(r *http.Request) (audit.SearchFilter, error) {
	filter := audit.SearchFilter{
		Actor:   httputil.ParseQueryString(r, "actor", ""),
		Action:  audit.Action(httputil.ParseQueryString(r, "action", "")),
		Outcome: audit.Outcome(httputil.ParseQueryString(r, "outcome", "")),
		Target:  httputil.ParseQueryString(r, "target", ""),
		IP:      httputil.ParseQueryString(r, "ip", ""),
	}

	var err error
	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", 100); err != nil {
		return filter, err
	}
	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		return filter, err
	}

	if raw := r.URL.Query().Get("start"); raw != "" {
		start, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid start time: %s", raw)
		}
		filter.Start = &start
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		end, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid end time: %s", raw)
		}
		filter.End = &end
	}

	return filter, nil
}

// SearchAudit handles GET /admin/audit.
func (h *adminHandlers) SearchAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilterFromQuery(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	entries, err := h.auditStore.Search(r.Context(), filter)
	if err != nil {
		h.logger.WithError(err).Error("audit search failed")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// ExportAudit handles GET /admin/audit/export. The format query selects
// NDJSON (default) or CSV.
func (h *adminHandlers) ExportAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilterFromQuery(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	format := audit.ExportFormat(httputil.ParseQueryString(r, "format", string(audit.ExportFormatNDJSON)))
	switch format {
	case audit.ExportFormatNDJSON, audit.ExportFormatCSV:
	default:
		httputil.WriteBadRequest(w, fmt.Sprintf("unsupported format: %s", format))
		return
	}

	entries, err := h.auditStore.Search(r.Context(), filter)
	if err != nil {
		h.logger.WithError(err).Error("audit export failed")
		httputil.WriteInternalError(w, err)
		return
	}

	filename := "audit-" + time.Now().UTC().Format("20060102T150405Z") + "." + string(format)
	if format == audit.ExportFormatCSV {
		w.Header().Set("Content-Type", "text/csv")
	} else {
		w.Header().Set("Content-Type", "application/x-ndjson")
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	if err := audit.Export(w, entries, format); err != nil {
		h.logger.WithError(err).Error("audit export write failed")
	}
}

// ListGrants handles GET /admin/grants.
func (h *adminHandlers) ListGrants(w http.ResponseWriter, r *http.Request) {
	subject := httputil.ParseQueryString(r, "subject", "")

	grants, err := h.directory.ListGrants(r.Context(), subject)
	if err != nil {
		h.logger.WithError(err).Error("grant listing failed")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"grants": grants,
		"count":  len(grants),
	})
}

type grantRequest struct {
	SubjectType string   `json:"subject_type"`
	Subject     string   `json:"subject"`
	Project     string   `json:"project"`
	Environment string   `json:"environment"`
	Role        string   `json:"role"`
	Resources   []string `json:"resources,omitempty"`
}

// AddGrant handles POST /admin/grants.
func (h *adminHandlers) AddGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Subject, "subject") {
		return
	}

	subjectType := directory.SubjectType(req.SubjectType)
	if subjectType != directory.SubjectUser && subjectType != directory.SubjectGroup {
		httputil.WriteBadRequest(w, "subject_type must be user or group")
		return
	}

	role := rbac.Role(req.Role)
	if !role.Valid() {
		httputil.WriteBadRequest(w, fmt.Sprintf("invalid role %q", req.Role))
		return
	}

	project := req.Project
	if project == "" {
		project = rbac.Wildcard
	}
	environment := req.Environment
	if environment == "" {
		environment = rbac.Wildcard
	}

	actor := ""
	if ac := auth.FromContext(r.Context()); ac != nil {
		actor = ac.Email
	}

	grant := directory.Grant{
		SubjectType: subjectType,
		Subject:     req.Subject,
		Permission: rbac.Permission{
			Project:     project,
			Environment: environment,
			Role:        role,
			Resources:   req.Resources,
		},
		GrantedBy: actor,
	}

	if err := h.directory.AddGrant(r.Context(), grant); err != nil {
		h.logger.WithError(err).Error("grant insert failed")
		httputil.WriteInternalError(w, err)
		return
	}

	h.auditor.Log(r.Context(), audit.Entry{
		Actor:     actor,
		Action:    audit.ActionGrantChange,
		Outcome:   audit.OutcomeSuccess,
		Target:    req.Subject,
		Detail:    fmt.Sprintf("granted %s on %s/%s", role, project, environment),
		IP:        middleware.ClientIP(r),
		RequestID: observability.GetRequestID(r.Context()),
	})

	httputil.WriteCreated(w, grant)
}

// RemoveGrant handles DELETE /admin/grants/{id}.
func (h *adminHandlers) RemoveGrant(w http.ResponseWriter, r *http.Request) {
	idStr, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid grant id")
		return
	}

	if err := h.directory.RemoveGrant(r.Context(), id); err != nil {
		if errors.Is(err, directory.ErrGrantNotFound) {
			httputil.WriteNotFoundError(w, "grant not found")
			return
		}
		h.logger.WithError(err).Error("grant removal failed")
		httputil.WriteInternalError(w, err)
		return
	}

	actor := ""
	if ac := auth.FromContext(r.Context()); ac != nil {
		actor = ac.Email
	}
	h.auditor.Log(r.Context(), audit.Entry{
		Actor:     actor,
		Action:    audit.ActionGrantChange,
		Outcome:   audit.OutcomeSuccess,
		Detail:    fmt.Sprintf("removed grant %d", id),
		IP:        middleware.ClientIP(r),
		RequestID: observability.GetRequestID(r.Context()),
	})

	httputil.WriteNoContent(w)
}
