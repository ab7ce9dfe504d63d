// Package httpapi provides the REST HTTP adapter for the lifecycle engine.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/hylla/boardflow/internal/app"
	"github.com/hylla/boardflow/internal/domain"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	service *app.Service
	// subdomain is the tenant discriminator forwarded on remote calls when
	// the request does not carry an X-Subdomain header.
	subdomain string
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewHandler constructs the HTTP API adapter around the lifecycle service.
func NewHandler(service *app.Service, subdomain string) *Handler {
	return &Handler{service: service, subdomain: subdomain}
}

// actor carries the caller identity sent on every mutation.
type actor struct {
	UserID        string `json:"userId"`
	UserFullName  string `json:"userFullName,omitempty"`
	UserShortName string `json:"userShortName,omitempty"`
}

func (a actor) user() domain.User {
	return domain.User{ID: a.UserID, FullName: a.UserFullName, ShortName: a.UserShortName}
}

// ServeHTTP routes one versioned API request to the matching handler.
//
// The layout is /items/{kind}/{op} for mutations and /items/{kind}/{id}
// plus /stages/{kind}/{stageId}/... for reads.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path)
	switch {
	case len(parts) == 3 && parts[0] == "items" && isMutation(parts[2]):
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleMutation(w, r, domain.Kind(parts[1]), parts[2])
	case len(parts) == 3 && parts[0] == "items":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleGetItem(w, r, domain.Kind(parts[1]), parts[2])
	case len(parts) == 4 && parts[0] == "items" && parts[3] == "activity":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleItemActivity(w, r, domain.Kind(parts[1]), parts[2])
	case len(parts) == 4 && parts[0] == "stages" && parts[3] == "items":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleStageItems(w, r, domain.Kind(parts[1]), parts[2])
	default:
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: "endpoint not found",
		})
	}
}

// isMutation reports whether the path segment names a lifecycle operation.
func isMutation(op string) bool {
	switch op {
	case "add", "edit", "change", "remove", "copy", "archive":
		return true
	}
	return false
}

func (h *Handler) handleMutation(w http.ResponseWriter, r *http.Request, kind domain.Kind, op string) {
	subdomain := h.requestSubdomain(r)
	switch op {
	case "add":
		h.handleAdd(w, r, kind, subdomain)
	case "edit":
		h.handleEdit(w, r, kind, subdomain)
	case "change":
		h.handleChange(w, r, kind, subdomain)
	case "remove":
		h.handleRemove(w, r, kind, subdomain)
	case "copy":
		h.handleCopy(w, r, kind, subdomain)
	case "archive":
		h.handleArchive(w, r, kind, subdomain)
	}
}

type addRequest struct {
	actor
	ProcessID             string                          `json:"proccessId"`
	StageID               string                          `json:"stageId"`
	Name                  string                          `json:"name"`
	AboveItemID           string                          `json:"aboveItemId,omitempty"`
	AssignedUserIDs       []string                        `json:"assignedUserIds,omitempty"`
	LabelIDs              []string                        `json:"labelIds,omitempty"`
	TagIDs                []string                        `json:"tagIds,omitempty"`
	BranchIDs             []string                        `json:"branchIds,omitempty"`
	DepartmentIDs         []string                        `json:"departmentIds,omitempty"`
	CustomFieldsData      []domain.CustomFieldValue       `json:"customFieldsData,omitempty"`
	ProductsData          []domain.ProductData            `json:"productsData,omitempty"`
	PaymentsData          map[string]domain.PaymentEntry  `json:"paymentsData,omitempty"`
	SourceConversationIDs []string                        `json:"sourceConversationIds,omitempty"`
	ExtraData             map[string]any                  `json:"extraData,omitempty"`
	CustomerIDs           []string                        `json:"customerIds,omitempty"`
	CompanyIDs            []string                        `json:"companyIds,omitempty"`
}

func (h *Handler) handleAdd(w http.ResponseWriter, r *http.Request, kind domain.Kind, subdomain string) {
	var req addRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, APIError{Code: "bad_request", Message: err.Error()})
		return
	}
	item, err := h.service.ItemsAdd(r.Context(), app.AddItemInput{
		Kind:                  kind,
		Subdomain:             subdomain,
		ProcessID:             req.ProcessID,
		Actor:                 req.user(),
		StageID:               req.StageID,
		Name:                  req.Name,
		AboveItemID:           req.AboveItemID,
		AssignedUserIDs:       req.AssignedUserIDs,
		LabelIDs:              req.LabelIDs,
		TagIDs:                req.TagIDs,
		BranchIDs:             req.BranchIDs,
		DepartmentIDs:         req.DepartmentIDs,
		CustomFieldsData:      req.CustomFieldsData,
		ProductsData:          req.ProductsData,
		PaymentsData:          req.PaymentsData,
		SourceConversationIDs: req.SourceConversationIDs,
		ExtraData:             req.ExtraData,
		CustomerIDs:           req.CustomerIDs,
		CompanyIDs:            req.CompanyIDs,
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

type editRequest struct {
	actor
	ProcessID        string                          `json:"proccessId"`
	ItemID           string                          `json:"itemId"`
	Name             *string                         `json:"name,omitempty"`
	StageID          *string                         `json:"stageId,omitempty"`
	Status           *domain.Status                  `json:"status,omitempty"`
	AssignedUserIDs  *[]string                       `json:"assignedUserIds,omitempty"`
	LabelIDs         *[]string                       `json:"labelIds,omitempty"`
	TagIDs           *[]string                       `json:"tagIds,omitempty"`
	CustomFieldsData *[]domain.CustomFieldValue      `json:"customFieldsData,omitempty"`
	ProductsData     *[]domain.ProductData           `json:"productsData,omitempty"`
	PaymentsData     *map[string]domain.PaymentEntry `json:"paymentsData,omitempty"`
}

func (h *Handler) handleEdit(w http.ResponseWriter, r *http.Request, kind domain.Kind, subdomain string) {
	var req editRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, APIError{Code: "bad_request", Message: err.Error()})
		return
	}
	item, err := h.service.ItemsEdit(r.Context(), app.EditItemInput{
		Kind:             kind,
		Subdomain:        subdomain,
		ProcessID:        req.ProcessID,
		Actor:            req.user(),
		ItemID:           req.ItemID,
		Name:             req.Name,
		StageID:          req.StageID,
		Status:           req.Status,
		AssignedUserIDs:  req.AssignedUserIDs,
		LabelIDs:         req.LabelIDs,
		TagIDs:           req.TagIDs,
		CustomFieldsData: req.CustomFieldsData,
		ProductsData:     req.ProductsData,
		PaymentsData:     req.PaymentsData,
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type changeRequest struct {
	actor
	ProcessID          string `json:"proccessId"`
	ItemID             string `json:"itemId"`
	AboveItemID        string `json:"aboveItemId,omitempty"`
	DestinationStageID string `json:"destinationStageId"`
	SourceStageID      string `json:"sourceStageId,omitempty"`
}

func (h *Handler) handleChange(w http.ResponseWriter, r *http.Request, kind domain.Kind, subdomain string) {
	var req changeRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, APIError{Code: "bad_request", Message: err.Error()})
		return
	}
	item, err := h.service.ItemsChange(r.Context(), app.MoveItemInput{
		Kind:               kind,
		Subdomain:          subdomain,
		ProcessID:          req.ProcessID,
		Actor:              req.user(),
		ItemID:             req.ItemID,
		AboveItemID:        req.AboveItemID,
		DestinationStageID: req.DestinationStageID,
		SourceStageID:      req.SourceStageID,
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type removeRequest struct {
	actor
	ItemID string `json:"itemId"`
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request, kind domain.Kind, subdomain string) {
	var req removeRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, APIError{Code: "bad_request", Message: err.Error()})
		return
	}
	item, err := h.service.ItemsRemove(r.Context(), app.RemoveItemInput{
		Kind:      kind,
		Subdomain: subdomain,
		Actor:     req.user(),
		ItemID:    req.ItemID,
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type copyRequest struct {
	actor
	ProcessID string `json:"proccessId"`
	ItemID    string `json:"itemId"`
}

func (h *Handler) handleCopy(w http.ResponseWriter, r *http.Request, kind domain.Kind, subdomain string) {
	var req copyRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, APIError{Code: "bad_request", Message: err.Error()})
		return
	}
	item, err := h.service.ItemsCopy(r.Context(), app.CopyItemInput{
		Kind:      kind,
		Subdomain: subdomain,
		ProcessID: req.ProcessID,
		Actor:     req.user(),
		ItemID:    req.ItemID,
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

type archiveRequest struct {
	actor
	ProcessID string `json:"proccessId"`
	StageID   string `json:"stageId"`
}

func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request, kind domain.Kind, subdomain string) {
	var req archiveRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, APIError{Code: "bad_request", Message: err.Error()})
		return
	}
	archived, err := h.service.ItemsArchive(r.Context(), app.ArchiveStageInput{
		Kind:      kind,
		Subdomain: subdomain,
		ProcessID: req.ProcessID,
		Actor:     req.user(),
		StageID:   req.StageID,
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"archived": archived})
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request, kind domain.Kind, id string) {
	item, err := h.service.GetItem(r.Context(), kind, id)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) handleItemActivity(w http.ResponseWriter, r *http.Request, kind domain.Kind, id string) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.service.ListItemActivity(r.Context(), kind, id, limit)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleStageItems(w http.ResponseWriter, r *http.Request, kind domain.Kind, stageID string) {
	includeArchived := r.URL.Query().Get("includeArchived") == "true"
	items, err := h.service.ListStageItems(r.Context(), kind, stageID, includeArchived)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// requestSubdomain prefers the per-request tenant header.
func (h *Handler) requestSubdomain(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-Subdomain")); v != "" {
		return v
	}
	return h.subdomain
}

// splitPath normalizes and splits the request path.
func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// writeErrorFrom maps engine errors onto HTTP statuses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		writeJSONError(w, http.StatusForbidden, APIError{
			Code:    "permission_denied",
			Message: err.Error(),
		})
	case errors.Is(err, app.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: err.Error(),
		})
	case errors.Is(err, app.ErrScoreShortage):
		writeJSONError(w, http.StatusUnprocessableEntity, APIError{
			Code:    "precondition_failed",
			Message: err.Error(),
		})
	case errors.Is(err, app.ErrUnknownKind),
		errors.Is(err, app.ErrMissingStage),
		errors.Is(err, app.ErrMissingItem),
		errors.Is(err, app.ErrMissingProcess):
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    "bad_request",
			Message: err.Error(),
		})
	default:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: err.Error(),
		})
	}
}

// writeMethodNotAllowed writes a structured 405 response with `Allow` headers.
func writeMethodNotAllowed(w http.ResponseWriter, methods ...string) {
	if len(methods) > 0 {
		w.Header().Set("Allow", strings.Join(methods, ", "))
	}
	writeJSONError(w, http.StatusMethodNotAllowed, APIError{
		Code:    "method_not_allowed",
		Message: "method not allowed",
	})
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}

// decodeJSONBody decodes one required JSON request body with strict shape checks.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	// Reject trailing payloads so malformed JSON bodies fail closed.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("decode request body: trailing content")
	}
	return nil
}
