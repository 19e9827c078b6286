package deviceflow

import (
	"errors"
	"net/http"

	"github.com/dashborion/dashborion/pkg/audit"
	"github.com/dashborion/dashborion/pkg/auth"
	"github.com/dashborion/dashborion/pkg/autherr"
	"github.com/dashborion/dashborion/pkg/httputil"
)

const deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// Handlers exposes the device-flow HTTP surface: the unauthenticated code
// and token endpoints used by the CLI, and the authenticated verify
// endpoint used by the browser.
type Handlers struct {
	coordinator *Coordinator
	auditor     audit.Logger
}

func NewHandlers(coordinator *Coordinator, auditor audit.Logger) *Handlers {
	return &Handlers{coordinator: coordinator, auditor: auditor}
}

// RequestCode handles POST /auth/device/code.
func (h *Handlers) RequestCode(w http.ResponseWriter, r *http.Request) {
	authz, err := h.coordinator.RequestCode(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	h.auditor.Log(r.Context(), audit.Entry{
		Action:  audit.ActionDeviceStart,
		Outcome: audit.OutcomeSuccess,
		Target:  authz.UserCode,
	})
	httputil.WriteJSON(w, http.StatusOK, authz)
}

type verifyRequest struct {
	UserCode string `json:"user_code"`
	Approve  bool   `json:"approve"`
}

// Verify handles POST /auth/device/verify. The router guards it with
// session authentication; a missing identity here is a server wiring bug,
// not a client error.
func (h *Handlers) Verify(w http.ResponseWriter, r *http.Request) {
	ac := auth.FromContext(r.Context())
	if ac == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req verifyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	var err error
	if req.Approve {
		err = h.coordinator.Verify(r.Context(), req.UserCode, ac)
	} else {
		err = h.coordinator.Deny(r.Context(), req.UserCode)
	}
	if err != nil {
		h.auditor.Log(r.Context(), audit.Entry{
			Actor:   ac.Email,
			Action:  audit.ActionDeviceVerify,
			Outcome: audit.OutcomeFailure,
			Target:  req.UserCode,
		})
		if errors.Is(err, autherr.ErrDeviceCodeInvalid) {
			httputil.WriteNotFoundError(w, "unknown or expired code")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	outcome := audit.OutcomeSuccess
	detail := "approved"
	if !req.Approve {
		outcome = audit.OutcomeDenied
		detail = "denied by user"
	}
	h.auditor.Log(r.Context(), audit.Entry{
		Actor:   ac.Email,
		Action:  audit.ActionDeviceVerify,
		Outcome: outcome,
		Target:  req.UserCode,
		Detail:  detail,
	})
	httputil.WriteSuccessMessage(w, detail, nil)
}

type tokenError struct {
	Error string `json:"error"`
}

// Token handles POST /auth/device/token, the RFC 8628 polling endpoint.
// Errors use the OAuth wire vocabulary so stock clients interoperate.
func (h *Handlers) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, tokenError{Error: "invalid_request"})
		return
	}
	if r.FormValue("grant_type") != deviceGrantType {
		httputil.WriteJSON(w, http.StatusBadRequest, tokenError{Error: "unsupported_grant_type"})
		return
	}
	deviceCode := r.FormValue("device_code")
	if deviceCode == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, tokenError{Error: "invalid_request"})
		return
	}

	pair, err := h.coordinator.Poll(r.Context(), deviceCode)
	switch {
	case err == nil:
		h.auditor.Log(r.Context(), audit.Entry{
			Action:  audit.ActionDeviceIssue,
			Outcome: audit.OutcomeSuccess,
		})
		httputil.WriteJSON(w, http.StatusOK, pair)

	case errors.Is(err, ErrAuthorizationPending):
		httputil.WriteJSON(w, http.StatusBadRequest, tokenError{Error: "authorization_pending"})

	case errors.Is(err, autherr.ErrRateLimited):
		httputil.WriteJSON(w, http.StatusBadRequest, tokenError{Error: "slow_down"})

	case errors.Is(err, autherr.ErrDeviceCodeInvalid):
		httputil.WriteJSON(w, http.StatusBadRequest, tokenError{Error: "expired_token"})

	case autherr.IsDenial(err):
		httputil.WriteJSON(w, http.StatusBadRequest, tokenError{Error: "access_denied"})

	default:
		httputil.WriteInternalError(w, err)
	}
}
