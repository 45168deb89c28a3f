package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	apperrors "github.com/referral-dashboard/internal/errors"
	"github.com/referral-dashboard/internal/ratelimit"
	"github.com/referral-dashboard/internal/referral"
	"github.com/referral-dashboard/internal/types"
)

// RegisterRequest is the body of POST /api/register. Either field may carry
// the referral: a bare code or a shared link containing one.
type RegisterRequest struct {
	ReferralCode string `json:"referralCode,omitempty"`
	ReferralLink string `json:"referralLink,omitempty"`
}

// RegistrationStatus is the response of GET /api/registration
type RegistrationStatus struct {
	Account    string `json:"account"`
	Registered bool   `json:"registered"`
}

// ReferrerResponse is the response of GET /api/referrals/resolve
type ReferrerResponse struct {
	Code       string         `json:"code"`
	ReferrerID string         `json:"referrerId"`
	Referrer   common.Address `json:"referrer"`
}

// NoticesResponse is the response of GET /api/notices
type NoticesResponse struct {
	Notices []types.Notice `json:"notices"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.sessions.Session())
}

// handleConnect connects through the discovered wallet provider
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Connect(r.Context(), nil); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s.sessions.Session())
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Logout(r.Context()); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s.sessions.Session())
}

func (s *Server) handleSwitchNetwork(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.SwitchNetwork(r.Context()); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s.sessions.Session())
}

func (s *Server) handleNotices(w http.ResponseWriter, r *http.Request) {
	notices := []types.Notice{}
	if s.notices != nil {
		notices = append(notices, s.notices.Drain()...)
	}
	respondJSON(w, http.StatusOK, NoticesResponse{Notices: notices})
}

// handleRateLimit reports the caller's standing with the rate limiter. The
// request itself has already been charged.
func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	reporter, ok := s.limiter.(ratelimit.Reporter)
	if !ok {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "Rate limiting is disabled", nil)
		return
	}
	usage, err := reporter.Usage(r.Context(), clientKey(r))
	if err != nil {
		respondServiceError(w, r, apperrors.NewInternalError("failed to read rate limit usage", err))
		return
	}
	respondJSON(w, http.StatusOK, usage)
}

// handleDashboard fetches a fresh snapshot. Partial failures are reported per
// source inside a 200 response.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	result, err := s.sessions.Refresh(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleRegistration(w http.ResponseWriter, r *http.Request) {
	registered, err := s.sessions.IsRegistered(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, RegistrationStatus{
		Account:    s.sessions.Session().Account,
		Registered: registered,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := parseJSONBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	code, err := referralCode(req.ReferralCode, req.ReferralLink)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	registration, err := s.sessions.Register(r.Context(), code)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, registration)
}

func (s *Server) handleResolveReferrer(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	code, err := referralCode(query.Get("code"), query.Get("link"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	id, referrer, err := s.sessions.ResolveReferrer(r.Context(), code)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ReferrerResponse{
		Code:       code,
		ReferrerID: id.String(),
		Referrer:   referrer,
	})
}

// referralCode picks the explicit code, falling back to the one in link.
// Validation of the code itself happens in the session.
func referralCode(code, link string) (string, error) {
	if code = strings.TrimSpace(code); code != "" {
		return referral.Sanitize(code), nil
	}
	parsed, _, err := referral.ParseLink(link)
	return parsed, err
}
