package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/AtoyanMikhail/sessionauth/internal/apperr"
	"github.com/AtoyanMikhail/sessionauth/internal/logger"
	"github.com/AtoyanMikhail/sessionauth/internal/repository/models"
	"github.com/AtoyanMikhail/sessionauth/internal/service"
)

const readyTimeout = 2 * time.Second

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	user, err := s.auth.Register(r.Context(), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	ip := clientIP(r)
	session, err := s.auth.Login(r.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Device: models.DeviceMeta{
			DeviceID:   req.DeviceID,
			DeviceName: req.DeviceName,
			IPAddress:  ip,
		},
		ClientKey: ip,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.setRefreshCookie(w, session.RefreshToken)
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: session.AccessToken,
		TokenType:   "bearer",
		User:        toUserResponse(session.User),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw := s.refreshCookie(r)
	if raw == "" {
		s.writeError(w, r, apperr.TokenInvalid("Missing refresh token"))
		return
	}

	session, err := s.auth.Refresh(r.Context(), raw, models.DeviceMeta{IPAddress: clientIP(r)})
	if err != nil {
		if isTokenFailure(err) {
			s.clearRefreshCookie(w)
		}
		s.writeError(w, r, err)
		return
	}

	s.setRefreshCookie(w, session.RefreshToken)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: session.AccessToken,
		TokenType:   "bearer",
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	raw := s.refreshCookie(r)
	if raw == "" {
		s.writeError(w, r, apperr.TokenInvalid("Missing refresh token"))
		return
	}

	if err := s.auth.Logout(r.Context(), raw); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	n, err := s.auth.LogoutAll(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, logoutAllResponse{RevokedSessions: n})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toUserResponse(userFrom(r.Context())))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	views, err := s.auth.ListSessions(r.Context(), user.ID, s.refreshCookie(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponses(views))
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	user := userFrom(r.Context())
	if err := s.auth.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// handleReady pings every dependency concurrently and answers 503 if any fails.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]string, len(s.opts.Checks))
		failed bool
	)
	for name, p := range s.opts.Checks {
		wg.Add(1)
		go func(name string, p Pinger) {
			defer wg.Done()
			err := p.Ping(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = true
				checks[name] = "unavailable"
				s.l.Warn("Readiness check failed", logger.String("check", name), logger.Error(err))
				return
			}
			checks[name] = "ok"
		}(name, p)
	}
	wg.Wait()

	if failed {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Checks: checks})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Checks: checks})
}

func isTokenFailure(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindTokenInvalid, apperr.KindTokenRevoked, apperr.KindTokenExpired:
		return true
	}
	return false
}
