package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"folio/pkg/domain"
	"folio/services/site/internal/app"
)

// Client-supplied user ids are not part of the request: identity comes only
// from the session cookie.
type progressRequest struct {
	ChapterID      *string         `json:"chapterId"`
	ScrollPosition *float64        `json:"scrollPosition"`
	TimeSpent      *float64        `json:"timeSpent"`
	IsCompleted    *bool           `json:"isCompleted"`
	Bookmarks      json.RawMessage `json:"bookmarks"`
	Notes          json.RawMessage `json:"notes"`
}

type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

type loginRequest struct {
	Password string `json:"password"`
}

// progress

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	ebookID := r.PathValue("ebookId")
	switch r.Method {
	case http.MethodGet:
		session := s.guestSession(w, r)
		progress, err := s.app.GetProgress(r.Context(), session, ebookID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"progress": progress})
	case http.MethodPost:
		if !s.allowRate(w, r, "progress.write", s.progressLimit, progressWindow, "too many requests") {
			return
		}
		var req progressRequest
		if err := decodeJSON(r, &req); err != nil {
			s.metrics.ProgressWrite("invalid")
			s.writeAppError(w, r, err)
			return
		}
		session := s.guestSession(w, r)
		result, err := s.app.UpsertProgress(r.Context(), session, ebookID, app.ProgressInput{
			ChapterID:      req.ChapterID,
			ScrollPosition: req.ScrollPosition,
			TimeSpent:      req.TimeSpent,
			IsCompleted:    req.IsCompleted,
			Bookmarks:      req.Bookmarks,
			Notes:          req.Notes,
		})
		if err != nil {
			var verr *app.ValidationError
			if errors.As(err, &verr) {
				s.metrics.ProgressWrite("invalid")
			} else {
				s.metrics.ProgressWrite("error")
			}
			s.writeAppError(w, r, err)
			return
		}
		if result.Minted != nil {
			s.setSessionCookie(w, guestCookieName, *result.Minted)
			s.metrics.SessionIssued(string(domain.RoleGuest))
			s.audit(r, "progress.session_minted", "success", "ebook_id", ebookID)
		}
		s.metrics.ProgressWrite("ok")
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"progress": result.Progress,
		})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleProgressList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	items, err := s.app.ListProgress(r.Context(), s.guestSession(w, r))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if items == nil {
		items = []domain.Progress{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"progress": items})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := s.app.Analytics(r.Context(), s.guestSession(w, r))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

// contact

func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, "contact", s.contactLimit, contactWindow, "Too many requests. Please try again later.") {
		return
	}
	var req contactRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	msg, err := s.app.SubmitContact(r.Context(), app.ContactInput{
		Name:    req.Name,
		Email:   req.Email,
		Subject: req.Subject,
		Message: req.Message,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Message sent successfully",
		"data": map[string]any{
			"id":        msg.ID,
			"createdAt": msg.CreatedAt,
		},
	})
}

// admin

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, "admin.login", s.loginLimit, loginWindow, "Too many login attempts. Please try again later.") {
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	issued, err := s.app.Login(req.Password)
	if err != nil {
		if errors.Is(err, app.ErrInvalidPassword) {
			s.audit(r, "admin.login", "fail")
		}
		s.writeAppError(w, r, err)
		return
	}
	s.setSessionCookie(w, adminCookieName, issued)
	s.metrics.SessionIssued(string(domain.RoleAdmin))
	s.audit(r, "admin.login", "success")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAdminLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, session := s.sessionFromCookie(r, adminCookieName)
	if err := s.app.Logout(r.Context(), token); err != nil {
		s.audit(r, "admin.logout", "fail")
		s.writeAppError(w, r, err)
		return
	}
	s.clearSessionCookie(w, adminCookieName)
	if session.IsAdmin() {
		s.audit(r, "admin.logout", "success")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAdminMessages(w http.ResponseWriter, r *http.Request, session *domain.Session) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.app.ListMessages(r.Context(), session)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		if items == nil {
			items = []domain.ContactMessage{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": items})
	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if err := s.app.DeleteMessage(r.Context(), session, id); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		s.audit(r, "admin.message.delete", "success", "message_id", id)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	default:
		methodNotAllowed(w)
	}
}
