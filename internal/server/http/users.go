package httpserver

import (
	"net/http"
	"time"

	"github.com/and161185/lexchat/internal/model"
	"github.com/and161185/lexchat/internal/service"
)

type registerRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expiresAt"`
	User      model.UserSummary `json:"user"`
}

type profileResponse struct {
	model.UserSummary
	Field       []string        `json:"field,omitempty"`
	Description string          `json:"description,omitempty"`
	Experience  int             `json:"experience,omitempty"`
	Location    *model.GeoPoint `json:"location,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// updateProfileRequest leaves absent fields untouched.
type updateProfileRequest struct {
	FirstName   *string         `json:"firstName"`
	LastName    *string         `json:"lastName"`
	Field       *[]string       `json:"field"`
	Description *string         `json:"description"`
	Experience  *int            `json:"experience"`
	Location    *model.GeoPoint `json:"location"`
}

func summary(u model.User) model.UserSummary {
	return model.UserSummary{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, Email: u.Email, Role: u.Role}
}

func profileOf(u model.User) profileResponse {
	out := profileResponse{UserSummary: summary(u), CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt}
	if u.Role == model.RoleLawyer {
		loc := u.Location
		out.Field, out.Description, out.Experience, out.Location = u.PracticeAreas, u.Description, u.Experience, &loc
	}
	return out
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	u, err := s.deps.Auth.Register(r.Context(), service.RegisterInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
		Role:      req.Role,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Message string            `json:"message"`
		User    model.UserSummary `json:"user"`
	}{"User registered successfully", summary(*u)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	tok, u, err := s.deps.Auth.Login(r.Context(), req.Email, req.Password, RemoteIPFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: tok.AccessToken, ExpiresAt: tok.ExpiresAt, User: summary(u)})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	u, err := s.deps.Auth.Profile(r.Context(), caller(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profileOf(*u))
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	u, err := s.deps.Auth.UpdateProfile(r.Context(), caller(r), model.ProfilePatch{
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		PracticeAreas: req.Field,
		Description:   req.Description,
		Experience:    req.Experience,
		Location:      req.Location,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profileOf(*u))
}
