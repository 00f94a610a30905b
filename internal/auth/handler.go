package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
)

const (
	accessTokenCookie  = "accessToken"
	refreshTokenCookie = "refreshToken"

	maxJSONBodyBytes = 1 << 20
)

type Handler struct {
	service       *Service
	secureCookies bool
}

func NewHandler(service *Service, secureCookies bool) *Handler {
	return &Handler{service: service, secureCookies: secureCookies}
}

type registerRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type loginResponse struct {
	User         User   `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body registerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	fields := []string{body.FullName, body.Email, body.Username, body.Password}
	for _, field := range fields {
		if strings.TrimSpace(field) == "" {
			writeError(w, http.StatusBadRequest, "All fields are required for registration")
			return
		}
	}

	user, err := h.service.Register(r.Context(), body.FullName, body.Email, body.Username, body.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrUserExists):
			writeError(w, http.StatusConflict, ErrUserExists.Error())
		case errors.Is(err, errRegisterReadBack):
			writeError(w, http.StatusInternalServerError, errRegisterReadBack.Error())
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to register user")
		}
		return
	}

	writeSuccess(w, http.StatusCreated, user, "User registered successfully")
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body loginRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	if body.Email == "" && body.Username == "" {
		writeError(w, http.StatusBadRequest, "Email or username is required")
		return
	}

	user, pair, err := h.service.Login(r.Context(), body.Email, body.Username, body.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrUserNotFound):
			writeError(w, http.StatusNotFound, ErrUserNotFound.Error())
		case errors.Is(err, ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, ErrInvalidCredentials.Error())
		case errors.Is(err, ErrTokenGeneration):
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, ErrTokenGeneration.Error())
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to login")
		}
		return
	}

	h.setAuthCookies(w, pair)
	writeSuccess(w, http.StatusOK, loginResponse{
		User:         user,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, "Login successful")
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authenticated user")
		return
	}

	if err := h.service.Logout(r.Context(), userID); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to logout")
		return
	}

	h.clearAuthCookies(w)
	writeSuccess(w, http.StatusOK, struct{}{}, "Logged out successfully")
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	token := refreshTokenFromRequest(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized: Refresh token missing")
		return
	}

	pair, err := h.service.Refresh(r.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRefreshToken):
			writeError(w, http.StatusUnauthorized, err.Error())
		case errors.Is(err, ErrTokenGeneration):
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, ErrTokenGeneration.Error())
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to refresh token")
		}
		return
	}

	h.setAuthCookies(w, pair)
	writeSuccess(w, http.StatusOK, pair, "Token refreshed")
}

// refreshTokenFromRequest takes the token from cookie, body or query string,
// in that precedence order.
func refreshTokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(refreshTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	var body refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.RefreshToken != "" {
		return body.RefreshToken
	}

	return r.URL.Query().Get(refreshTokenCookie)
}

func (h *Handler) setAuthCookies(w http.ResponseWriter, pair TokenPair) {
	h.setCookie(w, accessTokenCookie, pair.AccessToken, 0)
	h.setCookie(w, refreshTokenCookie, pair.RefreshToken, 0)
}

func (h *Handler) clearAuthCookies(w http.ResponseWriter) {
	h.setCookie(w, accessTokenCookie, "", -1)
	h.setCookie(w, refreshTokenCookie, "", -1)
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
