package httpapi

import (
	"net/http"
	"strings"

	"capitania.club/internal/audit"
	"capitania.club/internal/backend"
	"capitania.club/internal/gate"
	"capitania.club/internal/identity"
	"capitania.club/internal/member"
	"capitania.club/internal/wallet"
)

type loginRequest struct {
	CPF      string `json:"cpf,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	CPF      string `json:"cpf"`
}

type passwordRequest struct {
	Password string `json:"password"`
	Confirm  string `json:"confirm"`
}

// sessionResponse is returned by login and /v1/me.
type sessionResponse struct {
	Session backend.Session `json:"session"`
	Profile *member.Profile `json:"profile,omitempty"`
	State   gate.State      `json:"state"`
	Stack   gate.Stack      `json:"stack"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var (
		res identity.Result
		err error
	)
	switch {
	case strings.TrimSpace(req.CPF) != "":
		res, err = a.identity.SignInWithCPF(r.Context(), req.CPF, req.Password)
	case strings.TrimSpace(req.Email) != "":
		res, err = a.identity.SignInWithPassword(r.Context(), req.Email, req.Password)
	default:
		writeError(w, r, http.StatusBadRequest, "cpf or email is required")
		return
	}
	if err != nil {
		_ = audit.LogEvent(r.Context(), audit.EventSignInFailed, map[string]any{
			"cpf_masked": maskCPF(req.CPF),
			"email":      strings.ToLower(strings.TrimSpace(req.Email)),
		})
		handleError(w, r, err)
		return
	}

	profile := res.Profile
	state := gate.Resolve(&res.Session, &profile, nil, a.failOpen)
	_ = audit.LogEvent(r.Context(), audit.EventSignIn, map[string]any{
		"user_id": res.Session.UserID,
		"state":   state,
	})
	writeJSON(w, http.StatusOK, sessionResponse{
		Session: res.Session,
		Profile: &profile,
		State:   state,
		Stack:   gate.StackFor(state),
	})
}

// handleRegister is the public sign-up. The account starts inactive until
// staff approve it.
func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.identity.SignUp(r.Context(), req.Email, req.Password, member.Metadata{
		FullName: req.FullName,
		CPF:      req.CPF,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventSignUp, map[string]any{"target_id": p.ID, "email": p.Email})
	w.Header().Set("Location", "/v1/profiles/"+p.ID)
	writeJSON(w, http.StatusCreated, p)
}

// handleLogout records the sign-out. Tokens are stateless; the client drops
// its copy.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := principal(w, r); !ok {
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventSignOut, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req passwordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	profile, err := a.members.CompletePasswordChange(r.Context(), p.Session.UserID, req.Password, req.Confirm)
	if err != nil {
		handleError(w, r, err)
		return
	}
	state := gate.Resolve(&p.Session, &profile, nil, a.failOpen)
	writeJSON(w, http.StatusOK, sessionResponse{
		Session: redacted(p.Session),
		Profile: &profile,
		State:   state,
		Stack:   gate.StackFor(state),
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := principal(w, r)
	if !ok {
		return
	}
	resp := sessionResponse{
		Session: redacted(p.Session),
		State:   p.State,
		Stack:   gate.StackFor(p.State),
	}
	if p.Profile.ID != "" {
		profile := p.Profile
		resp.Profile = &profile
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCard renders the member card as JSON, a PNG QR code
// (?format=png) or a terminal QR code (?format=text).
func (a *API) handleCard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	profile, ok := actor(w, r)
	if !ok {
		return
	}
	card := wallet.NewCard(profile)
	switch r.URL.Query().Get("format") {
	case "", "json":
		writeJSON(w, http.StatusOK, card)
	case "png":
		size, err := parsePositiveInt(r.URL.Query().Get("size"), wallet.DefaultQRSize, 64, 1024)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "size must be between 64 and 1024")
			return
		}
		png, err := card.QRPNG(size)
		if err != nil {
			handleError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(png)
	case "text":
		txt, err := card.QRText()
		if err != nil {
			handleError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(txt))
	default:
		writeError(w, r, http.StatusBadRequest, "format must be json, png or text")
	}
}

// redacted drops the bearer token from echoed sessions.
func redacted(s backend.Session) backend.Session {
	s.AccessToken = ""
	return s
}

func maskCPF(raw string) string {
	digits := member.NormalizeCPF(raw)
	if len(digits) < 4 {
		return ""
	}
	return strings.Repeat("*", len(digits)-2) + digits[len(digits)-2:]
}
