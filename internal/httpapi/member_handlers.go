package httpapi

import (
	"net/http"

	"capitania.club/internal/member"
	"capitania.club/internal/members"
)

type roleRequest struct {
	Role string `json:"role"`
}

type membersResponse struct {
	Items []member.Profile `json:"items"`
	Count int              `json:"count"`
}

func (a *API) handleMembersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listMembers(w, r)
	case http.MethodPost:
		a.registerMember(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listMembers(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	items, err := a.members.List(r.Context(), caller, r.URL.Query().Get("q"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, membersResponse{Items: items, Count: len(items)})
}

func (a *API) registerMember(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	var req members.RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.members.Register(r.Context(), caller, req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/profiles/"+p.ID)
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) handleMemberResource(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		p, err := a.members.Get(r.Context(), caller, id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodDelete:
		if err := a.members.Remove(r.Context(), caller, id); err != nil {
			handleError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) handleMemberAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch r.PathValue("action") {
	case "options":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		caller, ok := actor(w, r)
		if !ok {
			return
		}
		menu, err := a.members.Options(r.Context(), caller, id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, menu)
	case "status":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		caller, ok := actor(w, r)
		if !ok {
			return
		}
		p, err := a.members.ToggleStatus(r.Context(), caller, id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case "role":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		caller, ok := actor(w, r)
		if !ok {
			return
		}
		var req roleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := member.ParseRole(req.Role)
		if err != nil {
			handleError(w, r, err)
			return
		}
		p, err := a.members.ChangeRole(r.Context(), caller, id, role)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// handleProfileResource serves the profile collaborator endpoints used by
// remote clients.
func (a *API) handleProfileResource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		p, ok := principal(w, r)
		if !ok {
			return
		}
		if id == p.Session.UserID {
			// Readable even while the profile state is unresolved, so the
			// remote gate can fetch it.
			profile, err := a.profiles.GetProfile(r.Context(), id)
			if err != nil {
				handleError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, profile)
			return
		}
		caller, ok := actor(w, r)
		if !ok {
			return
		}
		profile, err := a.members.Get(r.Context(), caller, id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	case http.MethodPatch:
		caller, ok := actor(w, r)
		if !ok {
			return
		}
		var upd member.Update
		if err := decodeJSON(w, r, &upd); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		p, err := a.members.Apply(r.Context(), caller, id, upd)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodDelete:
		caller, ok := actor(w, r)
		if !ok {
			return
		}
		if err := a.members.Remove(r.Context(), caller, id); err != nil {
			handleError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleCheckins(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		c, err := a.members.CheckIn(r.Context(), caller)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	case http.MethodGet:
		limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 20, 1, 200)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		items, err := a.members.Checkins(r.Context(), caller, limit)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}
