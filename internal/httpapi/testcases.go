package httpapi

import (
	"net/http"
	"strconv"

	"github.com/rpattn/casetrail/internal/domain"
	"github.com/rpattn/casetrail/internal/testcases"
)

type createScopeRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createFolderRequest struct {
	Name     string `json:"name"`
	ParentID *int64 `json:"parentId"`
}

type saveScenarioRequest struct {
	Name  string `json:"name"`
	Steps string `json:"steps"`
}

func (a *API) createScope(w http.ResponseWriter, r *http.Request) {
	var req createScopeRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	org, err := a.cases.CreateOrganization(r.Context(), req.Name, req.Description)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, org)
}

func (a *API) createFolder(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req createFolderRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	folder, err := a.cases.CreateFolder(r.Context(), scope, req.Name, req.ParentID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, folder)
}

// listTestCases lists one folder; without folderId it lists unfiled cases.
func (a *API) listTestCases(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var folderID *int64
	if raw := r.URL.Query().Get("folderId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			a.writeError(w, r, domain.ErrValidation("invalid folderId %q", raw))
			return
		}
		folderID = &id
	}
	cases, err := a.cases.ListByFolder(r.Context(), scope, folderID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cases)
}

func (a *API) createTestCase(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	actorID, err := actor(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var input testcases.NewTestCase
	if err := decode(r, &input); err != nil {
		a.writeError(w, r, err)
		return
	}
	tc, err := a.cases.Create(r.Context(), scope, actorID, input)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tc)
}

func (a *API) getTestCase(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	id, err := int64Param(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	tc, err := a.cases.Get(r.Context(), scope, id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tc)
}

func (a *API) saveTestCase(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	actorID, err := actor(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	id, err := int64Param(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var edit testcases.Edit
	if err := decode(r, &edit); err != nil {
		a.writeError(w, r, err)
		return
	}
	tc, err := a.cases.Save(r.Context(), scope, actorID, id, edit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tc)
}

func (a *API) addScenario(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	actorID, err := actor(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	id, err := int64Param(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var input testcases.NewScenario
	if err := decode(r, &input); err != nil {
		a.writeError(w, r, err)
		return
	}
	sc, err := a.cases.AddScenario(r.Context(), scope, actorID, id, input)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

func (a *API) saveScenario(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	actorID, err := actor(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	id, err := int64Param(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	scenarioID, err := int64Param(r, "scenarioId")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req saveScenarioRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	tc, err := a.cases.SaveScenario(r.Context(), scope, actorID, id, scenarioID, req.Name, req.Steps)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tc)
}
