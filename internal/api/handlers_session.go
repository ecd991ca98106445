package api

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/tracking"
)

func (a *API) handleOpenSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	subject, ok := a.subject(w, r, false)
	if !ok {
		return
	}
	var req openSessionRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	// 救护车必须已登记
	if _, err := a.ambulances.Get(r.Context(), req.AmbulanceID); err != nil {
		a.writeError(w, err)
		return
	}

	// 目的地和默认提醒从观察者偏好快照
	settings, err := a.accounts.GetSettings(r.Context(), subject)
	if err != nil {
		a.writeError(w, err)
		return
	}

	in := tracking.OpenSessionInput{
		ObserverID:  subject,
		AmbulanceID: req.AmbulanceID,
		Description: req.Description,
		Urgency:     req.Urgency,
		Destination: settings.Hospital,
	}
	switch {
	case req.SelfNotifySec != nil:
		in.SelfNotifySec = req.SelfNotifySec
	case req.SelfNotify:
		sec := int64(settings.DefaultAlert.Seconds())
		in.SelfNotifySec = &sec
	}

	sess, err := a.sessions.Open(r.Context(), in)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, toSessionView(sess))
}

// authorizeSession 会话访问授权：本人，或所有权链上的上级。
func (a *API) authorizeSession(w http.ResponseWriter, r *http.Request, subject, sessionID string) (*tracking.TrackingSession, bool) {
	sess, err := a.sessions.Get(r.Context(), sessionID)
	if err != nil {
		a.writeError(w, err)
		return nil, false
	}
	if sess.ObserverID == subject {
		return sess, true
	}

	chain, err := a.accounts.OwnershipChain(r.Context(), sess.ObserverID)
	if err != nil {
		a.writeError(w, err)
		return nil, false
	}
	for _, acc := range chain[1:] {
		if acc.ID == subject {
			return sess, true
		}
	}
	a.writeJSON(w, http.StatusForbidden, errorResponse{Error: "not allowed to access this session"})
	return nil, false
}

func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	subject, ok := a.subject(w, r, false)
	if !ok {
		return
	}
	sessions, err := a.sessions.ListByObserver(r.Context(), subject)
	if err != nil {
		a.writeError(w, err)
		return
	}
	views := make([]sessionView, 0, len(sessions))
	for i := range sessions {
		views = append(views, toSessionView(&sessions[i]))
	}
	a.writeJSON(w, http.StatusOK, views)
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	subject, ok := a.subject(w, r, false)
	if !ok {
		return
	}
	sess, ok := a.authorizeSession(w, r, subject, ps.ByName("id"))
	if !ok {
		return
	}
	a.writeJSON(w, http.StatusOK, toSessionView(sess))
}

func (a *API) handleCloseSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	subject, ok := a.subject(w, r, false)
	if !ok {
		return
	}
	sess, ok := a.authorizeSession(w, r, subject, ps.ByName("id"))
	if !ok {
		return
	}
	if err := a.sessions.Close(r.Context(), sess.ID); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusNoContent, nil)
}

func (a *API) handleAddTrigger(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	subject, ok := a.subject(w, r, false)
	if !ok {
		return
	}
	sess, ok := a.authorizeSession(w, r, subject, ps.ByName("id"))
	if !ok {
		return
	}
	var req addTriggerRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	// 指定了手机号时必须属于会话观察者
	if req.PhoneID != nil {
		phones, err := a.accounts.Phones(r.Context(), sess.ObserverID)
		if err != nil {
			a.writeError(w, err)
			return
		}
		found := false
		for _, p := range phones {
			if p.ID == *req.PhoneID {
				found = true
				break
			}
		}
		if !found {
			a.badRequest(w, "phone does not belong to the session observer")
			return
		}
	}

	trig, err := a.sessions.AddTrigger(r.Context(), sess.ID, req.OffsetSec, req.PhoneID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, toTriggerView(*trig))
}

func (a *API) handleListTriggers(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	subject, ok := a.subject(w, r, false)
	if !ok {
		return
	}
	sess, ok := a.authorizeSession(w, r, subject, ps.ByName("id"))
	if !ok {
		return
	}
	triggers, err := a.sessions.Triggers(r.Context(), sess.ID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	views := make([]triggerView, 0, len(triggers))
	for _, t := range triggers {
		views = append(views, toTriggerView(t))
	}
	a.writeJSON(w, http.StatusOK, views)
}

func (a *API) handleDismissSelfAlert(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	subject, ok := a.subject(w, r, false)
	if !ok {
		return
	}
	sess, ok := a.authorizeSession(w, r, subject, ps.ByName("id"))
	if !ok {
		return
	}
	if err := a.sessions.DismissSelfAlert(r.Context(), sess.ID); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusNoContent, nil)
}

func (a *API) handleArchivedSessions(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	subject, ok := a.subject(w, r, false)
	if !ok {
		return
	}
	sessions, err := a.archives.SessionsByObserver(r.Context(), subject)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, sessions)
}
