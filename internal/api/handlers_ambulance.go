package api

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/geo"
)

func (a *API) handleRegisterAmbulance(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if _, ok := a.subject(w, r, false); !ok {
		return
	}
	var req registerAmbulanceRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	amb, err := a.ambulances.Register(
		r.Context(),
		req.Name,
		geo.Point{Lon: req.Position.Lon, Lat: req.Position.Lat},
		time.Now(),
	)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, toAmbulanceView(amb))
}

func (a *API) handleGetAmbulance(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if _, ok := a.subject(w, r, false); !ok {
		return
	}
	amb, err := a.ambulances.Get(r.Context(), ps.ByName("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, toAmbulanceView(amb))
}

func (a *API) handleRecentAmbulances(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if _, ok := a.subject(w, r, false); !ok {
		return
	}
	ambulances, err := a.ambulances.RecentlyUpdated(r.Context(), 5*time.Minute)
	if err != nil {
		a.writeError(w, err)
		return
	}
	views := make([]ambulanceView, 0, len(ambulances))
	for i := range ambulances {
		views = append(views, toAmbulanceView(&ambulances[i]))
	}
	a.writeJSON(w, http.StatusOK, views)
}

// handleReportLocation 位置上报入口。高频接口，令牌桶限流；
// 过期上报返回 200 + accepted=false，不是错误。
func (a *API) handleReportLocation(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if _, ok := a.subject(w, r, false); !ok {
		return
	}
	if a.ingestLimiter != nil && !a.ingestLimiter.Allow(r.Context()) {
		a.writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many location reports"})
		return
	}

	var req reportLocationRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	observedAt := time.Now()
	if req.ObservedAt != nil {
		observedAt = *req.ObservedAt
	}

	accepted, err := a.ambulances.ReportLocation(
		r.Context(),
		ps.ByName("id"),
		geo.Point{Lon: req.Position.Lon, Lat: req.Position.Lat},
		observedAt,
	)
	if err != nil {
		a.writeError(w, err)
		return
	}

	res := reportLocationResponse{Accepted: accepted}
	if !accepted {
		res.Reason = "report older than last known position"
	}
	a.writeJSON(w, http.StatusOK, res)
}
