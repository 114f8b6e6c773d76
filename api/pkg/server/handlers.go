package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/causalai/gpu-scheduler/api/pkg/auth"
	"github.com/causalai/gpu-scheduler/api/pkg/types"
)

func decodeBody(req *http.Request, into any) *HTTPError {
	if err := json.NewDecoder(req.Body).Decode(into); err != nil {
		return NewHTTPError400("Invalid JSON payload.")
	}
	return nil
}

func (apiServer *SchedulerAPIServer) loginHandler(res http.ResponseWriter, req *http.Request) {
	var body types.LoginRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSONError(res, "Invalid JSON payload.", http.StatusBadRequest)
		return
	}

	username := strings.TrimSpace(body.Username)
	summary, loginErr := apiServer.scheduler.Login(username, body.Password)
	if loginErr != nil {
		writeJSONError(res, "Invalid credentials.", http.StatusUnauthorized)
		return
	}

	sessionID := apiServer.sessions.Create(username)
	http.SetCookie(res, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
	})

	log.Info().Str("user", username).Msg("login")
	res.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(res).Encode(types.LoginResult{OK: true, User: *summary})
}

func (apiServer *SchedulerAPIServer) logoutHandler(res http.ResponseWriter, req *http.Request) {
	if cookie, err := req.Cookie(auth.SessionCookie); err == nil {
		apiServer.sessions.Destroy(cookie.Value)
	}
	http.SetCookie(res, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Expires:  time.Unix(0, 0),
	})
	res.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(res).Encode(map[string]bool{"ok": true})
}

func (apiServer *SchedulerAPIServer) getSession(_ http.ResponseWriter, req *http.Request) (*types.SessionInfo, *HTTPError) {
	username, ok := apiServer.sessionUsername(req)
	if !ok {
		return &types.SessionInfo{Authenticated: false}, nil
	}
	summary, err := apiServer.scheduler.UserSummary(username)
	if err != nil {
		return &types.SessionInfo{Authenticated: false}, nil
	}
	return &types.SessionInfo{Authenticated: true, User: summary}, nil
}

func (apiServer *SchedulerAPIServer) getLiveStatus(_ http.ResponseWriter, _ *http.Request) (*types.LiveStatus, *HTTPError) {
	return apiServer.scheduler.LiveStatus(), nil
}

func (apiServer *SchedulerAPIServer) getOverview(_ http.ResponseWriter, req *http.Request) (*types.Overview, *HTTPError) {
	overview, err := apiServer.scheduler.Overview(requestUser(req))
	if err != nil {
		return nil, httpError(err)
	}
	return overview, nil
}

func (apiServer *SchedulerAPIServer) getWeek(_ http.ResponseWriter, req *http.Request) (*types.DayView, *HTTPError) {
	dayKey := req.URL.Query().Get("week")
	if dayKey == "" {
		return nil, NewHTTPError400("Missing week parameter.")
	}
	view, err := apiServer.scheduler.DayView(requestUser(req), dayKey, req.URL.Query().Get("day"))
	if err != nil {
		return nil, httpError(err)
	}
	return view, nil
}

func (apiServer *SchedulerAPIServer) getMySummary(_ http.ResponseWriter, req *http.Request) (*types.MySummary, *HTTPError) {
	summary, err := apiServer.scheduler.MySummary(requestUser(req))
	if err != nil {
		return nil, httpError(err)
	}
	return summary, nil
}

func (apiServer *SchedulerAPIServer) getMyBids(_ http.ResponseWriter, req *http.Request) (map[string][]types.AnnotatedBid, *HTTPError) {
	limit := 0
	if raw := req.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return nil, NewHTTPError400("Invalid limit parameter.")
		}
		limit = parsed
	}
	bids, err := apiServer.scheduler.MyBids(requestUser(req), limit)
	if err != nil {
		return nil, httpError(err)
	}
	return map[string][]types.AnnotatedBid{"bids": bids}, nil
}

func (apiServer *SchedulerAPIServer) getHistoryDays(_ http.ResponseWriter, req *http.Request) (map[string][]types.HistoryDayInfo, *HTTPError) {
	days, err := apiServer.scheduler.HistoryDays(requestUser(req))
	if err != nil {
		return nil, httpError(err)
	}
	return map[string][]types.HistoryDayInfo{"days": days}, nil
}

func (apiServer *SchedulerAPIServer) getHistoryDay(_ http.ResponseWriter, req *http.Request) (*types.DayView, *HTTPError) {
	dayKey := req.URL.Query().Get("date")
	if dayKey == "" {
		return nil, NewHTTPError400("Missing date parameter.")
	}
	view, err := apiServer.scheduler.HistoryDay(requestUser(req), dayKey)
	if err != nil {
		return nil, httpError(err)
	}
	return view, nil
}

func (apiServer *SchedulerAPIServer) postBid(_ http.ResponseWriter, req *http.Request) (*types.BidResult, *HTTPError) {
	var body types.BidRequest
	if err := decodeBody(req, &body); err != nil {
		return nil, err
	}
	result, err := apiServer.scheduler.PlaceBid(requestUser(req), body)
	if err != nil {
		return nil, httpError(err)
	}
	return result, nil
}

func (apiServer *SchedulerAPIServer) postBulkBids(_ http.ResponseWriter, req *http.Request) (*types.BulkBidResult, *HTTPError) {
	var body types.BulkBidRequest
	if err := decodeBody(req, &body); err != nil {
		return nil, err
	}
	result, err := apiServer.scheduler.PlaceBulkBids(requestUser(req), body)
	if err != nil {
		return nil, httpError(err)
	}
	return result, nil
}

func (apiServer *SchedulerAPIServer) postUndoBid(_ http.ResponseWriter, req *http.Request) (map[string]bool, *HTTPError) {
	var body types.UndoBidRequest
	if err := decodeBody(req, &body); err != nil {
		return nil, err
	}
	if err := apiServer.scheduler.UndoBid(requestUser(req), body); err != nil {
		return nil, httpError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (apiServer *SchedulerAPIServer) postRelease(_ http.ResponseWriter, req *http.Request) (*types.ReleaseResult, *HTTPError) {
	var body types.ReleaseRequest
	if err := decodeBody(req, &body); err != nil {
		return nil, err
	}
	result, err := apiServer.scheduler.ReleaseSlot(requestUser(req), body)
	if err != nil {
		return nil, httpError(err)
	}
	return result, nil
}

func (apiServer *SchedulerAPIServer) postBulkRelease(_ http.ResponseWriter, req *http.Request) (*types.BulkReleaseResult, *HTTPError) {
	var body types.BulkReleaseRequest
	if err := decodeBody(req, &body); err != nil {
		return nil, err
	}
	result, err := apiServer.scheduler.ReleaseSlotsBulk(requestUser(req), body)
	if err != nil {
		return nil, httpError(err)
	}
	return result, nil
}

func (apiServer *SchedulerAPIServer) postDismissOutbid(_ http.ResponseWriter, req *http.Request) (*types.DismissOutbidResult, *HTTPError) {
	var body types.DismissOutbidRequest
	if err := decodeBody(req, &body); err != nil {
		return nil, err
	}
	result, err := apiServer.scheduler.DismissOutbid(requestUser(req), body.DayKey)
	if err != nil {
		return nil, httpError(err)
	}
	return result, nil
}

func (apiServer *SchedulerAPIServer) postChangePassword(_ http.ResponseWriter, req *http.Request) (map[string]bool, *HTTPError) {
	var body types.ChangePasswordRequest
	if err := decodeBody(req, &body); err != nil {
		return nil, err
	}
	if err := apiServer.scheduler.ChangePassword(requestUser(req), body); err != nil {
		return nil, httpError(err)
	}
	return map[string]bool{"ok": true}, nil
}
