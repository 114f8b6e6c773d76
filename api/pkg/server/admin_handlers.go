package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/causalai/gpu-scheduler/api/pkg/types"
)

func (apiServer *SchedulerAPIServer) getAdminUsers(_ http.ResponseWriter, _ *http.Request) (map[string][]types.AdminUserInfo, *HTTPError) {
	return map[string][]types.AdminUserInfo{"users": apiServer.scheduler.ListAdminUsers()}, nil
}

func (apiServer *SchedulerAPIServer) getAdminWeeks(_ http.ResponseWriter, _ *http.Request) (map[string][]types.DayInfo, *HTTPError) {
	return map[string][]types.DayInfo{"weeks": apiServer.scheduler.ListDays()}, nil
}

func (apiServer *SchedulerAPIServer) getTransitionHour(_ http.ResponseWriter, _ *http.Request) (*types.TransitionHourInfo, *HTTPError) {
	return apiServer.scheduler.GetTransitionHour(), nil
}

func (apiServer *SchedulerAPIServer) postTransitionHour(_ http.ResponseWriter, req *http.Request) (*types.SetTransitionHourResult, *HTTPError) {
	var body types.SetTransitionHourRequest
	if err := decodeBody(req, &body); err != nil {
		return nil, err
	}
	if body.TransitionHour == nil {
		return nil, NewHTTPError400("transition_hour required")
	}
	result, err := apiServer.scheduler.SetTransitionHour(*body.TransitionHour)
	if err != nil {
		return nil, httpError(err)
	}
	return result, nil
}

func (apiServer *SchedulerAPIServer) postUpdateUser(_ http.ResponseWriter, req *http.Request) (*types.UpdateUserResult, *HTTPError) {
	var body types.UpdateUserRequest
	if err := decodeBody(req, &body); err != nil {
		return nil, err
	}
	result, err := apiServer.scheduler.UpdateUser(body)
	if err != nil {
		return nil, httpError(err)
	}
	return result, nil
}

func (apiServer *SchedulerAPIServer) postBulkUpdateUsers(_ http.ResponseWriter, req *http.Request) (*types.MessageResult, *HTTPError) {
	var body types.BulkUpdateUsersRequest
	if err := decodeBody(req, &body); err != nil {
		return nil, err
	}
	result, err := apiServer.scheduler.BulkUpdateUsers(body)
	if err != nil {
		return nil, httpError(err)
	}
	return result, nil
}

func (apiServer *SchedulerAPIServer) postCreateUser(_ http.ResponseWriter, req *http.Request) (*types.UpdateUserResult, *HTTPError) {
	var body types.CreateUserRequest
	if err := decodeBody(req, &body); err != nil {
		return nil, err
	}
	result, err := apiServer.scheduler.CreateUser(body)
	if err != nil {
		return nil, httpError(err)
	}
	return result, nil
}

func (apiServer *SchedulerAPIServer) postResetPassword(_ http.ResponseWriter, req *http.Request) (*types.UpdateUserResult, *HTTPError) {
	var body types.ResetPasswordRequest
	if err := decodeBody(req, &body); err != nil {
		return nil, err
	}
	result, err := apiServer.scheduler.ResetPassword(body)
	if err != nil {
		return nil, httpError(err)
	}
	return result, nil
}

func (apiServer *SchedulerAPIServer) postCleanupWeeks(_ http.ResponseWriter, req *http.Request) (*types.CleanupDaysResult, *HTTPError) {
	var body types.CleanupDaysRequest
	if err := decodeBody(req, &body); err != nil {
		return nil, err
	}
	result, err := apiServer.scheduler.CleanupOldDays(body)
	if err != nil {
		return nil, httpError(err)
	}
	return result, nil
}

// postUpdatePolicy decodes into a raw map first: a null cap and an absent cap
// are different edits.
func (apiServer *SchedulerAPIServer) postUpdatePolicy(_ http.ResponseWriter, req *http.Request) (*types.PolicyResult, *HTTPError) {
	var raw map[string]json.RawMessage
	if err := decodeBody(req, &raw); err != nil {
		return nil, err
	}

	var body types.UpdatePolicyRequest
	if capRaw, ok := raw["hourly_gpu_cap"]; ok {
		body.HourlyGPUCapSet = true
		if string(capRaw) != "null" {
			var capValue int
			if err := json.Unmarshal(capRaw, &capValue); err != nil {
				return nil, NewHTTPError400("Cap must be an integer or null.")
			}
			body.HourlyGPUCap = &capValue
		}
	}

	result, err := apiServer.scheduler.UpdatePolicy(body)
	if err != nil {
		return nil, httpError(err)
	}
	return result, nil
}

func (apiServer *SchedulerAPIServer) postResetAllDays(_ http.ResponseWriter, _ *http.Request) (*types.MessageResult, *HTTPError) {
	result, err := apiServer.scheduler.ResetAllDays()
	if err != nil {
		return nil, httpError(err)
	}
	return result, nil
}

func (apiServer *SchedulerAPIServer) postClearDemoData(_ http.ResponseWriter, _ *http.Request) (*types.ClearBidsResult, *HTTPError) {
	result, err := apiServer.scheduler.ClearDemoData()
	if err != nil {
		return nil, httpError(err)
	}
	return result, nil
}

func (apiServer *SchedulerAPIServer) postPopulateDemoData(_ http.ResponseWriter, _ *http.Request) (*types.DemoDataResult, *HTTPError) {
	result, err := apiServer.scheduler.PopulateDemoData()
	if err != nil {
		return nil, httpError(err)
	}
	return result, nil
}

func (apiServer *SchedulerAPIServer) postSetWeekStatus(_ http.ResponseWriter, req *http.Request) (*types.SetDayStatusResult, *HTTPError) {
	var body types.SetDayStatusRequest
	if err := decodeBody(req, &body); err != nil {
		return nil, err
	}
	result, err := apiServer.scheduler.SetDayStatus(body)
	if err != nil {
		return nil, httpError(err)
	}
	return result, nil
}

func (apiServer *SchedulerAPIServer) postClearWeekBids(_ http.ResponseWriter, req *http.Request) (*types.ClearBidsResult, *HTTPError) {
	var body struct {
		Day string `json:"week"`
	}
	if err := decodeBody(req, &body); err != nil {
		return nil, err
	}
	result, err := apiServer.scheduler.ClearDayBids(body.Day)
	if err != nil {
		return nil, httpError(err)
	}
	return result, nil
}

func writeCSV(res http.ResponseWriter, filename, body string) {
	res.Header().Set("Content-Type", "text/csv; charset=utf-8")
	res.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, _ = res.Write([]byte(body))
}

func (apiServer *SchedulerAPIServer) getExportSchedule(res http.ResponseWriter, req *http.Request) {
	dayKey := req.URL.Query().Get("week")
	if dayKey == "" {
		writeJSONError(res, "Missing week parameter.", http.StatusBadRequest)
		return
	}
	csvText, err := apiServer.scheduler.ExportDayCSV(dayKey)
	if err != nil {
		writeJSONError(res, "Week not ready for export.", http.StatusBadRequest)
		return
	}
	writeCSV(res, fmt.Sprintf("schedule_%s.csv", dayKey), csvText)
}

func (apiServer *SchedulerAPIServer) getExportUsage(res http.ResponseWriter, req *http.Request) {
	dayKey := req.URL.Query().Get("week")
	if dayKey == "" {
		writeJSONError(res, "Missing week parameter.", http.StatusBadRequest)
		return
	}
	csvText, err := apiServer.scheduler.ExportUsageCSV(dayKey)
	if err != nil {
		writeJSONError(res, "Week not ready for export.", http.StatusBadRequest)
		return
	}
	writeCSV(res, fmt.Sprintf("usage_tracking_%s.csv", dayKey), csvText)
}

func (apiServer *SchedulerAPIServer) getExportAll(res http.ResponseWriter, _ *http.Request) {
	data, filename, err := apiServer.scheduler.ExportState()
	if err != nil {
		writeJSONError(res, err.Message, http.StatusInternalServerError)
		return
	}
	res.Header().Set("Content-Type", "application/json; charset=utf-8")
	res.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, _ = res.Write(data)
}
