package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/causalai/gpu-scheduler/api/pkg/types"
)

// postGPUStatus ingests a monitoring daemon poll. Auth is a shared bearer
// token, compared in constant time; the endpoint refuses everything until the
// token is configured.
func (apiServer *SchedulerAPIServer) postGPUStatus(_ http.ResponseWriter, req *http.Request) (*types.GPUStatusResult, *HTTPError) {
	expected := apiServer.cfg.GPUMonitorToken
	if expected == "" {
		return nil, NewHTTPError401("GPU monitoring not configured - GPU_MONITOR_TOKEN not set.")
	}

	authHeader := req.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return nil, NewHTTPError401("Missing or invalid authorization token.")
	}
	provided := strings.TrimPrefix(authHeader, "Bearer ")
	if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
		return nil, NewHTTPError401("Invalid authorization token.")
	}

	var body types.GPUStatusRequest
	if err := decodeBody(req, &body); err != nil {
		return nil, err
	}

	result, err := apiServer.scheduler.ProcessGPUStatus(body)
	if err != nil {
		return nil, httpError(err)
	}
	return result, nil
}
