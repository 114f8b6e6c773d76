package server

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// handlers return their payload and a typed error; the wrapper owns JSON
// encoding and error rendering.
type httpWrapper[T any] func(res http.ResponseWriter, req *http.Request) (T, *HTTPError)

// wrapper adapts a typed handler into an http.HandlerFunc.
func wrapper[T any](handler httpWrapper[T]) http.HandlerFunc {
	return func(res http.ResponseWriter, req *http.Request) {
		data, err := handler(res, req)
		if err != nil {
			log.Error().Msgf("error for route %s: %s", req.URL.Path, err.Error())
			statusCode := err.StatusCode
			if statusCode == 0 {
				statusCode = http.StatusInternalServerError
			}
			writeJSONError(res, err.Message, statusCode)
			return
		}
		res.Header().Set("Content-Type", "application/json")
		if encodeErr := json.NewEncoder(res).Encode(data); encodeErr != nil {
			log.Error().Msgf("error for json encoding: %s", encodeErr.Error())
			http.Error(res, encodeErr.Error(), http.StatusInternalServerError)
		}
	}
}

// writeJSONError renders the {"error": "..."} shape the clients expect.
func writeJSONError(res http.ResponseWriter, message string, statusCode int) {
	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(statusCode)
	_ = json.NewEncoder(res).Encode(map[string]string{"error": message})
}
