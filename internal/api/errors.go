package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const maxRequestBodySize = 10 << 20 // 10MB

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func httpError(w http.ResponseWriter, status int, errType, format string, args ...any) {
	var body errorBody
	body.Error.Message = fmt.Sprintf(format, args...)
	body.Error.Type = errType

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
