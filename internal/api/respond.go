package api

import (
	"encoding/json"
	"net/http"
)

// The envelope every admin endpoint speaks: success is always code "2000",
// failures carry a 3xxx code with HTTP 400.
const (
	codeOK             = "2000"
	codeInternal       = "3001"
	codeBadParameter   = "3002"
	codeNotFound       = "3003"
	codeConflict       = "3004"
	codeDuplicateEntry = "3005"
)

type envelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Result  any    `json:"result"`
}

func respondOK(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(envelope{Code: codeOK, Message: "ok", Result: result})
}

func respondFail(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(envelope{Code: code, Message: message, Result: nil})
}
