package response

import (
	"encoding/json"
	"net/http"
)

// WriteError renders e as a JSON body with its status code
func WriteError(w http.ResponseWriter, r *http.Request, e *Error) {
	if e == nil {
		e = ErrUnexpected()
	}
	writeJSON(w, e.StatusCode, e)
}

// WriteResponse renders v as a 200 JSON body
func WriteResponse(w http.ResponseWriter, r *http.Request, v interface{}) {
	writeJSON(w, http.StatusOK, v)
}

// WriteResponseWithStatus renders v as a JSON body with the given status
func WriteResponseWithStatus(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	writeJSON(w, status, v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
