package adminapi

import (
	"encoding/json"
	"net/http"
)

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	resp := map[string]interface{}{"error": message}
	if err != nil {
		resp["details"] = err.Error()
	}
	respondJSON(w, status, resp)
}
