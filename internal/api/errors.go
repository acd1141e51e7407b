// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError replies with the machine-readable error kind clients key on.
func writeError(w http.ResponseWriter, status int, kind string) {
	writeJSON(w, status, map[string]string{"error": kind})
}

func writeUnauthorized(w http.ResponseWriter, kind string) {
	writeError(w, http.StatusUnauthorized, kind)
}

func writeForbidden(w http.ResponseWriter, kind string) {
	writeError(w, http.StatusForbidden, kind)
}

func writeNotFound(w http.ResponseWriter, kind string) {
	writeError(w, http.StatusNotFound, kind)
}
