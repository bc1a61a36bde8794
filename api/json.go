package api

import (
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"
)

// json is the API boundary's drop-in encoding/json replacement; internal
// packages never import it.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

func decodeJSON(r *http.Request, v interface{}) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	return json.NewDecoder(r.Body).Decode(v)
}

func marshalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
