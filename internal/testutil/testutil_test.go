package testutil

import (
	"net/http"
	"testing"
)

func TestGet(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := Get(mux, "/ping")
	AssertStatusCode(t, rec.Code, http.StatusTeapot)
}
