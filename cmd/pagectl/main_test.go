package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEditCommitsLastLine(t *testing.T) {
	var (
		mu   sync.Mutex
		puts []map[string]string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]any{"page": map[string]any{"id": "pg_1", "title": "Draft"}})
		case http.MethodPut:
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			puts = append(puts, body)
			mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{"changed": true})
		}
	}))
	defer server.Close()

	var out bytes.Buffer
	stdin := strings.NewReader("P\nPl\nPlan\n")
	err := mainInner([]string{"-addr", server.URL, "-token", "tok", "-debounce", "5s", "edit", "pg_1"}, stdin, &out)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, puts, 1)
	assert.Equal(t, "Plan", puts[0]["title"])
	assert.Equal(t, "saved: \"Plan\"\n", out.String())
}

func TestUsageErrors(t *testing.T) {
	var out bytes.Buffer
	assert.EqualError(t, mainInner(nil, strings.NewReader(""), &out), "missing command")
	assert.EqualError(t, mainInner([]string{"invite", "ws_1"}, strings.NewReader(""), &out), "expected 2 argument(s), got 1")
	assert.EqualError(t, mainInner([]string{"frobnicate"}, strings.NewReader(""), &out), `unknown command "frobnicate"`)
}
