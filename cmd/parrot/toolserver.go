package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	parrot "github.com/ciana/parrot"
)

// toolRegistry is what the tool server needs from a registry, observed or
// plain.
type toolRegistry interface {
	AllDefinitions() []parrot.ToolDefinition
	Execute(ctx context.Context, name string, args json.RawMessage) (parrot.ToolResult, error)
}

// newToolServer exposes the tool registry over localhost HTTP so the
// external agent process can call schedule and host tools. The
// originating chat is carried in headers and bound into the execution
// context, mirroring what the router does for in-process calls.
func newToolServer(reg toolRegistry) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/tools", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeToolError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeToolJSON(w, http.StatusOK, reg.AllDefinitions())
	})

	mux.HandleFunc("/tools/execute", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeToolError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeToolError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		var req struct {
			Name string          `json:"name"`
			Args json.RawMessage `json:"args"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			writeToolError(w, http.StatusBadRequest, "invalid JSON")
			return
		}

		ctx := r.Context()
		if channel := r.Header.Get("X-Parrot-Channel"); channel != "" {
			ctx = parrot.WithChatRef(ctx, parrot.ChatRef{
				Channel: channel,
				ChatID:  r.Header.Get("X-Parrot-Chat"),
			})
		}
		if tier := r.Header.Get("X-Parrot-Model-Tier"); tier != "" {
			ctx = parrot.WithModelTier(ctx, tier)
		}

		result, err := reg.Execute(ctx, req.Name, req.Args)
		if err != nil {
			writeToolError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeToolJSON(w, http.StatusOK, result)
	})

	return mux
}

func writeToolJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

func writeToolError(w http.ResponseWriter, code int, msg string) {
	writeToolJSON(w, code, map[string]string{"error": msg})
}
