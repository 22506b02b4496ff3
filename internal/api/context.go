package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/terra-clan/assessment-composer/internal/composition"
)

// ConsoleSessionHeader carries the console session id. Requests without one
// get a fresh id echoed back in the same header.
const ConsoleSessionHeader = "X-Console-Session"

type contextKey string

const (
	consoleContextKey   contextKey = "console_id"
	workspaceContextKey contextKey = "workspace"
)

// ConsoleFromContext extracts the console session id from context
func ConsoleFromContext(ctx context.Context) string {
	id, _ := ctx.Value(consoleContextKey).(string)
	return id
}

// ContextWithConsole adds the console session id to context
func ContextWithConsole(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, consoleContextKey, id)
}

// WorkspaceFromContext extracts the request's workspace from context
func WorkspaceFromContext(ctx context.Context) *composition.Workspace {
	w, _ := ctx.Value(workspaceContextKey).(*composition.Workspace)
	return w
}

// ContextWithWorkspace adds a workspace to context
func ContextWithWorkspace(ctx context.Context, w *composition.Workspace) context.Context {
	return context.WithValue(ctx, workspaceContextKey, w)
}

// consoleSession resolves the console session id for the request
func consoleSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(ConsoleSessionHeader))
		if id == "" {
			// browsers cannot set headers on websocket upgrades
			id = strings.TrimSpace(r.URL.Query().Get("console"))
		}
		if id == "" {
			id = uuid.NewString()
		} else if len(id) > 128 {
			respondError(w, http.StatusBadRequest, "invalid_console_session", "console session id is too long")
			return
		}

		w.Header().Set(ConsoleSessionHeader, id)
		next.ServeHTTP(w, r.WithContext(ContextWithConsole(r.Context(), id)))
	})
}
