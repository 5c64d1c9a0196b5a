package app

import (
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin policy is enforced by the CORS configuration at the proxy;
	// the credential check below is what gates the connection.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebsocket authenticates the handshake, optionally authorizes a
// document join, and then hands the connection to the realtime hub. All
// failures happen before the upgrade so the client sees a plain HTTP
// status instead of a half-open socket.
func (s *HTTPServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	token := websocketToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	claims, err := s.service.VerifyToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}

	documentID := strings.TrimSpace(r.URL.Query().Get("documentId"))
	workspaceID := strings.TrimSpace(r.URL.Query().Get("workspaceId"))
	// Joining a document swaps the account-level role for the workspace
	// membership role, which is what edit permission is judged on.
	role := claims.Role
	if documentID != "" {
		if workspaceID == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "workspaceId is required when documentId is set", nil)
			return
		}
		membership, err := s.service.AuthorizeDocument(r.Context(), claims.UserID, workspaceID, documentID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		role = membership.Role
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake failure.
		log.Printf("websocket upgrade failed for user %s: %v", claims.UserID, err)
		return
	}

	conn := s.service.Hub().Connect(claims.UserID, role, ws)
	if documentID != "" {
		s.service.Hub().Join(conn, documentID, workspaceID)
	}
	s.service.Hub().Serve(conn)
}

// websocketToken accepts the credential from the jwt cookie, the
// Authorization header, or a token query parameter. Browser websocket
// clients cannot set headers, so the cookie and query forms matter.
func websocketToken(r *http.Request) string {
	if cookie, err := r.Cookie("jwt"); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if token := bearerToken(r); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
