package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"brainvector/api/internal/auth"
	"brainvector/api/internal/authpw"
	"brainvector/api/internal/cache"
	"brainvector/api/internal/config"
	"brainvector/api/internal/rbac"
	"brainvector/api/internal/realtime"
	"brainvector/api/internal/store"
)

// Session is the caller identity resolved from a bearer token.
type Session struct {
	Token    string
	UserID   string
	UserName string
	Role     string
}

type dataStore interface {
	CreateUser(ctx context.Context, name, email, passwordHash string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	CreateWorkspace(ctx context.Context, name, ownerID string) (store.Workspace, error)
	ListWorkspacesForUser(ctx context.Context, userID string) ([]store.Workspace, error)
	GetWorkspace(ctx context.Context, workspaceID string) (store.Workspace, error)
	CheckMembership(ctx context.Context, userID, workspaceID string) (store.Membership, error)
	AddMember(ctx context.Context, workspaceID, userID string) (store.Membership, error)
	CreateDocument(ctx context.Context, workspaceID, title, content, createdByID string) (store.Document, error)
	GetDocument(ctx context.Context, workspaceID, documentID string) (store.Document, error)
	ListDocuments(ctx context.Context, workspaceID string) ([]store.Document, error)
	UpdateDocumentContent(ctx context.Context, workspaceID, documentID, content string) error
	Ping(ctx context.Context) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	cache    *cache.Cache // nil disables the cache-aside layer
	accounts *authpw.Service
	hub      *realtime.Hub
}

func New(cfg config.Config, dataStore dataStore, userStore authpw.UserStore, redisCache *cache.Cache) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		cache:    redisCache,
		accounts: authpw.NewService(userStore),
	}
	s.hub = realtime.NewHub(s, realtime.Options{SendBuffer: cfg.SendBuffer})
	return s
}

// Hub exposes the process-wide realtime hub by handle.
func (s *Service) Hub() *realtime.Hub {
	return s.hub
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Register creates an account and returns it with a signed session token.
func (s *Service) Register(ctx context.Context, name, email, password string) (store.User, string, error) {
	user, err := s.accounts.Register(ctx, name, email, password)
	if err != nil {
		if errors.Is(err, authpw.ErrEmailInUse) {
			return store.User{}, "", domainError(http.StatusConflict, "EMAIL_IN_USE", "Email already in use", nil)
		}
		return store.User{}, "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.Role, s.cfg.AccessTTL)
	if err != nil {
		return store.User{}, "", err
	}
	return user, token, nil
}

// Login verifies credentials and returns the user with a session token.
func (s *Service) Login(ctx context.Context, email, password string) (store.User, string, error) {
	user, err := s.accounts.Login(ctx, email, password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			return store.User{}, "", domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Invalid credentials", nil)
		}
		return store.User{}, "", err
	}
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.Role, s.cfg.AccessTTL)
	if err != nil {
		return store.User{}, "", err
	}
	return user, token, nil
}

// SessionFromToken verifies the token locally and resolves the user.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.UserByID(ctx, claims.UserID)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{Token: token, UserID: user.ID, UserName: user.Name, Role: claims.Role}, nil
}

// VerifyToken resolves caller identity from the raw credential without
// touching the store. Used on the websocket handshake.
func (s *Service) VerifyToken(token string) (auth.Claims, error) {
	return auth.ParseToken([]byte(s.cfg.JWTSecret), token)
}

// UserByID reads through the cache when one is configured.
func (s *Service) UserByID(ctx context.Context, userID string) (store.User, error) {
	if s.cache != nil {
		if user, err := s.cache.GetUser(ctx, userID); err == nil {
			return user, nil
		} else if !errors.Is(err, cache.ErrMiss) {
			log.Printf("cache read failed for user %s: %v", userID, err)
		}
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return store.User{}, err
	}
	if s.cache != nil {
		if err := s.cache.SetUser(ctx, user); err != nil {
			log.Printf("cache write failed for user %s: %v", userID, err)
		}
	}
	return user, nil
}

func (s *Service) CreateWorkspace(ctx context.Context, userID, name string) (store.Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Workspace{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	workspace, err := s.store.CreateWorkspace(ctx, name, userID)
	if err != nil {
		return store.Workspace{}, err
	}
	if s.cache != nil {
		if err := s.cache.InvalidateWorkspaces(ctx, userID); err != nil {
			log.Printf("cache invalidation failed for workspaces of %s: %v", userID, err)
		}
	}
	return workspace, nil
}

// ListWorkspaces returns the workspaces the user is a member of, reading
// through the cache when one is configured.
func (s *Service) ListWorkspaces(ctx context.Context, userID string) ([]store.Workspace, error) {
	if s.cache != nil {
		if workspaces, err := s.cache.GetWorkspaces(ctx, userID); err == nil {
			return workspaces, nil
		} else if !errors.Is(err, cache.ErrMiss) {
			log.Printf("cache read failed for workspaces of %s: %v", userID, err)
		}
	}
	workspaces, err := s.store.ListWorkspacesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetWorkspaces(ctx, userID, workspaces); err != nil {
			log.Printf("cache write failed for workspaces of %s: %v", userID, err)
		}
	}
	return workspaces, nil
}

// GetWorkspace returns a single workspace, gated on membership.
func (s *Service) GetWorkspace(ctx context.Context, userID, workspaceID string) (store.Workspace, error) {
	if _, err := s.store.CheckMembership(ctx, userID, workspaceID); err != nil {
		if errors.Is(err, store.ErrNotAMember) {
			return store.Workspace{}, domainError(http.StatusForbidden, "FORBIDDEN", "You are not a member of this workspace", nil)
		}
		return store.Workspace{}, err
	}
	return s.store.GetWorkspace(ctx, workspaceID)
}

// InviteUser adds a user to the workspace and pushes a workspaceUpdated
// notification to the invitee's personal channel if they are online.
func (s *Service) InviteUser(ctx context.Context, actorID, workspaceID, inviteUserID string) (store.Membership, error) {
	actorMembership, err := s.store.CheckMembership(ctx, actorID, workspaceID)
	if err != nil {
		if errors.Is(err, store.ErrNotAMember) {
			return store.Membership{}, domainError(http.StatusForbidden, "FORBIDDEN", "You are not a member of this workspace", nil)
		}
		return store.Membership{}, err
	}
	if !rbac.Can(rbac.Normalize(actorMembership.Role), rbac.ActionInvite) {
		return store.Membership{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only the workspace owner can invite users", nil)
	}
	if _, err := s.UserByID(ctx, inviteUserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Membership{}, domainError(http.StatusNotFound, "NOT_FOUND", "Invited user not found", nil)
		}
		return store.Membership{}, err
	}

	membership, err := s.store.AddMember(ctx, workspaceID, inviteUserID)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyMember) {
			return store.Membership{}, domainError(http.StatusConflict, "CONFLICT", "User is already a member of this workspace", nil)
		}
		return store.Membership{}, err
	}

	if s.cache != nil {
		if err := s.cache.InvalidateWorkspaces(ctx, inviteUserID); err != nil {
			log.Printf("cache invalidation failed for workspaces of %s: %v", inviteUserID, err)
		}
	}
	s.hub.NotifyWorkspaceUpdated(inviteUserID)
	return membership, nil
}

// AuthorizeDocument answers the membership question for a join: is the
// user permitted to open this document in this workspace. It is asked
// once per connect; later edits rely on the room membership held by the
// realtime hub.
func (s *Service) AuthorizeDocument(ctx context.Context, userID, workspaceID, documentID string) (store.Membership, error) {
	membership, err := s.store.CheckMembership(ctx, userID, workspaceID)
	if err != nil {
		if errors.Is(err, store.ErrNotAMember) {
			return store.Membership{}, domainError(http.StatusForbidden, "FORBIDDEN", "You are not a member of this workspace", nil)
		}
		return store.Membership{}, err
	}
	if _, err := s.store.GetDocument(ctx, workspaceID, documentID); err != nil {
		if errors.Is(err, store.ErrDocumentNotFound) {
			return store.Membership{}, domainError(http.StatusNotFound, "NOT_FOUND", "Document not found in this workspace", nil)
		}
		return store.Membership{}, err
	}
	return membership, nil
}

func (s *Service) CreateDocument(ctx context.Context, userID, workspaceID, title, content string) (store.Document, error) {
	if _, err := s.store.CheckMembership(ctx, userID, workspaceID); err != nil {
		if errors.Is(err, store.ErrNotAMember) {
			return store.Document{}, domainError(http.StatusForbidden, "FORBIDDEN", "You are not a member of this workspace", nil)
		}
		return store.Document{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Document{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	return s.store.CreateDocument(ctx, workspaceID, title, content, userID)
}

func (s *Service) GetDocument(ctx context.Context, userID, workspaceID, documentID string) (store.Document, error) {
	if _, err := s.store.CheckMembership(ctx, userID, workspaceID); err != nil {
		if errors.Is(err, store.ErrNotAMember) {
			return store.Document{}, domainError(http.StatusForbidden, "FORBIDDEN", "You are not a member of this workspace", nil)
		}
		return store.Document{}, err
	}
	document, err := s.store.GetDocument(ctx, workspaceID, documentID)
	if err != nil {
		if errors.Is(err, store.ErrDocumentNotFound) {
			return store.Document{}, domainError(http.StatusNotFound, "NOT_FOUND", "Document not found in this workspace", nil)
		}
		return store.Document{}, err
	}
	return document, nil
}

func (s *Service) ListDocuments(ctx context.Context, userID, workspaceID string) ([]store.Document, error) {
	if _, err := s.store.CheckMembership(ctx, userID, workspaceID); err != nil {
		if errors.Is(err, store.ErrNotAMember) {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "You are not a member of this workspace", nil)
		}
		return nil, err
	}
	return s.store.ListDocuments(ctx, workspaceID)
}

// UpdateDocument replaces the document's content outside a realtime
// session, with the same membership gate as the other document routes.
func (s *Service) UpdateDocument(ctx context.Context, userID, workspaceID, documentID, content string) (store.Document, error) {
	if _, err := s.store.CheckMembership(ctx, userID, workspaceID); err != nil {
		if errors.Is(err, store.ErrNotAMember) {
			return store.Document{}, domainError(http.StatusForbidden, "FORBIDDEN", "You are not a member of this workspace", nil)
		}
		return store.Document{}, err
	}
	if err := s.store.UpdateDocumentContent(ctx, workspaceID, documentID, content); err != nil {
		if errors.Is(err, store.ErrDocumentNotFound) {
			return store.Document{}, domainError(http.StatusNotFound, "NOT_FOUND", "Document not found in this workspace", nil)
		}
		return store.Document{}, err
	}
	return s.store.GetDocument(ctx, workspaceID, documentID)
}

// PersistContent implements realtime.Persister. Membership was checked
// at join time; this is the durable write behind a broadcast.
func (s *Service) PersistContent(ctx context.Context, userID, workspaceID, documentID, content string) error {
	return s.store.UpdateDocumentContent(ctx, workspaceID, documentID, content)
}
