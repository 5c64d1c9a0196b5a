package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"brainvector/api/internal/config"
	"brainvector/api/internal/store"
)

// fakeStore is an in-memory stand-in for the Postgres store. It keeps
// just enough state for the HTTP and realtime flows under test.
type fakeStore struct {
	mu          sync.Mutex
	seq         int
	users       map[string]store.User
	workspaces  map[string]store.Workspace
	memberships map[string][]store.Membership // workspaceID -> members
	documents   map[string]store.Document
	pingErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       map[string]store.User{},
		workspaces:  map[string]store.Workspace{},
		memberships: map[string][]store.Membership{},
		documents:   map[string]store.Document{},
	}
}

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

func (f *fakeStore) CreateUser(_ context.Context, name, email, passwordHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			return store.User{}, store.ErrDuplicateEmail
		}
	}
	user := store.User{
		ID:           f.nextID("usr"),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         "User",
		CreatedAt:    time.Now().UTC(),
	}
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	user.PasswordHash = ""
	return user, nil
}

func (f *fakeStore) CreateWorkspace(_ context.Context, name, ownerID string) (store.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	workspace := store.Workspace{
		ID:      f.nextID("wsp"),
		Name:    name,
		OwnerID: ownerID,
	}
	f.workspaces[workspace.ID] = workspace
	f.memberships[workspace.ID] = append(f.memberships[workspace.ID], store.Membership{
		ID:          f.nextID("mbr"),
		UserID:      ownerID,
		WorkspaceID: workspace.ID,
		Role:        "Owner",
	})
	return workspace, nil
}

func (f *fakeStore) ListWorkspacesForUser(_ context.Context, userID string) ([]store.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	workspaces := make([]store.Workspace, 0)
	for workspaceID, members := range f.memberships {
		for _, membership := range members {
			if membership.UserID == userID {
				workspaces = append(workspaces, f.workspaces[workspaceID])
			}
		}
	}
	return workspaces, nil
}

func (f *fakeStore) GetWorkspace(_ context.Context, workspaceID string) (store.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	workspace, ok := f.workspaces[workspaceID]
	if !ok {
		return store.Workspace{}, store.ErrNotFound
	}
	return workspace, nil
}

func (f *fakeStore) CheckMembership(_ context.Context, userID, workspaceID string) (store.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, membership := range f.memberships[workspaceID] {
		if membership.UserID == userID {
			return membership, nil
		}
	}
	return store.Membership{}, store.ErrNotAMember
}

func (f *fakeStore) AddMember(_ context.Context, workspaceID, userID string) (store.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, membership := range f.memberships[workspaceID] {
		if membership.UserID == userID {
			return store.Membership{}, store.ErrAlreadyMember
		}
	}
	membership := store.Membership{
		ID:          f.nextID("mbr"),
		UserID:      userID,
		WorkspaceID: workspaceID,
		Role:        "Member",
	}
	f.memberships[workspaceID] = append(f.memberships[workspaceID], membership)
	return membership, nil
}

func (f *fakeStore) CreateDocument(_ context.Context, workspaceID, title, content, createdByID string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	document := store.Document{
		ID:          f.nextID("doc"),
		WorkspaceID: workspaceID,
		Title:       title,
		Content:     content,
		CreatedByID: createdByID,
	}
	f.documents[document.ID] = document
	return document, nil
}

func (f *fakeStore) GetDocument(_ context.Context, workspaceID, documentID string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	document, ok := f.documents[documentID]
	if !ok || document.WorkspaceID != workspaceID {
		return store.Document{}, store.ErrDocumentNotFound
	}
	return document, nil
}

func (f *fakeStore) ListDocuments(_ context.Context, workspaceID string) ([]store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	documents := make([]store.Document, 0)
	for _, document := range f.documents {
		if document.WorkspaceID == workspaceID {
			documents = append(documents, document)
		}
	}
	return documents, nil
}

func (f *fakeStore) UpdateDocumentContent(_ context.Context, workspaceID, documentID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	document, ok := f.documents[documentID]
	if !ok || document.WorkspaceID != workspaceID {
		return store.ErrDocumentNotFound
	}
	document.Content = content
	f.documents[documentID] = document
	return nil
}

func (f *fakeStore) DocumentContent(documentID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.documents[documentID].Content
}

func (f *fakeStore) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func newTestService(fs *fakeStore) *Service {
	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		CORSOrigin: "*",
		SendBuffer: 16,
	}
	return New(cfg, fs, fs, nil)
}
