package store

import "time"

type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Workspace struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Membership is a user's role-bearing association with a workspace.
type Membership struct {
	ID          string
	UserID      string
	WorkspaceID string
	Role        string
	CreatedAt   time.Time
}

type Document struct {
	ID          string
	WorkspaceID string
	Title       string
	Content     string
	CreatedByID string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
