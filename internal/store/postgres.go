package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"brainvector/api/internal/util"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateEmail   = errors.New("email already in use")
	ErrAlreadyMember    = errors.New("user is already a member of this workspace")
	ErrNotAMember       = errors.New("not a member of this workspace")
	ErrDocumentNotFound = errors.New("document not found")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, name, email, passwordHash string) (User, error) {
	user := User{
		ID:           util.NewID("usr"),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         "User",
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.Role)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrDuplicateEmail
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, role FROM users WHERE email=$1
	`, email).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, role FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Name, &user.Email, &user.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) CreateWorkspace(ctx context.Context, name, ownerID string) (Workspace, error) {
	workspace := Workspace{
		ID:      util.NewID("wsp"),
		Name:    name,
		OwnerID: ownerID,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Workspace{}, fmt.Errorf("begin create workspace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workspaces (id, name, owner_id) VALUES ($1, $2, $3)
	`, workspace.ID, workspace.Name, workspace.OwnerID); err != nil {
		return Workspace{}, fmt.Errorf("insert workspace: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workspace_members (id, user_id, workspace_id, role)
		VALUES ($1, $2, $3, 'Owner')
	`, util.NewID("mbr"), ownerID, workspace.ID); err != nil {
		return Workspace{}, fmt.Errorf("insert owner membership: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Workspace{}, fmt.Errorf("commit create workspace: %w", err)
	}
	return workspace, nil
}

func (s *PostgresStore) ListWorkspacesForUser(ctx context.Context, userID string) ([]Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.id, w.name, w.owner_id
		FROM workspace_members wm
		JOIN workspaces w ON w.id = wm.workspace_id
		WHERE wm.user_id = $1
		ORDER BY w.created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	workspaces := make([]Workspace, 0)
	for rows.Next() {
		var workspace Workspace
		if err := rows.Scan(&workspace.ID, &workspace.Name, &workspace.OwnerID); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		workspaces = append(workspaces, workspace)
	}
	return workspaces, rows.Err()
}

// CheckMembership answers the Membership Oracle query for (user, workspace).
func (s *PostgresStore) CheckMembership(ctx context.Context, userID, workspaceID string) (Membership, error) {
	var membership Membership
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, workspace_id, role
		FROM workspace_members
		WHERE user_id=$1 AND workspace_id=$2
	`, userID, workspaceID).Scan(&membership.ID, &membership.UserID, &membership.WorkspaceID, &membership.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return Membership{}, ErrNotAMember
	}
	if err != nil {
		return Membership{}, fmt.Errorf("check membership: %w", err)
	}
	return membership, nil
}

func (s *PostgresStore) AddMember(ctx context.Context, workspaceID, userID string) (Membership, error) {
	if _, err := s.CheckMembership(ctx, userID, workspaceID); err == nil {
		return Membership{}, ErrAlreadyMember
	} else if !errors.Is(err, ErrNotAMember) {
		return Membership{}, err
	}
	membership := Membership{
		ID:          util.NewID("mbr"),
		UserID:      userID,
		WorkspaceID: workspaceID,
		Role:        "Member",
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_members (id, user_id, workspace_id, role)
		VALUES ($1, $2, $3, $4)
	`, membership.ID, membership.UserID, membership.WorkspaceID, membership.Role)
	if err != nil {
		if isUniqueViolation(err) {
			return Membership{}, ErrAlreadyMember
		}
		return Membership{}, fmt.Errorf("insert membership: %w", err)
	}
	return membership, nil
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, workspaceID string) (Workspace, error) {
	var workspace Workspace
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner_id FROM workspaces WHERE id=$1
	`, workspaceID).Scan(&workspace.ID, &workspace.Name, &workspace.OwnerID)
	if errors.Is(err, sql.ErrNoRows) {
		return Workspace{}, ErrNotFound
	}
	if err != nil {
		return Workspace{}, fmt.Errorf("lookup workspace: %w", err)
	}
	return workspace, nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, workspaceID, title, content, createdByID string) (Document, error) {
	document := Document{
		ID:          util.NewID("doc"),
		WorkspaceID: workspaceID,
		Title:       title,
		Content:     content,
		CreatedByID: createdByID,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, workspace_id, title, content, created_by)
		VALUES ($1, $2, $3, $4, $5)
	`, document.ID, document.WorkspaceID, document.Title, document.Content, document.CreatedByID)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return document, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, workspaceID, documentID string) (Document, error) {
	var document Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, title, content, created_by, updated_at
		FROM documents
		WHERE id=$1 AND workspace_id=$2
	`, documentID, workspaceID).Scan(
		&document.ID, &document.WorkspaceID, &document.Title,
		&document.Content, &document.CreatedByID, &document.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrDocumentNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("lookup document: %w", err)
	}
	return document, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, workspaceID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, title, created_by, updated_at
		FROM documents
		WHERE workspace_id=$1
		ORDER BY updated_at DESC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	documents := make([]Document, 0)
	for rows.Next() {
		var document Document
		if err := rows.Scan(&document.ID, &document.WorkspaceID, &document.Title, &document.CreatedByID, &document.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, document)
	}
	return documents, rows.Err()
}

// UpdateDocumentContent is the durable write the realtime coordinator issues
// after a broadcast. It is best-effort from the caller's perspective.
func (s *PostgresStore) UpdateDocumentContent(ctx context.Context, workspaceID, documentID, content string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET content=$1, updated_at=NOW()
		WHERE id=$2 AND workspace_id=$3
	`, content, documentID, workspaceID)
	if err != nil {
		return fmt.Errorf("update document content: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document content: %w", err)
	}
	if affected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	// pgx wraps server errors; SQLSTATE 23505 is unique_violation.
	type sqlState interface{ SQLState() string }
	var state sqlState
	if errors.As(err, &state) {
		return state.SQLState() == "23505"
	}
	return false
}
