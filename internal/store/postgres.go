package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
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

// --- brokers ---

func (s *PostgresStore) CreateBroker(ctx context.Context, id, fullName, email, passwordHash string) (Broker, error) {
	var b Broker
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO brokers (id, full_name, email, password_hash)
		VALUES ($1, $2, LOWER($3), $4)
		RETURNING id, full_name, email, avatar_url, password_hash, created_at, updated_at
	`, id, fullName, email, passwordHash).Scan(&b.ID, &b.FullName, &b.Email, &b.AvatarURL, &b.PasswordHash, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Broker{}, fmt.Errorf("insert broker: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) GetBroker(ctx context.Context, brokerID string) (Broker, error) {
	var b Broker
	err := s.db.QueryRowContext(ctx, `
		SELECT id, full_name, email, avatar_url, password_hash, created_at, updated_at
		FROM brokers WHERE id=$1
	`, brokerID).Scan(&b.ID, &b.FullName, &b.Email, &b.AvatarURL, &b.PasswordHash, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Broker{}, err
	}
	return b, nil
}

func (s *PostgresStore) GetBrokerByEmail(ctx context.Context, email string) (Broker, error) {
	var b Broker
	err := s.db.QueryRowContext(ctx, `
		SELECT id, full_name, email, avatar_url, password_hash, created_at, updated_at
		FROM brokers WHERE email=LOWER($1)
	`, email).Scan(&b.ID, &b.FullName, &b.Email, &b.AvatarURL, &b.PasswordHash, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Broker{}, err
	}
	return b, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// --- cases ---

func (s *PostgresStore) CreateCase(ctx context.Context, id, clientName, primaryOwnerID string) (Case, error) {
	var c Case
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO cases (id, client_name, primary_owner_id)
		VALUES ($1, $2, $3)
		RETURNING id, client_name, primary_owner_id, status, created_at, updated_at
	`, id, clientName, primaryOwnerID).Scan(&c.ID, &c.ClientName, &c.PrimaryOwnerID, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Case{}, fmt.Errorf("insert case: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) GetCase(ctx context.Context, caseID string) (Case, error) {
	var c Case
	err := s.db.QueryRowContext(ctx, `
		SELECT id, client_name, primary_owner_id, status, created_at, updated_at
		FROM cases WHERE id=$1
	`, caseID).Scan(&c.ID, &c.ClientName, &c.PrimaryOwnerID, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Case{}, err
	}
	return c, nil
}

// ListCasesForBroker returns every case the broker legacy-owns or holds a
// non-removed roster row on.
func (s *PostgresStore) ListCasesForBroker(ctx context.Context, brokerID string) ([]Case, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_name, primary_owner_id, status, created_at, updated_at
		FROM cases c
		WHERE c.primary_owner_id = $1
			OR EXISTS (
				SELECT 1 FROM case_collaborators cc
				WHERE cc.case_id = c.id AND cc.broker_id = $1 AND cc.status IN ('pending', 'active')
			)
		ORDER BY updated_at DESC
	`, brokerID)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	items := make([]Case, 0)
	for rows.Next() {
		var c Case
		if err := rows.Scan(&c.ID, &c.ClientName, &c.PrimaryOwnerID, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	return items, nil
}

// --- collaborators ---

const collaboratorColumns = `
	cc.id, cc.case_id, cc.broker_id, cc.role,
	cc.can_edit, cc.can_approve, cc.can_message, cc.can_upload,
	cc.status, cc.invited_by, cc.invited_at, cc.accepted_at,
	b.full_name, b.email, b.avatar_url
`

func scanCollaborator(row interface{ Scan(...any) error }) (Collaborator, error) {
	var c Collaborator
	err := row.Scan(
		&c.ID, &c.CaseID, &c.BrokerID, &c.Role,
		&c.Permissions.CanEdit, &c.Permissions.CanApprove, &c.Permissions.CanMessage, &c.Permissions.CanUpload,
		&c.Status, &c.InvitedBy, &c.InvitedAt, &c.AcceptedAt,
		&c.BrokerName, &c.BrokerEmail, &c.BrokerAvatar,
	)
	return c, err
}

func (s *PostgresStore) GetCollaborator(ctx context.Context, caseID, brokerID string) (Collaborator, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+collaboratorColumns+`
		FROM case_collaborators cc
		JOIN brokers b ON b.id = cc.broker_id
		WHERE cc.case_id=$1 AND cc.broker_id=$2
	`, caseID, brokerID)
	return scanCollaborator(row)
}

func (s *PostgresStore) GetCollaboratorByID(ctx context.Context, collaboratorID string) (Collaborator, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+collaboratorColumns+`
		FROM case_collaborators cc
		JOIN brokers b ON b.id = cc.broker_id
		WHERE cc.id=$1
	`, collaboratorID)
	return scanCollaborator(row)
}

func (s *PostgresStore) ListCollaborators(ctx context.Context, caseID string) ([]Collaborator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+collaboratorColumns+`
		FROM case_collaborators cc
		JOIN brokers b ON b.id = cc.broker_id
		WHERE cc.case_id=$1 AND cc.status <> 'removed'
		ORDER BY cc.invited_at ASC
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	defer rows.Close()

	items := make([]Collaborator, 0)
	for rows.Next() {
		c, err := scanCollaborator(rows)
		if err != nil {
			return nil, fmt.Errorf("scan collaborator: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collaborators: %w", err)
	}
	return items, nil
}

// UpsertCollaboratorInvite writes a pending roster row. A previously removed
// row for the same (case, broker) pair is reused in place, so the unique
// constraint holds across re-invites. The caller is responsible for rejecting
// invites while a pending or active row exists.
func (s *PostgresStore) UpsertCollaboratorInvite(ctx context.Context, c Collaborator) (Collaborator, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO case_collaborators (id, case_id, broker_id, role, can_edit, can_approve, can_message, can_upload, status, invited_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9)
		ON CONFLICT (case_id, broker_id) DO UPDATE SET
			role=EXCLUDED.role,
			can_edit=EXCLUDED.can_edit,
			can_approve=EXCLUDED.can_approve,
			can_message=EXCLUDED.can_message,
			can_upload=EXCLUDED.can_upload,
			status='pending',
			invited_by=EXCLUDED.invited_by,
			invited_at=NOW(),
			accepted_at=NULL
		RETURNING id
	`, c.ID, c.CaseID, c.BrokerID, c.Role,
		c.Permissions.CanEdit, c.Permissions.CanApprove, c.Permissions.CanMessage, c.Permissions.CanUpload,
		c.InvitedBy).Scan(&id)
	if err != nil {
		return Collaborator{}, fmt.Errorf("upsert collaborator invite: %w", err)
	}
	return s.GetCollaboratorByID(ctx, id)
}

func (s *PostgresStore) AcceptCollaborator(ctx context.Context, caseID, brokerID string) (Collaborator, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		UPDATE case_collaborators
		SET status='active', accepted_at=NOW()
		WHERE case_id=$1 AND broker_id=$2 AND status='pending'
		RETURNING id
	`, caseID, brokerID).Scan(&id)
	if err != nil {
		return Collaborator{}, err
	}
	return s.GetCollaboratorByID(ctx, id)
}

func (s *PostgresStore) SetCollaboratorStatus(ctx context.Context, collaboratorID string, status CollaboratorStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE case_collaborators SET status=$2 WHERE id=$1
	`, collaboratorID, status)
	if err != nil {
		return fmt.Errorf("set collaborator status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set collaborator status: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateCollaboratorRole rewrites role and all four permission flags in one
// statement, so a role change always discards earlier overrides.
func (s *PostgresStore) UpdateCollaboratorRole(ctx context.Context, collaboratorID string, role string, canEdit, canApprove, canMessage, canUpload bool) (Collaborator, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		UPDATE case_collaborators
		SET role=$2, can_edit=$3, can_approve=$4, can_message=$5, can_upload=$6
		WHERE id=$1
		RETURNING id
	`, collaboratorID, role, canEdit, canApprove, canMessage, canUpload).Scan(&id)
	if err != nil {
		return Collaborator{}, err
	}
	return s.GetCollaboratorByID(ctx, id)
}

func (s *PostgresStore) UpdateCollaboratorPermissions(ctx context.Context, collaboratorID string, canEdit, canApprove, canMessage, canUpload bool) (Collaborator, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		UPDATE case_collaborators
		SET can_edit=$2, can_approve=$3, can_message=$4, can_upload=$5
		WHERE id=$1
		RETURNING id
	`, collaboratorID, canEdit, canApprove, canMessage, canUpload).Scan(&id)
	if err != nil {
		return Collaborator{}, err
	}
	return s.GetCollaboratorByID(ctx, id)
}

// --- milestones ---

const milestoneColumns = `
	id, case_id, title, description, status, priority, owner_id, due_date,
	sort_order, started_at, completed_at, completed_by, created_at, updated_at
`

func scanMilestone(row interface{ Scan(...any) error }) (Milestone, error) {
	var m Milestone
	err := row.Scan(
		&m.ID, &m.CaseID, &m.Title, &m.Description, &m.Status, &m.Priority,
		&m.OwnerID, &m.DueDate, &m.SortOrder, &m.StartedAt, &m.CompletedAt,
		&m.CompletedBy, &m.CreatedAt, &m.UpdatedAt,
	)
	return m, err
}

func (s *PostgresStore) InsertMilestone(ctx context.Context, m Milestone) (Milestone, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO milestones (id, case_id, title, description, status, priority, owner_id, due_date, sort_order)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, COALESCE(MAX(sort_order), 0) + 1
		FROM milestones WHERE case_id = $2
		RETURNING `+milestoneColumns+`
	`, m.ID, m.CaseID, m.Title, m.Description, m.Status, m.Priority, m.OwnerID, m.DueDate)
	out, err := scanMilestone(row)
	if err != nil {
		return Milestone{}, fmt.Errorf("insert milestone: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetMilestone(ctx context.Context, milestoneID string) (Milestone, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+milestoneColumns+` FROM milestones WHERE id=$1
	`, milestoneID)
	return scanMilestone(row)
}

func (s *PostgresStore) ListMilestones(ctx context.Context, caseID string) ([]Milestone, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+milestoneColumns+` FROM milestones WHERE case_id=$1 ORDER BY sort_order ASC
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	defer rows.Close()

	items := make([]Milestone, 0)
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, fmt.Errorf("scan milestone: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate milestones: %w", err)
	}
	return items, nil
}

// UpdateMilestone rewrites every mutable column from the given snapshot.
// Status timestamps arrive already computed by the caller.
func (s *PostgresStore) UpdateMilestone(ctx context.Context, m Milestone) (Milestone, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE milestones
		SET title=$2, description=$3, status=$4, priority=$5, owner_id=$6, due_date=$7,
			sort_order=$8, started_at=$9, completed_at=$10, completed_by=$11, updated_at=NOW()
		WHERE id=$1
		RETURNING `+milestoneColumns+`
	`, m.ID, m.Title, m.Description, m.Status, m.Priority, m.OwnerID, m.DueDate,
		m.SortOrder, m.StartedAt, m.CompletedAt, m.CompletedBy)
	out, err := scanMilestone(row)
	if err != nil {
		return Milestone{}, err
	}
	return out, nil
}

func (s *PostgresStore) DeleteMilestone(ctx context.Context, milestoneID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM milestones WHERE id=$1`, milestoneID)
	if err != nil {
		return fmt.Errorf("delete milestone: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete milestone: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- timeline ---

func (s *PostgresStore) InsertTimelineEntry(ctx context.Context, e TimelineEntry) (TimelineEntry, error) {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return TimelineEntry{}, fmt.Errorf("encode entry metadata: %w", err)
	}

	var out TimelineEntry
	var rawOut []byte
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO timeline_entries (id, case_id, author_id, type, content, metadata, milestone_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, case_id, author_id, type, content, metadata, milestone_id, created_at
	`, e.ID, e.CaseID, e.AuthorID, e.Type, e.Content, raw, e.MilestoneID).Scan(
		&out.ID, &out.CaseID, &out.AuthorID, &out.Type, &out.Content, &rawOut, &out.MilestoneID, &out.CreatedAt,
	)
	if err != nil {
		return TimelineEntry{}, fmt.Errorf("insert timeline entry: %w", err)
	}
	if err := json.Unmarshal(rawOut, &out.Metadata); err != nil {
		return TimelineEntry{}, fmt.Errorf("decode entry metadata: %w", err)
	}
	return out, nil
}

// ListTimeline returns a case's entries oldest first, with the author joined
// in for display.
func (s *PostgresStore) ListTimeline(ctx context.Context, caseID string) ([]TimelineEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT te.id, te.case_id, te.author_id, te.type, te.content, te.metadata, te.milestone_id, te.created_at,
			COALESCE(b.full_name, '')
		FROM timeline_entries te
		LEFT JOIN brokers b ON b.id = te.author_id
		WHERE te.case_id=$1
		ORDER BY te.created_at ASC, te.id ASC
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	defer rows.Close()
	return collectTimelineEntries(rows, false)
}

// FeedForBroker returns the newest entries across every case the broker can
// see, newest first.
func (s *PostgresStore) FeedForBroker(ctx context.Context, brokerID string, limit int) ([]TimelineEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT te.id, te.case_id, te.author_id, te.type, te.content, te.metadata, te.milestone_id, te.created_at,
			COALESCE(b.full_name, ''), c.client_name
		FROM timeline_entries te
		JOIN cases c ON c.id = te.case_id
		LEFT JOIN brokers b ON b.id = te.author_id
		WHERE c.primary_owner_id = $1
			OR EXISTS (
				SELECT 1 FROM case_collaborators cc
				WHERE cc.case_id = c.id AND cc.broker_id = $1 AND cc.status IN ('pending', 'active')
			)
		ORDER BY te.created_at DESC, te.id DESC
		LIMIT $2
	`, brokerID, limit)
	if err != nil {
		return nil, fmt.Errorf("feed timeline: %w", err)
	}
	defer rows.Close()
	return collectTimelineEntries(rows, true)
}

func collectTimelineEntries(rows *sql.Rows, withClient bool) ([]TimelineEntry, error) {
	items := make([]TimelineEntry, 0)
	for rows.Next() {
		var e TimelineEntry
		var raw []byte
		dest := []any{&e.ID, &e.CaseID, &e.AuthorID, &e.Type, &e.Content, &raw, &e.MilestoneID, &e.CreatedAt, &e.AuthorName}
		if withClient {
			dest = append(dest, &e.ClientName)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan timeline entry: %w", err)
		}
		if err := json.Unmarshal(raw, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode entry metadata: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline entries: %w", err)
	}
	return items, nil
}

// --- documents ---

const documentColumns = `id, case_id, file_name, size_bytes, url, uploaded_by, verified_by, verified_at, created_at`

func scanDocument(row interface{ Scan(...any) error }) (CaseDocument, error) {
	var d CaseDocument
	err := row.Scan(&d.ID, &d.CaseID, &d.FileName, &d.Size, &d.URL, &d.UploadedBy, &d.VerifiedBy, &d.VerifiedAt, &d.CreatedAt)
	return d, err
}

func (s *PostgresStore) InsertCaseDocument(ctx context.Context, d CaseDocument) (CaseDocument, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO case_documents (id, case_id, file_name, size_bytes, url, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+documentColumns+`
	`, d.ID, d.CaseID, d.FileName, d.Size, d.URL, d.UploadedBy)
	out, err := scanDocument(row)
	if err != nil {
		return CaseDocument{}, fmt.Errorf("insert case document: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetCaseDocument(ctx context.Context, documentID string) (CaseDocument, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+` FROM case_documents WHERE id=$1
	`, documentID)
	return scanDocument(row)
}

func (s *PostgresStore) ListCaseDocuments(ctx context.Context, caseID string) ([]CaseDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM case_documents WHERE case_id=$1 ORDER BY created_at DESC
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list case documents: %w", err)
	}
	defer rows.Close()

	items := make([]CaseDocument, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case document: %w", err)
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate case documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) MarkDocumentVerified(ctx context.Context, documentID, verifiedBy string) (CaseDocument, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE case_documents SET verified_by=$2, verified_at=NOW() WHERE id=$1
		RETURNING `+documentColumns+`
	`, documentID, verifiedBy)
	out, err := scanDocument(row)
	if err != nil {
		return CaseDocument{}, err
	}
	return out, nil
}
