package app

import (
	"context"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"caseflow/api/internal/auth"
	"caseflow/api/internal/authpw"
	"caseflow/api/internal/config"
	"caseflow/api/internal/metrics"
	"caseflow/api/internal/roles"
	"caseflow/api/internal/search"
	"caseflow/api/internal/session"
	"caseflow/api/internal/store"
	"caseflow/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	BrokerID     string
	BrokerName   string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetBroker(context.Context, string) (store.Broker, error)
	GetBrokerByEmail(context.Context, string) (store.Broker, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	CreateCase(context.Context, string, string, string) (store.Case, error)
	GetCase(context.Context, string) (store.Case, error)
	ListCasesForBroker(context.Context, string) ([]store.Case, error)

	GetCollaborator(context.Context, string, string) (store.Collaborator, error)
	GetCollaboratorByID(context.Context, string) (store.Collaborator, error)
	ListCollaborators(context.Context, string) ([]store.Collaborator, error)
	UpsertCollaboratorInvite(context.Context, store.Collaborator) (store.Collaborator, error)
	AcceptCollaborator(context.Context, string, string) (store.Collaborator, error)
	SetCollaboratorStatus(context.Context, string, store.CollaboratorStatus) error
	UpdateCollaboratorRole(context.Context, string, string, bool, bool, bool, bool) (store.Collaborator, error)
	UpdateCollaboratorPermissions(context.Context, string, bool, bool, bool, bool) (store.Collaborator, error)

	InsertMilestone(context.Context, store.Milestone) (store.Milestone, error)
	GetMilestone(context.Context, string) (store.Milestone, error)
	ListMilestones(context.Context, string) ([]store.Milestone, error)
	UpdateMilestone(context.Context, store.Milestone) (store.Milestone, error)
	DeleteMilestone(context.Context, string) error

	InsertTimelineEntry(context.Context, store.TimelineEntry) (store.TimelineEntry, error)
	ListTimeline(context.Context, string) ([]store.TimelineEntry, error)
	FeedForBroker(context.Context, string, int) ([]store.TimelineEntry, error)

	InsertCaseDocument(context.Context, store.CaseDocument) (store.CaseDocument, error)
	GetCaseDocument(context.Context, string) (store.CaseDocument, error)
	ListCaseDocuments(context.Context, string) ([]store.CaseDocument, error)
	MarkDocumentVerified(context.Context, string, string) (store.CaseDocument, error)

	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, brokerID, fullName string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (session.TokenData, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type dispatcher interface {
	CollaboratorAdded(ctx context.Context, collab store.Collaborator, inviterName, clientName, roleDescription, caseURL string)
	CollaboratorRemoved(ctx context.Context, caseID, brokerID string)
	MilestoneChanged(ctx context.Context, m store.Milestone, clientName string)
	MilestoneDeadlineSet(ctx context.Context, m store.Milestone, clientName string, owner store.Broker, caseURL string)
	MilestoneCompleted(ctx context.Context, m store.Milestone, completedBy string)
	MilestoneDeleted(ctx context.Context, caseID, milestoneID string)
	CommentPosted(ctx context.Context, entry store.TimelineEntry, mentioned []string)
	DocumentUploaded(ctx context.Context, doc store.CaseDocument)
}

type searchIndexer interface {
	Search(q search.Query) search.Response
	IndexCase(c search.CaseRecord)
	IndexMilestone(m search.MilestoneRecord)
	DeleteMilestone(id string)
}

type fileStore interface {
	Upload(ctx context.Context, caseID, documentID, fileName, contentType string, size int64, r io.Reader) (string, error)
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	authpw   *authpw.Service
	dispatch dispatcher
	searcher searchIndexer
	files    fileStore
	logger   *zap.Logger
}

func New(cfg config.Config, dataStore dataStore, sessions sessionStore, authpwService *authpw.Service, dispatch dispatcher, searcher searchIndexer, files fileStore, logger *zap.Logger) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		authpw:   authpwService,
		dispatch: dispatch,
		searcher: searcher,
		files:    files,
		logger:   logger,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- sessions ---

func (s *Service) SignUp(ctx context.Context, email, password, fullName string) (Session, error) {
	broker, err := s.authpw.SignUp(ctx, authpw.SignUpRequest{Email: email, Password: password, FullName: fullName})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, broker)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	broker, err := s.authpw.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, broker)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	data, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	broker, err := s.store.GetBroker(ctx, data.BrokerID)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	return s.issueSession(ctx, broker)
}

func (s *Service) issueSession(ctx context.Context, broker store.Broker) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  broker.ID,
		Name: broker.FullName,
		JTI:  jti,
		Exp:  expiresAt,
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), broker.ID, broker.FullName, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		BrokerID:     broker.ID,
		BrokerName:   broker.FullName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	broker, err := s.store.GetBroker(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:      token,
		BrokerID:   broker.ID,
		BrokerName: broker.FullName,
		JTI:        claims.JTI,
		ExpiresAt:  claims.Exp,
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// --- cases ---

func (s *Service) CreateCase(ctx context.Context, session Session, clientName string) (map[string]any, error) {
	clientName = strings.TrimSpace(clientName)
	if clientName == "" {
		return nil, validationError("Client name is required")
	}

	c, err := s.store.CreateCase(ctx, util.NewID("case"), clientName, session.BrokerID)
	if err != nil {
		return nil, err
	}

	// The creator gets an explicit, already-active owner row alongside the
	// legacy primary_owner_id reference.
	ownerRow := store.Collaborator{
		ID:          util.NewID("col"),
		CaseID:      c.ID,
		BrokerID:    session.BrokerID,
		Role:        roles.Owner,
		Permissions: roles.Defaults(roles.Owner),
		InvitedBy:   session.BrokerID,
	}
	if _, err := s.store.UpsertCollaboratorInvite(ctx, ownerRow); err != nil {
		return nil, err
	}
	if _, err := s.store.AcceptCollaborator(ctx, c.ID, session.BrokerID); err != nil {
		return nil, err
	}

	s.appendTimeline(ctx, store.TimelineEntry{
		ID:       util.NewID("te"),
		CaseID:   c.ID,
		AuthorID: &session.BrokerID,
		Type:     store.EntrySystem,
		Content:  "Case created",
	})

	if s.searcher != nil {
		s.searcher.IndexCase(search.CaseRecord{ID: c.ID, ClientName: c.ClientName, Status: c.Status, CaseID: c.ID})
	}

	return caseView(c), nil
}

func (s *Service) ListCases(ctx context.Context, session Session) ([]map[string]any, error) {
	cases, err := s.store.ListCasesForBroker(ctx, session.BrokerID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(cases))
	for _, c := range cases {
		items = append(items, caseView(c))
	}
	return items, nil
}

func (s *Service) GetCaseDetail(ctx context.Context, session Session, caseID string) (map[string]any, error) {
	access, c, err := s.requireAccess(ctx, caseID, session.BrokerID)
	if err != nil {
		return nil, err
	}

	collaborators, err := s.store.ListCollaborators(ctx, caseID)
	if err != nil {
		return nil, err
	}
	milestones, err := s.store.ListMilestones(ctx, caseID)
	if err != nil {
		return nil, err
	}

	completed := 0
	for _, m := range milestones {
		if m.Status == store.MilestoneCompleted {
			completed++
		}
	}

	view := caseView(c)
	view["collaborators"] = collaboratorViews(collaborators)
	view["milestoneCount"] = len(milestones)
	view["milestonesCompleted"] = completed
	view["access"] = map[string]any{
		"isOwner":          access.IsOwner,
		"isOwnerOrCoOwner": access.IsOwnerOrCoOwner,
		"canEdit":          access.CanEdit,
		"canApprove":       access.CanApprove,
		"canMessage":       access.CanMessage,
		"canUpload":        access.CanUpload,
	}
	return view, nil
}

// --- search ---

func (s *Service) SearchCases(ctx context.Context, session Session, text string, filterType string, limit, offset int) (search.Response, error) {
	if s.searcher == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	cases, err := s.store.ListCasesForBroker(ctx, session.BrokerID)
	if err != nil {
		return search.Response{}, err
	}
	allowed := make([]string, 0, len(cases))
	for _, c := range cases {
		allowed = append(allowed, c.ID)
	}
	return s.searcher.Search(search.Query{
		Text:           text,
		FilterType:     search.ResultType(filterType),
		AllowedCaseIDs: allowed,
		Limit:          limit,
		Offset:         offset,
	}), nil
}

// appendTimeline writes one audit entry after a committed mutation. A
// failure here must not fail the mutation, so it is logged and counted
// instead of returned.
func (s *Service) appendTimeline(ctx context.Context, entry store.TimelineEntry) store.TimelineEntry {
	out, err := s.store.InsertTimelineEntry(ctx, entry)
	if err != nil {
		metrics.IncrementTimelineAppendFailure()
		s.logger.Error("timeline append failed, audit trail is missing an entry",
			zap.String("case_id", entry.CaseID),
			zap.String("entry_type", string(entry.Type)),
			zap.Error(err))
		return entry
	}
	return out
}

func caseView(c store.Case) map[string]any {
	return map[string]any{
		"id":             c.ID,
		"clientName":     c.ClientName,
		"primaryOwnerId": c.PrimaryOwnerID,
		"status":         c.Status,
		"createdAt":      c.CreatedAt,
		"updatedAt":      c.UpdatedAt,
	}
}
