package app

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"caseflow/api/internal/store"
	"caseflow/api/internal/util"
)

type PostCommentInput struct {
	Content  string   `json:"content"`
	Mentions []string `json:"mentions"`
}

func (s *Service) ListCaseTimeline(ctx context.Context, session Session, caseID string) ([]map[string]any, error) {
	if _, _, err := s.requireAccess(ctx, caseID, session.BrokerID); err != nil {
		return nil, err
	}
	entries, err := s.store.ListTimeline(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return timelineViews(entries), nil
}

// Feed aggregates the newest entries across every case the broker can see.
func (s *Service) Feed(ctx context.Context, session Session, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = s.cfg.FeedLimit
	}
	if limit > 200 {
		limit = 200
	}
	entries, err := s.store.FeedForBroker(ctx, session.BrokerID, limit)
	if err != nil {
		return nil, err
	}
	return timelineViews(entries), nil
}

// PostComment appends a comment entry, plus one mention entry per mentioned
// broker. Unlike the audit appends, the comment write is the mutation
// itself, so its failure does fail the request.
func (s *Service) PostComment(ctx context.Context, session Session, caseID string, input PostCommentInput) (map[string]any, error) {
	access, _, err := s.ResolveAccess(ctx, caseID, session.BrokerID)
	if err != nil {
		return nil, err
	}
	if !access.CanMessage {
		return nil, forbidden("You do not have message permission on this case")
	}

	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, validationError("Comment content is required")
	}

	entry, err := s.store.InsertTimelineEntry(ctx, store.TimelineEntry{
		ID:       util.NewID("te"),
		CaseID:   caseID,
		AuthorID: &session.BrokerID,
		Type:     store.EntryComment,
		Content:  content,
	})
	if err != nil {
		return nil, err
	}

	mentioned := make([]string, 0, len(input.Mentions))
	for _, brokerID := range input.Mentions {
		brokerID = strings.TrimSpace(brokerID)
		if brokerID == "" || brokerID == session.BrokerID {
			continue
		}
		broker, err := s.store.GetBroker(ctx, brokerID)
		if err != nil {
			continue
		}
		mentioned = append(mentioned, broker.ID)
		s.appendTimeline(ctx, store.TimelineEntry{
			ID:       util.NewID("te"),
			CaseID:   caseID,
			AuthorID: &session.BrokerID,
			Type:     store.EntryMention,
			Content:  session.BrokerName + " mentioned " + broker.FullName,
			Metadata: map[string]any{"mentionedBrokerId": broker.ID, "commentId": entry.ID},
		})
	}

	s.dispatch.CommentPosted(ctx, entry, mentioned)
	return timelineView(entry), nil
}

// --- documents ---

func (s *Service) UploadCaseDocument(ctx context.Context, session Session, caseID, fileName, contentType string, size int64, r io.Reader) (map[string]any, error) {
	access, _, err := s.ResolveAccess(ctx, caseID, session.BrokerID)
	if err != nil {
		return nil, err
	}
	if !access.CanUpload {
		return nil, forbidden("You do not have upload permission on this case")
	}
	if s.files == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Document storage is not configured", nil)
	}

	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return nil, validationError("File name is required")
	}

	documentID := util.NewID("doc")
	key, err := s.files.Upload(ctx, caseID, documentID, fileName, contentType, size, r)
	if err != nil {
		return nil, err
	}

	doc, err := s.store.InsertCaseDocument(ctx, store.CaseDocument{
		ID:         documentID,
		CaseID:     caseID,
		FileName:   fileName,
		Size:       size,
		URL:        key,
		UploadedBy: session.BrokerID,
	})
	if err != nil {
		return nil, err
	}

	s.appendTimeline(ctx, store.TimelineEntry{
		ID:       util.NewID("te"),
		CaseID:   caseID,
		AuthorID: &session.BrokerID,
		Type:     store.EntryDocumentUploaded,
		Content:  session.BrokerName + " uploaded " + fileName,
		Metadata: map[string]any{"documentId": doc.ID, "fileName": fileName, "size": size},
	})

	s.dispatch.DocumentUploaded(ctx, doc)
	return s.documentView(ctx, doc), nil
}

func (s *Service) ListCaseDocumentFiles(ctx context.Context, session Session, caseID string) ([]map[string]any, error) {
	if _, _, err := s.requireAccess(ctx, caseID, session.BrokerID); err != nil {
		return nil, err
	}
	docs, err := s.store.ListCaseDocuments(ctx, caseID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		items = append(items, s.documentView(ctx, doc))
	}
	return items, nil
}

// VerifyCaseDocument marks a document reviewed, which is an approval action.
func (s *Service) VerifyCaseDocument(ctx context.Context, session Session, caseID, documentID string) (map[string]any, error) {
	access, _, err := s.ResolveAccess(ctx, caseID, session.BrokerID)
	if err != nil {
		return nil, err
	}
	if !access.CanApprove {
		return nil, forbidden("You do not have approve permission on this case")
	}

	doc, err := s.store.GetCaseDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.CaseID != caseID {
		return nil, notFound("Document not found on this case")
	}
	if doc.VerifiedAt != nil {
		return nil, conflict("This document is already verified")
	}

	verified, err := s.store.MarkDocumentVerified(ctx, documentID, session.BrokerID)
	if err != nil {
		return nil, err
	}

	s.appendTimeline(ctx, store.TimelineEntry{
		ID:       util.NewID("te"),
		CaseID:   caseID,
		AuthorID: &session.BrokerID,
		Type:     store.EntryDocumentVerified,
		Content:  session.BrokerName + " verified " + verified.FileName,
		Metadata: map[string]any{"documentId": verified.ID, "fileName": verified.FileName},
	})

	return s.documentView(ctx, verified), nil
}

func (s *Service) documentView(ctx context.Context, doc store.CaseDocument) map[string]any {
	downloadURL := ""
	if s.files != nil && doc.URL != "" {
		if u, err := s.files.PresignedURL(ctx, doc.URL, 15*time.Minute); err == nil {
			downloadURL = u
		}
	}
	return map[string]any{
		"id":          doc.ID,
		"caseId":      doc.CaseID,
		"fileName":    doc.FileName,
		"size":        doc.Size,
		"downloadUrl": downloadURL,
		"uploadedBy":  doc.UploadedBy,
		"verifiedBy":  doc.VerifiedBy,
		"verifiedAt":  doc.VerifiedAt,
		"createdAt":   doc.CreatedAt,
	}
}

func timelineView(e store.TimelineEntry) map[string]any {
	view := map[string]any{
		"id":          e.ID,
		"caseId":      e.CaseID,
		"authorId":    e.AuthorID,
		"authorName":  e.AuthorName,
		"type":        e.Type,
		"content":     e.Content,
		"metadata":    e.Metadata,
		"milestoneId": e.MilestoneID,
		"createdAt":   e.CreatedAt,
	}
	if e.ClientName != "" {
		view["clientName"] = e.ClientName
	}
	return view
}

func timelineViews(entries []store.TimelineEntry) []map[string]any {
	items := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		items = append(items, timelineView(e))
	}
	return items
}
