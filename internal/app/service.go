package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"planboard/api/internal/auth"
	"planboard/api/internal/authpw"
	"planboard/api/internal/config"
	"planboard/api/internal/email"
	"planboard/api/internal/search"
	"planboard/api/internal/section"
	"planboard/api/internal/store"
	"planboard/api/internal/usercontext"
	"planboard/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	JTI          string
	ExpiresAt    time.Time
}

type UpdateProfileInput struct {
	Department     string `json:"department"`
	CompanyRole    string `json:"companyRole"`
	CompanyName    string `json:"companyName"`
	YearsAtCompany int    `json:"yearsAtCompany"`
	YearsInRole    int    `json:"yearsInRole"`
	YearsInDept    int    `json:"yearsInDept"`
}

var allowedApprovalStatuses = map[string]struct{}{
	"approved": {},
	"rejected": {},
	"pending":  {},
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	GetProfile(context.Context, string) (store.Profile, error)
	UpdateProfile(context.Context, store.Profile) error
	InsertComment(context.Context, store.Comment) (store.Comment, error)
	ListCommentsBySection(context.Context, string) ([]store.Comment, error)
	InsertQuestion(context.Context, store.Question) (store.Question, error)
	ListQuestionsBySection(context.Context, string) ([]store.Question, error)
	SetQuestionAnswer(context.Context, string, string) (store.Question, error)
	ToggleLike(context.Context, store.Like) (bool, *store.Like, error)
	ListLikesBySection(context.Context, string) ([]store.Like, error)
	InsertApproval(context.Context, store.Approval) (store.Approval, error)
	ListApprovalsBySection(context.Context, string) ([]store.Approval, error)
	CurrentApprovalStatus(context.Context, string, string) (string, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	Ping(ctx context.Context) error
}

// sessionStore holds refresh sessions; backed by Redis when configured,
// Postgres otherwise.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, store.User, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	search   *search.Service
	authpw   *authpw.Service
	mailer   *email.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, searchSvc *search.Service, authSvc *authpw.Service, mailer *email.Service) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		search:   searchSvc,
		authpw:   authSvc,
		mailer:   mailer,
	}
	if s.sessions == nil {
		s.sessions = dataStore
	}
	return s
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

// Mailer returns the transactional mail service, nil or unconfigured in dev.
func (s *Service) Mailer() *email.Service {
	return s.mailer
}

// AppBaseURL is where email links point.
func (s *Service) AppBaseURL() string {
	return strings.TrimRight(s.cfg.AppBaseURL, "/")
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ── Sessions ──

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.FullName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.FullName,
		Email:        user.Email,
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

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.FullName,
		Email:     user.Email,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
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

// ── Profiles ──

func (s *Service) Profile(ctx context.Context, userID string) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"userId":         user.ID,
		"email":          user.Email,
		"fullName":       user.FullName,
		"department":     profile.Department,
		"companyRole":    profile.CompanyRole,
		"companyName":    profile.CompanyName,
		"yearsAtCompany": profile.YearsAtCompany,
		"yearsInRole":    profile.YearsInRole,
		"yearsInDept":    profile.YearsInDept,
	}, nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, input UpdateProfileInput) (map[string]any, error) {
	if input.YearsAtCompany < 0 || input.YearsInRole < 0 || input.YearsInDept < 0 {
		return nil, validationError("years fields must not be negative")
	}
	if err := s.store.UpdateProfile(ctx, store.Profile{
		UserID:         userID,
		Department:     strings.TrimSpace(input.Department),
		CompanyRole:    strings.TrimSpace(input.CompanyRole),
		CompanyName:    strings.TrimSpace(input.CompanyName),
		YearsAtCompany: input.YearsAtCompany,
		YearsInRole:    input.YearsInRole,
		YearsInDept:    input.YearsInDept,
	}); err != nil {
		return nil, err
	}
	return s.Profile(ctx, userID)
}

// snapshotFor captures the author's profile at write time. The snapshot is
// denormalized onto the interaction row; later profile edits never touch it.
func (s *Service) snapshotFor(ctx context.Context, userID string) (usercontext.Snapshot, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return usercontext.Snapshot{}, err
	}
	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return usercontext.Snapshot{}, err
	}
	return usercontext.Build(user.FullName, usercontext.Profile{
		Department:     profile.Department,
		CompanyRole:    profile.CompanyRole,
		CompanyName:    profile.CompanyName,
		YearsAtCompany: profile.YearsAtCompany,
		YearsInRole:    profile.YearsInRole,
		YearsInDept:    profile.YearsInDept,
	}), nil
}

func validSection(name string) (string, error) {
	name = strings.TrimSpace(name)
	if !section.IsValid(name) {
		return "", validationError("unknown section: " + name)
	}
	return name, nil
}

// ── Comments ──

func (s *Service) AddComment(ctx context.Context, session Session, sectionName, sectionID, content string) (map[string]any, error) {
	sectionName, err := validSection(sectionName)
	if err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, validationError("content is required")
	}
	snapshot, err := s.snapshotFor(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	comment, err := s.store.InsertComment(ctx, store.Comment{
		ID:        util.NewID("cm"),
		Section:   sectionName,
		SectionID: strings.TrimSpace(sectionID),
		UserID:    session.UserID,
		Content:   content,
		Context:   snapshot,
	})
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexInteraction(search.InteractionRecord{
			ID:      comment.ID,
			Kind:    search.KindComment,
			Section: comment.Section,
			Author:  snapshot.FullName,
			Content: comment.Content,
		})
	}
	return commentPayload(comment), nil
}

func (s *Service) Comments(ctx context.Context, sectionName string) (map[string]any, error) {
	sectionName, err := validSection(sectionName)
	if err != nil {
		return nil, err
	}
	comments, err := s.store.ListCommentsBySection(ctx, sectionName)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(comments))
	for _, comment := range comments {
		items = append(items, commentPayload(comment))
	}
	return map[string]any{"section": sectionName, "comments": items}, nil
}

// ── Questions ──

func (s *Service) AddQuestion(ctx context.Context, session Session, sectionName, sectionID, content string) (map[string]any, error) {
	sectionName, err := validSection(sectionName)
	if err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, validationError("content is required")
	}
	snapshot, err := s.snapshotFor(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	question, err := s.store.InsertQuestion(ctx, store.Question{
		ID:        util.NewID("q"),
		Section:   sectionName,
		SectionID: strings.TrimSpace(sectionID),
		UserID:    session.UserID,
		Content:   content,
		Context:   snapshot,
	})
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexInteraction(search.InteractionRecord{
			ID:      question.ID,
			Kind:    search.KindQuestion,
			Section: question.Section,
			Author:  snapshot.FullName,
			Content: question.Content,
		})
	}
	return questionPayload(question), nil
}

func (s *Service) Questions(ctx context.Context, sectionName string) (map[string]any, error) {
	sectionName, err := validSection(sectionName)
	if err != nil {
		return nil, err
	}
	questions, err := s.store.ListQuestionsBySection(ctx, sectionName)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(questions))
	for _, question := range questions {
		items = append(items, questionPayload(question))
	}
	return map[string]any{"section": sectionName, "questions": items}, nil
}

func (s *Service) AnswerQuestion(ctx context.Context, questionID, answer string) (map[string]any, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, validationError("answer is required")
	}
	question, err := s.store.SetQuestionAnswer(ctx, strings.TrimSpace(questionID), answer)
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexInteraction(search.InteractionRecord{
			ID:       question.ID,
			Kind:     search.KindQuestion,
			Section:  question.Section,
			Author:   question.Context.FullName,
			Content:  question.Content,
			Answer:   answer,
			Answered: true,
		})
	}
	return questionPayload(question), nil
}

// ── Likes ──

func (s *Service) ToggleLike(ctx context.Context, session Session, sectionName, sectionID, reaction string) (map[string]any, error) {
	sectionName, err := validSection(sectionName)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.snapshotFor(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	liked, like, err := s.store.ToggleLike(ctx, store.Like{
		ID:        util.NewID("lk"),
		Section:   sectionName,
		SectionID: strings.TrimSpace(sectionID),
		UserID:    session.UserID,
		Reaction:  strings.TrimSpace(reaction),
		Context:   snapshot,
	})
	if err != nil {
		if err == store.ErrToggleContention {
			return nil, conflictError("TOGGLE_CONTENTION", "Like toggle lost a concurrent race, retry", nil)
		}
		return nil, err
	}
	payload := map[string]any{"section": sectionName, "liked": liked}
	if like != nil {
		payload["like"] = likePayload(*like)
	}
	return payload, nil
}

func (s *Service) Likes(ctx context.Context, sectionName string) (map[string]any, error) {
	sectionName, err := validSection(sectionName)
	if err != nil {
		return nil, err
	}
	likes, err := s.store.ListLikesBySection(ctx, sectionName)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(likes))
	for _, like := range likes {
		items = append(items, likePayload(like))
	}
	return map[string]any{"section": sectionName, "likes": items, "count": len(items)}, nil
}

// ── Approvals ──

func (s *Service) SubmitApproval(ctx context.Context, session Session, sectionName, sectionID, status, comments string) (map[string]any, error) {
	sectionName, err := validSection(sectionName)
	if err != nil {
		return nil, err
	}
	status = strings.ToLower(strings.TrimSpace(status))
	if _, ok := allowedApprovalStatuses[status]; !ok {
		return nil, validationError("status must be one of approved, rejected, pending")
	}
	snapshot, err := s.snapshotFor(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	approval, err := s.store.InsertApproval(ctx, store.Approval{
		ID:        util.NewID("ap"),
		Section:   sectionName,
		SectionID: strings.TrimSpace(sectionID),
		UserID:    session.UserID,
		Status:    status,
		Comments:  strings.TrimSpace(comments),
		Context:   snapshot,
	})
	if err != nil {
		return nil, err
	}
	current, err := s.store.CurrentApprovalStatus(ctx, sectionName, session.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"section":       sectionName,
		"approval":      approvalPayload(approval),
		"currentStatus": current,
	}, nil
}

func (s *Service) Approvals(ctx context.Context, sectionName, viewerID string) (map[string]any, error) {
	sectionName, err := validSection(sectionName)
	if err != nil {
		return nil, err
	}
	approvals, err := s.store.ListApprovalsBySection(ctx, sectionName)
	if err != nil {
		return nil, err
	}
	current, err := s.store.CurrentApprovalStatus(ctx, sectionName, viewerID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(approvals))
	for _, approval := range approvals {
		items = append(items, approvalPayload(approval))
	}
	return map[string]any{
		"section":       sectionName,
		"approvals":     items,
		"currentStatus": current,
	}, nil
}

// ── Aggregation ──

// ReadSection fetches all four interaction kinds concurrently. A failure in
// one kind never hides the others: failed kinds come back empty and are
// listed under "errors".
func (s *Service) ReadSection(ctx context.Context, sectionName, viewerID string) (map[string]any, error) {
	sectionName, err := validSection(sectionName)
	if err != nil {
		return nil, err
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		payload  = map[string]any{"section": sectionName}
		kindErrs = map[string]string{}
	)

	fetch := func(kind string, fn func() (any, error)) {
		defer wg.Done()
		value, err := fn()
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			kindErrs[kind] = err.Error()
			return
		}
		payload[kind] = value
	}

	wg.Add(4)
	go fetch("comments", func() (any, error) {
		comments, err := s.store.ListCommentsBySection(ctx, sectionName)
		if err != nil {
			return nil, err
		}
		items := make([]map[string]any, 0, len(comments))
		for _, comment := range comments {
			items = append(items, commentPayload(comment))
		}
		return items, nil
	})
	go fetch("questions", func() (any, error) {
		questions, err := s.store.ListQuestionsBySection(ctx, sectionName)
		if err != nil {
			return nil, err
		}
		items := make([]map[string]any, 0, len(questions))
		for _, question := range questions {
			items = append(items, questionPayload(question))
		}
		return items, nil
	})
	go fetch("likes", func() (any, error) {
		likes, err := s.store.ListLikesBySection(ctx, sectionName)
		if err != nil {
			return nil, err
		}
		items := make([]map[string]any, 0, len(likes))
		for _, like := range likes {
			items = append(items, likePayload(like))
		}
		return items, nil
	})
	go fetch("approvals", func() (any, error) {
		approvals, err := s.store.ListApprovalsBySection(ctx, sectionName)
		if err != nil {
			return nil, err
		}
		current, err := s.store.CurrentApprovalStatus(ctx, sectionName, viewerID)
		if err != nil {
			return nil, err
		}
		items := make([]map[string]any, 0, len(approvals))
		for _, approval := range approvals {
			items = append(items, approvalPayload(approval))
		}
		return map[string]any{"items": items, "currentStatus": current}, nil
	})
	wg.Wait()

	for _, kind := range []string{"comments", "questions", "likes"} {
		if _, ok := payload[kind]; !ok {
			payload[kind] = []map[string]any{}
		}
	}
	if _, ok := payload["approvals"]; !ok {
		payload["approvals"] = map[string]any{"items": []map[string]any{}, "currentStatus": "pending"}
	}
	if len(kindErrs) > 0 {
		payload["errors"] = kindErrs
	}
	return payload, nil
}

// ── Search ──

func (s *Service) Search(ctx context.Context, text, kind, sectionName string, limit, offset int) (map[string]any, error) {
	filterKind := search.Kind(strings.ToLower(strings.TrimSpace(kind)))
	if filterKind != "" && filterKind != search.KindComment && filterKind != search.KindQuestion {
		return nil, validationError("kind must be 'comment' or 'question'")
	}
	sectionName = strings.TrimSpace(sectionName)
	if sectionName != "" {
		var err error
		sectionName, err = validSection(sectionName)
		if err != nil {
			return nil, err
		}
	}
	if s.search == nil {
		return nil, domainError(503, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	resp := s.search.Search(search.Query{
		Text:          strings.TrimSpace(text),
		FilterKind:    filterKind,
		FilterSection: sectionName,
		Limit:         limit,
		Offset:        offset,
	})
	return map[string]any{
		"query":   resp.Query,
		"total":   resp.Total,
		"results": resp.Results,
	}, nil
}

// ── Payload shaping ──

func snapshotPayload(snap usercontext.Snapshot) map[string]any {
	return map[string]any{
		"fullName":       snap.FullName,
		"department":     snap.Department,
		"role":           snap.Role,
		"companyName":    snap.CompanyName,
		"yearsAtCompany": snap.YearsAtCompany,
		"yearsInRole":    snap.YearsInRole,
		"yearsInDept":    snap.YearsInDept,
	}
}

func commentPayload(c store.Comment) map[string]any {
	return map[string]any{
		"id":          c.ID,
		"section":     c.Section,
		"sectionId":   c.SectionID,
		"userId":      c.UserID,
		"content":     c.Content,
		"userContext": snapshotPayload(c.Context),
		"createdAt":   c.CreatedAt.Format(time.RFC3339),
	}
}

func questionPayload(q store.Question) map[string]any {
	payload := map[string]any{
		"id":          q.ID,
		"section":     q.Section,
		"sectionId":   q.SectionID,
		"userId":      q.UserID,
		"content":     q.Content,
		"answered":    q.Answer != nil,
		"userContext": snapshotPayload(q.Context),
		"createdAt":   q.CreatedAt.Format(time.RFC3339),
	}
	if q.Answer != nil {
		payload["answer"] = *q.Answer
	}
	return payload
}

func likePayload(l store.Like) map[string]any {
	return map[string]any{
		"id":          l.ID,
		"section":     l.Section,
		"sectionId":   l.SectionID,
		"userId":      l.UserID,
		"reaction":    l.Reaction,
		"userContext": snapshotPayload(l.Context),
		"createdAt":   l.CreatedAt.Format(time.RFC3339),
	}
}

func approvalPayload(a store.Approval) map[string]any {
	return map[string]any{
		"id":          a.ID,
		"section":     a.Section,
		"sectionId":   a.SectionID,
		"userId":      a.UserID,
		"status":      a.Status,
		"comments":    a.Comments,
		"userContext": snapshotPayload(a.Context),
		"createdAt":   a.CreatedAt.Format(time.RFC3339),
	}
}
