package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"planboard/api/internal/config"
	"planboard/api/internal/store"
)

// fakeStore implements dataStore and sessionStore. Methods with a nil Fn
// return permissive defaults so tests only wire what they assert on.
type fakeStore struct {
	getUserByIDFn            func(context.Context, string) (store.User, error)
	getProfileFn             func(context.Context, string) (store.Profile, error)
	updateProfileFn          func(context.Context, store.Profile) error
	insertCommentFn          func(context.Context, store.Comment) (store.Comment, error)
	listCommentsBySectionFn  func(context.Context, string) ([]store.Comment, error)
	insertQuestionFn         func(context.Context, store.Question) (store.Question, error)
	listQuestionsBySectionFn func(context.Context, string) ([]store.Question, error)
	setQuestionAnswerFn      func(context.Context, string, string) (store.Question, error)
	toggleLikeFn             func(context.Context, store.Like) (bool, *store.Like, error)
	listLikesBySectionFn     func(context.Context, string) ([]store.Like, error)
	insertApprovalFn         func(context.Context, store.Approval) (store.Approval, error)
	listApprovalsBySectionFn func(context.Context, string) ([]store.Approval, error)
	currentApprovalStatusFn  func(context.Context, string, string) (string, error)
	revokeAccessTokenFn      func(context.Context, string, time.Time) error
	isAccessTokenRevokedFn   func(context.Context, string) (bool, error)
	saveRefreshSessionFn     func(context.Context, string, store.User, time.Time) error
	lookupRefreshSessionFn   func(context.Context, string) (store.User, error)
	revokeRefreshSessionFn   func(context.Context, string) error
	pingFn                   func(context.Context) error
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, FullName: "Test User", Email: "test@planboard.test"}, nil
}

func (f *fakeStore) GetProfile(ctx context.Context, userID string) (store.Profile, error) {
	if f.getProfileFn != nil {
		return f.getProfileFn(ctx, userID)
	}
	return store.Profile{UserID: userID}, nil
}

func (f *fakeStore) UpdateProfile(ctx context.Context, p store.Profile) error {
	if f.updateProfileFn != nil {
		return f.updateProfileFn(ctx, p)
	}
	return nil
}

func (f *fakeStore) InsertComment(ctx context.Context, c store.Comment) (store.Comment, error) {
	if f.insertCommentFn != nil {
		return f.insertCommentFn(ctx, c)
	}
	c.CreatedAt = time.Now()
	return c, nil
}

func (f *fakeStore) ListCommentsBySection(ctx context.Context, section string) ([]store.Comment, error) {
	if f.listCommentsBySectionFn != nil {
		return f.listCommentsBySectionFn(ctx, section)
	}
	return nil, nil
}

func (f *fakeStore) InsertQuestion(ctx context.Context, q store.Question) (store.Question, error) {
	if f.insertQuestionFn != nil {
		return f.insertQuestionFn(ctx, q)
	}
	q.CreatedAt = time.Now()
	return q, nil
}

func (f *fakeStore) ListQuestionsBySection(ctx context.Context, section string) ([]store.Question, error) {
	if f.listQuestionsBySectionFn != nil {
		return f.listQuestionsBySectionFn(ctx, section)
	}
	return nil, nil
}

func (f *fakeStore) SetQuestionAnswer(ctx context.Context, questionID, answer string) (store.Question, error) {
	if f.setQuestionAnswerFn != nil {
		return f.setQuestionAnswerFn(ctx, questionID, answer)
	}
	return store.Question{ID: questionID, Answer: &answer}, nil
}

func (f *fakeStore) ToggleLike(ctx context.Context, like store.Like) (bool, *store.Like, error) {
	if f.toggleLikeFn != nil {
		return f.toggleLikeFn(ctx, like)
	}
	like.CreatedAt = time.Now()
	return true, &like, nil
}

func (f *fakeStore) ListLikesBySection(ctx context.Context, section string) ([]store.Like, error) {
	if f.listLikesBySectionFn != nil {
		return f.listLikesBySectionFn(ctx, section)
	}
	return nil, nil
}

func (f *fakeStore) InsertApproval(ctx context.Context, a store.Approval) (store.Approval, error) {
	if f.insertApprovalFn != nil {
		return f.insertApprovalFn(ctx, a)
	}
	a.CreatedAt = time.Now()
	return a, nil
}

func (f *fakeStore) ListApprovalsBySection(ctx context.Context, section string) ([]store.Approval, error) {
	if f.listApprovalsBySectionFn != nil {
		return f.listApprovalsBySectionFn(ctx, section)
	}
	return nil, nil
}

func (f *fakeStore) CurrentApprovalStatus(ctx context.Context, section, userID string) (string, error) {
	if f.currentApprovalStatusFn != nil {
		return f.currentApprovalStatusFn(ctx, section, userID)
	}
	return "pending", nil
}

func (f *fakeStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	if f.revokeAccessTokenFn != nil {
		return f.revokeAccessTokenFn(ctx, jti, exp)
	}
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if f.isAccessTokenRevokedFn != nil {
		return f.isAccessTokenRevokedFn(ctx, jti)
	}
	return false, nil
}

func (f *fakeStore) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	if f.saveRefreshSessionFn != nil {
		return f.saveRefreshSessionFn(ctx, tokenHash, user, expiresAt)
	}
	return nil
}

func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	if f.lookupRefreshSessionFn != nil {
		return f.lookupRefreshSessionFn(ctx, tokenHash)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if f.revokeRefreshSessionFn != nil {
		return f.revokeRefreshSessionFn(ctx, tokenHash)
	}
	return nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  time.Hour,
			RefreshTTL: 24 * time.Hour,
		},
		store:    fs,
		sessions: fs,
	}
}

func testSession() Session {
	return Session{UserID: "user-1", UserName: "Test User"}
}

func TestAddCommentCapturesSnapshotAtWriteTime(t *testing.T) {
	var inserted store.Comment
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, FullName: "Dana Scully"}, nil
		},
		getProfileFn: func(_ context.Context, userID string) (store.Profile, error) {
			return store.Profile{
				UserID:         userID,
				Department:     "Marketing",
				CompanyRole:    "Director",
				CompanyName:    "Initech",
				YearsAtCompany: 7,
			}, nil
		},
		insertCommentFn: func(_ context.Context, c store.Comment) (store.Comment, error) {
			inserted = c
			c.CreatedAt = time.Now()
			return c, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.AddComment(context.Background(), testSession(), "budget", "", "  Numbers look optimistic.  ")
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}

	if inserted.Content != "Numbers look optimistic." {
		t.Fatalf("expected trimmed content, got %q", inserted.Content)
	}
	if inserted.Context.FullName != "Dana Scully" {
		t.Fatalf("snapshot fullName = %q, want Dana Scully", inserted.Context.FullName)
	}
	if inserted.Context.Role != "Director" || inserted.Context.Department != "Marketing" {
		t.Fatalf("snapshot missing profile fields: %+v", inserted.Context)
	}
	if inserted.Context.YearsAtCompany != 7 {
		t.Fatalf("snapshot yearsAtCompany = %d, want 7", inserted.Context.YearsAtCompany)
	}
	userContext, _ := payload["userContext"].(map[string]any)
	if userContext["fullName"] != "Dana Scully" {
		t.Fatalf("payload userContext = %v", payload["userContext"])
	}
}

func TestAddCommentCarriesSectionAnchor(t *testing.T) {
	var inserted store.Comment
	fs := &fakeStore{
		insertCommentFn: func(_ context.Context, c store.Comment) (store.Comment, error) {
			inserted = c
			return c, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.AddComment(context.Background(), testSession(), "budget", " budget-q3 ", "Anchored remark.")
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}
	if inserted.SectionID != "budget-q3" {
		t.Fatalf("expected trimmed sectionId on the row, got %q", inserted.SectionID)
	}
	if payload["sectionId"] != "budget-q3" {
		t.Fatalf("payload must echo sectionId, got %v", payload["sectionId"])
	}
}

func TestAddCommentRejectsUnknownSection(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.AddComment(context.Background(), testSession(), "not-a-section", "", "hello")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != 422 || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("unexpected error: %+v", domainErr)
	}
}

func TestAddQuestionRequiresContent(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.AddQuestion(context.Background(), testSession(), "timeline", "", "   ")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestAnswerQuestionPassesThroughAlreadyAnswered(t *testing.T) {
	fs := &fakeStore{
		setQuestionAnswerFn: func(context.Context, string, string) (store.Question, error) {
			return store.Question{}, store.ErrAlreadyAnswered
		},
	}
	svc := newTestService(fs)

	_, err := svc.AnswerQuestion(context.Background(), "q_1", "because")
	if !errors.Is(err, store.ErrAlreadyAnswered) {
		t.Fatalf("expected ErrAlreadyAnswered, got %v", err)
	}
}

func TestAnswerQuestionRequiresAnswer(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.AnswerQuestion(context.Background(), "q_1", " ")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestToggleLikeContentionMapsToConflict(t *testing.T) {
	fs := &fakeStore{
		toggleLikeFn: func(context.Context, store.Like) (bool, *store.Like, error) {
			return false, nil, store.ErrToggleContention
		},
	}
	svc := newTestService(fs)

	_, err := svc.ToggleLike(context.Background(), testSession(), "kpis", "", "")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != 409 {
		t.Fatalf("expected 409, got %d", domainErr.Status)
	}
}

func TestToggleLikeReportsRemoval(t *testing.T) {
	fs := &fakeStore{
		toggleLikeFn: func(context.Context, store.Like) (bool, *store.Like, error) {
			return false, nil, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.ToggleLike(context.Background(), testSession(), "kpis", "", "")
	if err != nil {
		t.Fatalf("toggle like: %v", err)
	}
	if liked, _ := payload["liked"].(bool); liked {
		t.Fatalf("expected liked=false, got %v", payload)
	}
	if _, ok := payload["like"]; ok {
		t.Fatalf("removal must not carry a like record: %v", payload)
	}
}

func TestSubmitApprovalValidatesStatus(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.SubmitApproval(context.Background(), testSession(), "conclusion", "", "maybe", "")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestSubmitApprovalReturnsCurrentStatus(t *testing.T) {
	fs := &fakeStore{
		currentApprovalStatusFn: func(context.Context, string, string) (string, error) {
			return "approved", nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.SubmitApproval(context.Background(), testSession(), "conclusion", "", "Approved", "looks good")
	if err != nil {
		t.Fatalf("submit approval: %v", err)
	}
	if payload["currentStatus"] != "approved" {
		t.Fatalf("expected currentStatus approved, got %v", payload["currentStatus"])
	}
	approval, _ := payload["approval"].(map[string]any)
	if approval["status"] != "approved" {
		t.Fatalf("status must be lowercased, got %v", approval["status"])
	}
}

func TestReadSectionAggregatesAllKinds(t *testing.T) {
	answer := "shipped"
	fs := &fakeStore{
		listCommentsBySectionFn: func(context.Context, string) ([]store.Comment, error) {
			return []store.Comment{{ID: "cm_1", Section: "kpis", Content: "nice"}}, nil
		},
		listQuestionsBySectionFn: func(context.Context, string) ([]store.Question, error) {
			return []store.Question{{ID: "q_1", Section: "kpis", Content: "when?", Answer: &answer}}, nil
		},
		listLikesBySectionFn: func(context.Context, string) ([]store.Like, error) {
			return []store.Like{{ID: "lk_1", Section: "kpis"}}, nil
		},
		listApprovalsBySectionFn: func(context.Context, string) ([]store.Approval, error) {
			return []store.Approval{{ID: "ap_1", Section: "kpis", Status: "approved"}}, nil
		},
		currentApprovalStatusFn: func(context.Context, string, string) (string, error) {
			return "approved", nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.ReadSection(context.Background(), "kpis", "user-1")
	if err != nil {
		t.Fatalf("read section: %v", err)
	}

	comments, _ := payload["comments"].([]map[string]any)
	if len(comments) != 1 {
		t.Fatalf("expected 1 comment, got %v", payload["comments"])
	}
	questions, _ := payload["questions"].([]map[string]any)
	if len(questions) != 1 || questions[0]["answered"] != true {
		t.Fatalf("expected 1 answered question, got %v", payload["questions"])
	}
	likes, _ := payload["likes"].([]map[string]any)
	if len(likes) != 1 {
		t.Fatalf("expected 1 like, got %v", payload["likes"])
	}
	approvals, _ := payload["approvals"].(map[string]any)
	if approvals["currentStatus"] != "approved" {
		t.Fatalf("expected currentStatus approved, got %v", payload["approvals"])
	}
	if _, ok := payload["errors"]; ok {
		t.Fatalf("no errors expected, got %v", payload["errors"])
	}
}

func TestReadSectionSurvivesPartialFailure(t *testing.T) {
	fs := &fakeStore{
		listCommentsBySectionFn: func(context.Context, string) ([]store.Comment, error) {
			return []store.Comment{{ID: "cm_1", Section: "budget", Content: "still here"}}, nil
		},
		listLikesBySectionFn: func(context.Context, string) ([]store.Like, error) {
			return nil, errors.New("connection reset")
		},
	}
	svc := newTestService(fs)

	payload, err := svc.ReadSection(context.Background(), "budget", "user-1")
	if err != nil {
		t.Fatalf("read section must not fail outright: %v", err)
	}

	comments, _ := payload["comments"].([]map[string]any)
	if len(comments) != 1 {
		t.Fatalf("healthy kinds must survive, got %v", payload["comments"])
	}
	likes, _ := payload["likes"].([]map[string]any)
	if len(likes) != 0 {
		t.Fatalf("failed kind must come back empty, got %v", payload["likes"])
	}
	kindErrs, _ := payload["errors"].(map[string]string)
	if kindErrs["likes"] == "" {
		t.Fatalf("expected likes error to be reported, got %v", payload["errors"])
	}
}

func TestUpdateProfileRejectsNegativeYears(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.UpdateProfile(context.Background(), "user-1", UpdateProfileInput{YearsInRole: -1})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestRefreshRotatesRefreshToken(t *testing.T) {
	var revokedHash string
	savedHashes := make([]string, 0, 2)
	fs := &fakeStore{
		lookupRefreshSessionFn: func(_ context.Context, tokenHash string) (store.User, error) {
			return store.User{ID: "user-1", FullName: "Test User"}, nil
		},
		revokeRefreshSessionFn: func(_ context.Context, tokenHash string) error {
			revokedHash = tokenHash
			return nil
		},
		saveRefreshSessionFn: func(_ context.Context, tokenHash string, _ store.User, _ time.Time) error {
			savedHashes = append(savedHashes, tokenHash)
			return nil
		},
	}
	svc := newTestService(fs)

	session, err := svc.Refresh(context.Background(), "old-refresh-token")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatalf("expected new token pair, got %+v", session)
	}
	if revokedHash == "" {
		t.Fatalf("old refresh session must be revoked")
	}
	if len(savedHashes) != 1 || savedHashes[0] == revokedHash {
		t.Fatalf("expected a new refresh session hash, got %v", savedHashes)
	}
}
