package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"io"
	"log"
	"math/big"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"bugtrail/api/internal/auth"
	"bugtrail/api/internal/config"
	"bugtrail/api/internal/rbac"
	"bugtrail/api/internal/store"
	"bugtrail/api/internal/util"
)

type Session struct {
	Token            string
	RefreshToken     string
	UserID           string
	UserName         string
	Email            string
	Role             string
	JTI              string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
}

type dataStore interface {
	ListUsers(context.Context) ([]store.User, error)
	ListUsersByRoles(context.Context, []string) ([]store.User, error)
	GetUser(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	InsertUser(context.Context, store.User) error
	UpdateUser(context.Context, store.User) error
	UpdateUserNotifications(context.Context, string, []store.Notification) error
	UpdateUserPassword(context.Context, string, string) error
	DeleteUser(context.Context, string) error

	ListProjects(context.Context) ([]store.Project, error)
	GetProject(context.Context, string) (store.Project, error)
	GetProjectByTitle(context.Context, string) (store.Project, error)
	InsertProject(context.Context, store.Project) error
	UpdateProject(context.Context, store.Project) error
	DeleteProject(context.Context, string) error

	ListIssues(context.Context) ([]store.Issue, error)
	ListIssuesByProject(context.Context, string) ([]store.Issue, error)
	GetIssue(context.Context, string) (store.Issue, error)
	GetIssueByTitle(context.Context, string) (store.Issue, error)
	InsertIssue(context.Context, store.Issue) error
	UpdateIssue(context.Context, store.Issue) error
	DeleteIssue(context.Context, string) error

	ListReports(context.Context) ([]store.Report, error)
	ListReportsByProject(context.Context, string) ([]store.Report, error)
	GetReport(context.Context, string) (store.Report, error)
	GetReportBySubject(context.Context, string) (store.Report, error)
	InsertReport(context.Context, store.Report) error
	UpdateReport(context.Context, store.Report) error
	DeleteReport(context.Context, string) error

	Ping(context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(context.Context, string, store.User, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type blobStore interface {
	Store(context.Context, io.Reader, int64, string) (string, error)
	Open(context.Context, string) (io.ReadCloser, error)
	Delete(context.Context, string) error
}

type mailer interface {
	IsConfigured() bool
	SendTemporaryPassword(to, userName, password string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	blobs    blobStore
	mail     mailer
	validate *validator.Validate
}

func New(cfg config.Config, dataStore dataStore, sessions sessionStore, blobs blobStore, mail mailer) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		blobs:    blobs,
		mail:     mail,
		validate: validator.New(),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) SMTPConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, unauthorizedError("Invalid credentials")
		}
		return Session{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Session{}, unauthorizedError("Invalid credentials")
	}

	// Full-day token on interactive login; refreshes issue a short one.
	return s.issueSession(ctx, user, s.cfg.LoginTTL)
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
	return s.issueSession(ctx, user, s.cfg.RefreshedTTL)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) issueSession(ctx context.Context, user store.User, accessTTL time.Duration) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(accessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Name:  user.DisplayName(),
		Role:  user.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
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
		Token:            token,
		RefreshToken:     refresh,
		UserID:           user.ID,
		UserName:         user.DisplayName(),
		Email:            user.Email,
		Role:             user.Role,
		JTI:              jti,
		ExpiresAt:        expiresAt,
		RefreshExpiresAt: refreshExpires,
	}, nil
}

func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Email:     claims.Email,
		Role:      claims.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// ResetPassword replaces the account's credential with a fresh temporary
// password and emails it. The reset persists even when the email fails;
// that failure surfaces as a delivery error so the caller knows to
// retry delivery, not the reset.
func (s *Service) ResetPassword(ctx context.Context, email string) error {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("User not found")
		}
		return err
	}

	password, err := generateTempPassword(8)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.store.UpdateUserPassword(ctx, user.ID, string(hash)); err != nil {
		return err
	}

	if s.SMTPConfigured() {
		if err := s.mail.SendTemporaryPassword(user.Email, user.DisplayName(), password); err != nil {
			log.Printf("send temporary password to %s: %v", user.Email, err)
			return deliveryError("Password was reset but the email could not be sent")
		}
	}
	return nil
}

const tempPasswordCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func generateTempPassword(length int) (string, error) {
	buf := make([]byte, length)
	max := big.NewInt(int64(len(tempPasswordCharset)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = tempPasswordCharset[n.Int64()]
	}
	return string(buf), nil
}
