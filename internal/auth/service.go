package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/edgeog/backend/internal/logger"
	"github.com/edgeog/backend/internal/models"
	"github.com/edgeog/backend/internal/repository"
	"github.com/edgeog/backend/internal/token"
)

// ErrInvalidCredentials is returned for any token that does not verify or
// names an account that no longer exists.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AccountStore is the account persistence the service needs.
type AccountStore interface {
	Create(ctx context.Context, a *models.Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByEmailHash(ctx context.Context, emailHash string) (*models.Account, error)
	TouchLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Mailer delivers magic links.
type Mailer interface {
	SendMagicLink(ctx context.Context, email, link string) error
}

// LogMailer writes the link to the log instead of sending mail. Used in
// development and when no mail transport is configured.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) SendMagicLink(ctx context.Context, email, link string) error {
	logger.FromContext(ctx, m.Logger).Info("magic link issued", "email_domain", domainOf(email), "link", link)
	return nil
}

func domainOf(email string) string {
	_, domain, _ := strings.Cut(email, "@")
	return domain
}

// Session is a signed-in session.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	AccountID uuid.UUID `json:"account_id"`
}

type Service struct {
	accounts AccountStore
	links    *token.Codec
	sessions *token.Codec
	pepper   []byte
	baseURL  string
	mailer   Mailer
	log      *slog.Logger
	now      func() time.Time
}

type Config struct {
	TokenSecret  []byte
	EmailPepper  []byte
	BaseURL      string
	MagicLinkTTL time.Duration
	SessionTTL   time.Duration
}

func NewService(accounts AccountStore, mailer Mailer, cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if mailer == nil {
		mailer = LogMailer{Logger: log}
	}
	if cfg.MagicLinkTTL <= 0 {
		cfg.MagicLinkTTL = token.MagicLinkTTL
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = token.SessionTTL
	}
	return &Service{
		accounts: accounts,
		links:    token.NewCodec(token.KindMagicLink, cfg.MagicLinkTTL, cfg.TokenSecret),
		sessions: token.NewCodec(token.KindSession, cfg.SessionTTL, cfg.TokenSecret),
		pepper:   cfg.EmailPepper,
		baseURL:  cfg.BaseURL,
		mailer:   mailer,
		log:      log.With("component", "auth"),
		now:      time.Now,
	}
}

// HashEmail is the keyed BLAKE2b-256 of the normalized address, hex encoded.
// Peppers longer than a BLAKE2b key are first reduced with an unkeyed hash.
func HashEmail(pepper []byte, email string) string {
	key := pepper
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	h, err := blake2b.New256(key)
	if err != nil {
		// Only reachable with an oversized key, which is reduced above.
		panic(err)
	}
	h.Write([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(h.Sum(nil))
}

// RequestMagicLink finds or creates the account for email and mails it a
// sign-in link. Delivery failures are logged, not returned, so the response
// does not reveal anything about the address.
func (s *Service) RequestMagicLink(ctx context.Context, email string) error {
	emailHash := HashEmail(s.pepper, email)
	log := logger.FromContext(ctx, s.log)

	acc, err := s.accounts.GetByEmailHash(ctx, emailHash)
	if errors.Is(err, repository.ErrNotFound) {
		acc = &models.Account{EmailHash: emailHash, Plan: models.PlanFree, CreatedAt: s.now().UTC()}
		if err := s.accounts.Create(ctx, acc); err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		log.Info("account created", "account_id", acc.ID)
	} else if err != nil {
		return fmt.Errorf("lookup account: %w", err)
	}

	raw, _, err := s.links.Issue(acc.ID.String(), emailHash)
	if err != nil {
		return fmt.Errorf("issue magic link: %w", err)
	}
	link := s.baseURL + "?token=" + url.QueryEscape(raw)
	if err := s.mailer.SendMagicLink(ctx, email, link); err != nil {
		log.Error("magic link delivery failed", "account_id", acc.ID, "error", err)
	}
	return nil
}

// Verify exchanges a magic-link token for a session.
func (s *Service) Verify(ctx context.Context, rawToken string) (*Session, error) {
	p, err := s.links.Verify(rawToken)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	acc, err := s.accountFor(ctx, p)
	if err != nil {
		return nil, err
	}

	if err := s.accounts.TouchLogin(ctx, acc.ID, s.now()); err != nil {
		logger.FromContext(ctx, s.log).Warn("record last login", "account_id", acc.ID, "error", err)
	}

	raw, sp, err := s.sessions.Issue(acc.ID.String(), acc.EmailHash)
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}
	return &Session{Token: raw, ExpiresAt: sp.ExpiresAt, AccountID: acc.ID}, nil
}

// Authenticate resolves a session token to its account.
func (s *Service) Authenticate(ctx context.Context, sessionToken string) (*models.Account, error) {
	p, err := s.sessions.Verify(sessionToken)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.accountFor(ctx, p)
}

func (s *Service) accountFor(ctx context.Context, p *token.Payload) (*models.Account, error) {
	id, err := uuid.Parse(p.AccountID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	acc, err := s.accounts.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if acc.EmailHash != p.EmailHash {
		return nil, ErrInvalidCredentials
	}
	return acc, nil
}
