package authn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/careloop/clinic-platform/internal/identity"
	"github.com/careloop/clinic-platform/internal/notify"
	"github.com/careloop/clinic-platform/internal/observability/metrics"
	"github.com/careloop/clinic-platform/internal/otp"
	"github.com/careloop/clinic-platform/internal/password"
	"github.com/careloop/clinic-platform/internal/token"
	"github.com/careloop/clinic-platform/pkg/logging"
)

var (
	// ErrInvalidCredentials is the single failure returned for unknown email,
	// wrong password and deactivated account alike. Clients cannot tell the
	// cases apart.
	ErrInvalidCredentials = errors.New("authn: invalid credentials")
	// ErrTooManyAttempts is returned once the per-email failure ceiling is hit.
	ErrTooManyAttempts = errors.New("authn: too many failed attempts")
	// ErrEmailTaken is returned when a registration email is already in use by
	// any role.
	ErrEmailTaken = errors.New("authn: email already registered")
)

// Gateway runs the authentication flows: registration, password login,
// two-step OTP login, password reset and the development bypass.
type Gateway struct {
	store   identity.Repository
	hasher  *password.Hasher
	otps    *otp.Service
	tokens  *token.Service
	mailer  notify.EmailSender
	limiter Limiter
	metrics *metrics.AuthMetrics
	logger  *logging.Logger
	otpTTL  time.Duration
	now     func() time.Time
}

// GatewayConfig collects the collaborators of a Gateway. Mailer, Limiter and
// Metrics may be nil; nil values degrade to no delivery, no throttling and no
// recording respectively.
type GatewayConfig struct {
	Store   identity.Repository
	Hasher  *password.Hasher
	OTP     *otp.Service
	Tokens  *token.Service
	Mailer  notify.EmailSender
	Limiter Limiter
	Metrics *metrics.AuthMetrics
	Logger  *logging.Logger
	OTPTTL  time.Duration
}

// NewGateway creates an authentication gateway.
func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NoopLimiter{}
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = 5 * time.Minute
	}
	return &Gateway{
		store:   cfg.Store,
		hasher:  cfg.Hasher,
		otps:    cfg.OTP,
		tokens:  cfg.Tokens,
		mailer:  cfg.Mailer,
		limiter: cfg.Limiter,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		otpTTL:  cfg.OTPTTL,
		now:     time.Now,
	}
}

// RegisterClinicRequest carries the public clinic sign-up fields.
type RegisterClinicRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	ContactPhone string `json:"contactPhone,omitempty"`
	Address      string `json:"address,omitempty"`
}

// Validate checks required fields and the password policy.
func (r *RegisterClinicRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if r.Email == "" {
		return fmt.Errorf("email is required")
	}
	return password.ValidatePolicy(r.Password)
}

// RegisterClinic creates a clinic account. The email must be unused across
// every role table; a verification code is mailed after creation.
func (g *Gateway) RegisterClinic(ctx context.Context, req *RegisterClinicRequest) (*identity.Principal, error) {
	email := identity.NormalizeEmail(req.Email)
	if _, err := g.store.FindByEmailAnyRole(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, identity.ErrNotFound) {
		return nil, fmt.Errorf("authn: registration lookup: %w", err)
	}

	hash, err := g.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("authn: registration hash: %w", err)
	}

	p, err := g.store.Create(ctx, &identity.Principal{
		Role:         identity.RoleClinic,
		FullName:     req.Name,
		Email:        email,
		PasswordHash: hash,
		ContactPhone: req.ContactPhone,
		Address:      req.Address,
		Active:       true,
	})
	if err != nil {
		if errors.Is(err, identity.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("authn: registration create: %w", err)
	}

	g.issueAndMail(ctx, email, otp.PurposeEmailVerification, "", "")
	g.logger.Info("clinic registered", "clinic_id", p.ID, "email", email)
	return p, nil
}

// PasswordLogin runs the single-step password flow and mints a session token.
// Unknown emails burn a dummy hash derivation so the response time matches a
// wrong password.
func (g *Gateway) PasswordLogin(ctx context.Context, email, plaintext string) (string, *identity.Principal, error) {
	start := g.now()
	tok, p, err := g.passwordCheck(ctx, email, plaintext)
	g.observeLogin("password", start, err)
	return tok, p, err
}

// LoginStep1 verifies the password and, on success, issues and mails a login
// OTP. The response is identical for unknown emails and wrong passwords.
func (g *Gateway) LoginStep1(ctx context.Context, email, plaintext, clientIP, userAgent string) error {
	start := g.now()
	_, _, err := g.verifyPassword(ctx, email, plaintext)
	if err != nil {
		g.observeLogin("otp_step1", start, err)
		return err
	}

	g.issueAndMail(ctx, identity.NormalizeEmail(email), otp.PurposeLogin, clientIP, userAgent)
	g.observeLogin("otp_step1", start, nil)
	return nil
}

// LoginStep2 trades a verified login OTP for a session token. The code is
// consumed on success so it cannot authorize a second session.
func (g *Gateway) LoginStep2(ctx context.Context, email, code string) (string, *identity.Principal, error) {
	start := g.now()
	email = identity.NormalizeEmail(email)

	rec, err := g.otps.Verify(ctx, email, code, otp.PurposeLogin)
	if err != nil {
		var verr *otp.VerifyError
		if errors.As(err, &verr) {
			g.metrics.ObserveOTPVerify(string(otp.PurposeLogin), string(verr.Reason))
		}
		g.observeLogin("otp_step2", start, err)
		return "", nil, err
	}
	g.metrics.ObserveOTPVerify(string(otp.PurposeLogin), "ok")

	p, err := g.store.FindByEmailAnyRole(ctx, email)
	if err != nil {
		g.observeLogin("otp_step2", start, ErrInvalidCredentials)
		return "", nil, ErrInvalidCredentials
	}
	if !p.Active {
		g.logger.Warn("login rejected for inactive principal", "email", email)
		g.observeLogin("otp_step2", start, ErrInvalidCredentials)
		return "", nil, ErrInvalidCredentials
	}

	signed, err := g.tokens.Mint(p)
	if err != nil {
		g.observeLogin("otp_step2", start, err)
		return "", nil, fmt.Errorf("authn: mint failed: %w", err)
	}
	if err := g.otps.Consume(ctx, rec); err != nil {
		g.logger.Error("failed to consume login otp", "error", err, "email", email)
	}
	if err := g.limiter.Reset(ctx, email); err != nil {
		g.logger.Error("failed to reset failure counter", "error", err, "email", email)
	}

	g.observeLogin("otp_step2", start, nil)
	g.logger.Info("login complete", "email", email, "role", p.EffectiveRole())
	return signed, p, nil
}

// RequestOTP re-issues a code for an existing account. The caller always gets
// a success response; unknown emails are only logged.
func (g *Gateway) RequestOTP(ctx context.Context, email string, purpose otp.Purpose, clientIP, userAgent string) {
	email = identity.NormalizeEmail(email)
	if _, err := g.store.FindByEmailAnyRole(ctx, email); err != nil {
		g.logger.Info("otp requested for unknown email", "email", email, "purpose", purpose)
		return
	}
	g.issueAndMail(ctx, email, purpose, clientIP, userAgent)
}

// ForgotPassword mails a reset code if the email belongs to an account. The
// response never reveals whether it does.
func (g *Gateway) ForgotPassword(ctx context.Context, email, clientIP, userAgent string) {
	g.RequestOTP(ctx, email, otp.PurposePasswordReset, clientIP, userAgent)
}

// ResetPassword trades a verified reset code for a credential update.
func (g *Gateway) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if err := password.ValidatePolicy(newPassword); err != nil {
		return err
	}
	email = identity.NormalizeEmail(email)

	rec, err := g.otps.Verify(ctx, email, code, otp.PurposePasswordReset)
	if err != nil {
		var verr *otp.VerifyError
		if errors.As(err, &verr) {
			g.metrics.ObserveOTPVerify(string(otp.PurposePasswordReset), string(verr.Reason))
		}
		return err
	}
	g.metrics.ObserveOTPVerify(string(otp.PurposePasswordReset), "ok")

	hash, err := g.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("authn: reset hash: %w", err)
	}
	if err := g.store.UpdateCredentialByEmail(ctx, email, hash); err != nil {
		return fmt.Errorf("authn: credential update: %w", err)
	}
	if err := g.otps.Consume(ctx, rec); err != nil {
		g.logger.Error("failed to consume reset otp", "error", err, "email", email)
	}

	g.logger.Info("password reset", "email", email)
	return nil
}

// DevLogin mints a session without any password or OTP check. The router only
// mounts it outside production; this method still refuses unknown and
// inactive principals.
func (g *Gateway) DevLogin(ctx context.Context, email string) (string, *identity.Principal, error) {
	email = identity.NormalizeEmail(email)
	p, err := g.store.FindByEmailAnyRole(ctx, email)
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}
	if !p.Active {
		return "", nil, ErrInvalidCredentials
	}
	signed, err := g.tokens.Mint(p)
	if err != nil {
		return "", nil, fmt.Errorf("authn: mint failed: %w", err)
	}
	g.metrics.ObserveLogin("dev", "success")
	g.logger.Warn("dev login used", "email", email, "role", p.EffectiveRole())
	return signed, p, nil
}

// passwordCheck is the full single-step flow: verify, mint, clear counters.
func (g *Gateway) passwordCheck(ctx context.Context, email, plaintext string) (string, *identity.Principal, error) {
	p, email, err := g.verifyPassword(ctx, email, plaintext)
	if err != nil {
		return "", nil, err
	}

	signed, err := g.tokens.Mint(p)
	if err != nil {
		return "", nil, fmt.Errorf("authn: mint failed: %w", err)
	}
	if err := g.limiter.Reset(ctx, email); err != nil {
		g.logger.Error("failed to reset failure counter", "error", err, "email", email)
	}
	g.logger.Info("login complete", "email", email, "role", p.EffectiveRole())
	return signed, p, nil
}

// verifyPassword resolves the principal and checks the credential. Every
// failure mode returns ErrInvalidCredentials after roughly the same amount of
// work, and counts against the per-email failure limit.
func (g *Gateway) verifyPassword(ctx context.Context, email, plaintext string) (*identity.Principal, string, error) {
	email = identity.NormalizeEmail(email)

	if over, err := g.limiter.TooManyFailures(ctx, email); err != nil {
		g.logger.Error("failure limiter check failed", "error", err)
	} else if over {
		return nil, email, ErrTooManyAttempts
	}

	p, err := g.store.FindByEmailAnyRole(ctx, email)
	if err != nil {
		g.hasher.DummyVerify(plaintext)
		return nil, email, g.recordFailure(ctx, email)
	}

	ok, err := g.hasher.Verify(plaintext, p.PasswordHash)
	if err != nil {
		g.logger.Error("stored credential unreadable", "email", email, "error", err)
		return nil, email, g.recordFailure(ctx, email)
	}
	if !ok {
		return nil, email, g.recordFailure(ctx, email)
	}
	if !p.Active {
		g.logger.Warn("login rejected for inactive principal", "email", email)
		return nil, email, ErrInvalidCredentials
	}
	return p, email, nil
}

func (g *Gateway) recordFailure(ctx context.Context, email string) error {
	over, err := g.limiter.RecordFailure(ctx, email)
	if err != nil {
		g.logger.Error("failure limiter record failed", "error", err)
		return ErrInvalidCredentials
	}
	if over {
		return ErrTooManyAttempts
	}
	return ErrInvalidCredentials
}

// issueAndMail issues an OTP respecting the resend gap and hands the code to
// the mailer. Delivery problems are logged, never surfaced to the client.
func (g *Gateway) issueAndMail(ctx context.Context, email string, purpose otp.Purpose, clientIP, userAgent string) {
	allowed, err := g.limiter.AllowIssue(ctx, email, string(purpose))
	if err != nil {
		g.logger.Error("issue gap check failed", "error", err, "email", email)
		return
	}
	if !allowed {
		g.logger.Info("otp issue suppressed by resend gap", "email", email, "purpose", purpose)
		return
	}

	rec, err := g.otps.Issue(ctx, email, purpose, clientIP, userAgent)
	if err != nil {
		g.logger.Error("otp issue failed", "error", err, "email", email, "purpose", purpose)
		return
	}
	g.metrics.ObserveOTPIssued(string(purpose))

	if g.mailer == nil {
		g.logger.Warn("no mailer configured, otp not delivered", "email", email)
		return
	}
	msg := notify.OTPEmail(email, purpose, rec.Code, int(g.otpTTL.Minutes()))
	if err := g.mailer.Send(ctx, msg); err != nil {
		g.logger.Error("otp delivery failed", "error", err, "email", email)
	}
}

func (g *Gateway) observeLogin(flow string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	g.metrics.ObserveLogin(flow, outcome)
	g.metrics.ObserveFlowLatency(flow, g.now().Sub(start).Seconds())
}
