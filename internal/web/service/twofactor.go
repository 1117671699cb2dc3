package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/steepleworks/steeple/internal/web/domain"
	"github.com/steepleworks/steeple/internal/web/store"
	"github.com/steepleworks/steeple/pkg/cryptox"
)

const (
	backupCodeCount = 10                   // codes issued per enrollment
	backupCodeBytes = cryptox.TokenSize128 // 128-bit entropy per code
)

var (
	ErrInvalidCode       = errors.New("invalid verification code")
	ErrTwoFactorOff      = errors.New("two-factor not enabled for this account")
	ErrAlreadyEnabled    = errors.New("two-factor already enabled for this account")
	ErrChallengeNotFound = errors.New("no pending enrollment for this session")
)

// totpOpts is the verification window: 30s steps, ±1 step of clock skew.
var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// TwoFactorService owns enrollment, step-up verification and backup codes.
type TwoFactorService struct {
	Store  store.Store
	Issuer string // issuer label shown in authenticator apps

	// ChallengeTTL bounds how long an enrollment may sit unverified.
	ChallengeTTL time.Duration
}

// VerifyResult reports what a successful verification did.
type VerifyResult struct {
	// Enrolled is true when this verification completed enrollment.
	Enrolled bool
	// BackupCodes are the fresh single-use codes, only on enrollment.
	BackupCodes []string
	// UsedBackupCode is true when a backup code (not TOTP) was consumed.
	UsedBackupCode bool
}

// BeginEnrollment generates a candidate TOTP secret for the session's user
// and parks it in a pending challenge. Two-factor is not enabled until the
// user proves possession via VerifyCode.
func (s *TwoFactorService) BeginEnrollment(ctx context.Context, session domain.Session) (domain.EnrollResponse, error) {
	user, err := s.Store.Users().GetUserByID(ctx, session.UserID)
	if err != nil {
		return domain.EnrollResponse{}, fmt.Errorf("failed to load user: %w", err)
	}
	if user.HasTwoFactor() {
		return domain.EnrollResponse{}, ErrAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: user.Username,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return domain.EnrollResponse{}, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	now := time.Now().UTC()
	challenge := domain.TwoFactorChallenge{
		SessionID: session.ID,
		UserID:    session.UserID,
		Secret:    key.Secret(),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ChallengeTTL),
	}
	if err := s.Store.Challenges().UpsertChallenge(ctx, challenge); err != nil {
		return domain.EnrollResponse{}, fmt.Errorf("failed to store challenge: %w", err)
	}

	return domain.EnrollResponse{
		Secret:  key.Secret(),
		QRCode:  key.URL(),
		Issuer:  s.Issuer,
		Account: user.Username,
	}, nil
}

// VerifyCode handles both flows behind the challenge endpoint:
//
//   - Account already enrolled: step-up verification. The code is checked
//     against the trusted secret, or consumed as a single-use backup code.
//   - Account not enrolled but a pending challenge exists: enrollment
//     completion. The code must match the candidate secret; on success the
//     account is enabled and backup codes are issued.
//
// Either way the caller is responsible for marking the session verified.
// An invalid code is a retryable rejection, never fatal; brute force is the
// rate limiter's problem.
func (s *TwoFactorService) VerifyCode(ctx context.Context, session domain.Session, code string) (VerifyResult, error) {
	user, err := s.Store.Users().GetUserByID(ctx, session.UserID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("failed to load user: %w", err)
	}

	if user.HasTwoFactor() {
		return s.verifyStepUp(ctx, user, code)
	}
	return s.completeEnrollment(ctx, session, code)
}

func (s *TwoFactorService) verifyStepUp(ctx context.Context, user domain.User, code string) (VerifyResult, error) {
	if validateTOTP(code, *user.TwoFactorSecret) {
		return VerifyResult{}, nil
	}

	// Not a valid TOTP code; try it as a backup code. Consumption is
	// atomic, so a spent code can never pass twice.
	used, err := s.Store.BackupCodes().ConsumeBackupCode(ctx, user.ID, cryptox.FingerprintToken(code))
	if err != nil {
		return VerifyResult{}, fmt.Errorf("backup code check failed: %w", err)
	}
	if !used {
		return VerifyResult{}, ErrInvalidCode
	}
	return VerifyResult{UsedBackupCode: true}, nil
}

func (s *TwoFactorService) completeEnrollment(ctx context.Context, session domain.Session, code string) (VerifyResult, error) {
	challenge, err := s.Store.Challenges().GetChallenge(ctx, session.ID)
	if errors.Is(err, store.ErrNotFound) {
		return VerifyResult{}, ErrChallengeNotFound
	}
	if err != nil {
		return VerifyResult{}, fmt.Errorf("failed to load challenge: %w", err)
	}
	if time.Now().UTC().After(challenge.ExpiresAt) {
		return VerifyResult{}, ErrChallengeNotFound
	}

	if !validateTOTP(code, challenge.Secret) {
		return VerifyResult{}, ErrInvalidCode
	}

	// Promote: trust the secret, issue backup codes, drop the challenge.
	if err := s.Store.Users().EnableTwoFactor(ctx, session.UserID, challenge.Secret); err != nil {
		return VerifyResult{}, fmt.Errorf("failed to enable two-factor: %w", err)
	}

	codes, err := s.issueBackupCodes(ctx, session.UserID)
	if err != nil {
		return VerifyResult{}, err
	}

	if err := s.Store.Challenges().DeleteChallenge(ctx, session.ID); err != nil {
		return VerifyResult{}, fmt.Errorf("failed to clear challenge: %w", err)
	}

	return VerifyResult{Enrolled: true, BackupCodes: codes}, nil
}

// RegenerateBackupCodes replaces the user's codes after re-proving TOTP
// possession. Every old code stops working immediately.
func (s *TwoFactorService) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	if err := s.requireTOTP(ctx, userID, code); err != nil {
		return nil, err
	}
	return s.issueBackupCodes(ctx, userID)
}

// Disable turns two-factor off after re-proving TOTP possession, removing
// the secret and every backup code.
func (s *TwoFactorService) Disable(ctx context.Context, userID, code string) error {
	if err := s.requireTOTP(ctx, userID, code); err != nil {
		return err
	}
	if err := s.Store.BackupCodes().DeleteAllBackupCodes(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete backup codes: %w", err)
	}
	if err := s.Store.Users().DisableTwoFactor(ctx, userID); err != nil {
		return fmt.Errorf("failed to disable two-factor: %w", err)
	}
	return nil
}

func (s *TwoFactorService) issueBackupCodes(ctx context.Context, userID string) ([]string, error) {
	codes := make([]string, backupCodeCount)
	hashes := make([]string, backupCodeCount)
	for i := range backupCodeCount {
		code, err := cryptox.GenerateToken(backupCodeBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		codes[i] = code
		hashes[i] = cryptox.FingerprintToken(code)
	}

	if err := s.Store.BackupCodes().ReplaceBackupCodes(ctx, userID, hashes); err != nil {
		return nil, fmt.Errorf("failed to store backup codes: %w", err)
	}
	return codes, nil
}

func (s *TwoFactorService) requireTOTP(ctx context.Context, userID, code string) error {
	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if !user.HasTwoFactor() {
		return ErrTwoFactorOff
	}
	if !validateTOTP(code, *user.TwoFactorSecret) {
		return ErrInvalidCode
	}
	return nil
}

func validateTOTP(code, secret string) bool {
	valid, err := totp.ValidateCustom(code, secret, time.Now().UTC(), totpOpts)
	return err == nil && valid
}
