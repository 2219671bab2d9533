package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/storyloom/core/internal/config"
	"github.com/storyloom/core/internal/modules/interview/processor"
	"github.com/storyloom/core/internal/modules/interview/recorder"
	"github.com/storyloom/core/internal/pkg/apperr"
	"github.com/storyloom/core/internal/pkg/jwt"
)

// Processor is the pipeline client.
type Processor interface {
	UploadAndProcess(ctx context.Context, token string, capture *recorder.Capture, turn processor.Turn) (*processor.ProcessResponse, error)
	GenerateChapters(ctx context.Context, token, sessionID string) (*processor.ChapterJob, error)
	RequestSpeech(ctx context.Context, token, sessionID, turnID string) (*processor.SpeechJob, error)
}

// Authenticator resolves the user behind a credential.
type Authenticator interface {
	CurrentUser(ctx context.Context, token string) (string, error)
}

// TokenAuthenticator validates signed session tokens locally.
type TokenAuthenticator struct{}

func (TokenAuthenticator) CurrentUser(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", apperr.ErrAuthentication
	}
	claims, err := jwt.Parse(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrAuthentication, err)
	}
	return claims.UserID, nil
}

// Clock abstracts time for the speech poll.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// TTSPolicy bounds the speech poll. The first check is immediate; the wait
// before check k+1 is min(Base + k*Step, Max).
type TTSPolicy struct {
	Attempts int
	Base     time.Duration
	Step     time.Duration
	Max      time.Duration
	URLTTL   time.Duration
}

// DefaultTTSPolicy gives up after roughly 34 seconds.
func DefaultTTSPolicy() TTSPolicy {
	return PolicyFromConfig(config.Default())
}

// PolicyFromConfig reads the poll policy from application config.
func PolicyFromConfig(cfg *config.AppConfig) TTSPolicy {
	return TTSPolicy{
		Attempts: cfg.Interview.TTSPollAttempts,
		Base:     cfg.Interview.TTSPollBase,
		Step:     cfg.Interview.TTSPollStep,
		Max:      cfg.Interview.TTSPollMax,
		URLTTL:   cfg.Storage.SignedURLTTL,
	}
}

func (p TTSPolicy) delay(k int) time.Duration {
	d := p.Base + time.Duration(k)*p.Step
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

func asAuthError(err error) error {
	if errors.Is(err, apperr.ErrAuthentication) {
		return err
	}
	return fmt.Errorf("%w: %v", apperr.ErrAuthentication, err)
}
