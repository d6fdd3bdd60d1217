package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/eufy-bridge/internal/push"
)

// credentialRetriever issues push credentials for a cloud auth token.
type credentialRetriever interface {
	RetrieveCredentials(ctx context.Context, authToken string) (push.Credential, error)
}

// credentialManager owns the push credential. It implements
// push.CredentialSource and keeps the credential's token registered with
// the cloud.
type credentialManager struct {
	cloud     CloudClient
	retriever credentialRetriever
	now       func() time.Time
	logger    Logger

	mu         sync.Mutex
	cred       push.Credential
	registered bool
}

func newCredentialManager(cloud CloudClient, retriever credentialRetriever, logger Logger) *credentialManager {
	return &credentialManager{
		cloud:     cloud,
		retriever: retriever,
		now:       time.Now,
		logger:    logger,
	}
}

// Credential returns the current credential, retrieving a new one when
// refresh is set or the current one has expired. A new credential's token
// is registered with the cloud; a failed registration is logged and
// retried by Check.
func (m *credentialManager) Credential(ctx context.Context, refresh bool) (push.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !refresh && !m.cred.Expired(m.now()) {
		return m.cred, nil
	}

	sess := m.cloud.Session()
	if !sess.Valid(m.now()) {
		var err error
		if sess, err = m.cloud.Authenticate(ctx); err != nil {
			return push.Credential{}, fmt.Errorf("authenticating for push credential: %w", err)
		}
	}

	cred, err := m.retriever.RetrieveCredentials(ctx, sess.Token)
	if err != nil {
		return push.Credential{}, fmt.Errorf("retrieving push credential: %w", err)
	}
	m.cred = cred
	m.registered = false
	m.logger.Info("push credential retrieved", "expires_at", cred.ExpiresAt)

	if err := m.cloud.RegisterPushToken(ctx, cred.Token); err != nil {
		m.logger.Warn("push token registration failed", "error", err)
	} else {
		m.registered = true
	}
	return cred, nil
}

// Check validates the registered push token with the cloud and registers
// it again when the check fails or registration never succeeded.
func (m *credentialManager) Check(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cred.Token == "" {
		return nil
	}
	if m.registered {
		err := m.cloud.CheckPushToken(ctx)
		if err == nil {
			return nil
		}
		m.logger.Warn("push token check failed, registering again", "error", err)
	}

	if err := m.cloud.RegisterPushToken(ctx, m.cred.Token); err != nil {
		m.registered = false
		return fmt.Errorf("registering push token: %w", err)
	}
	m.registered = true
	return nil
}

// Registered reports whether the current token is registered.
func (m *credentialManager) Registered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registered
}
