package apix

import (
	"context"
	"sync"

	"github.com/finvoice/go-apix-client/apix/mutex"
)

// SessionState tracks the backend confirmation lifecycle. A backend starts
// unconfirmed and becomes confirmed only after both authentication calls
// succeed; resetting clears the triple and drops back to unconfirmed.
type SessionState int

const (
	Unconfirmed SessionState = iota
	Confirmed
)

// Session holds the cached transfer triple for one backend and binds the
// client operations to it. Credentials are read by every signed call and
// written only by Authenticate: single writer, many readers.
type Session struct {
	client    *Client
	backendID string

	mu       sync.RWMutex
	creds    Credentials
	customer CustomerInfo
	state    SessionState
}

// NewSession creates an unconfirmed session for the given backend.
func NewSession(backendID string, client *Client) *Session {
	return &Session{client: client, backendID: backendID}
}

// Authenticate retrieves the transfer triple and verifies the account,
// then marks the session confirmed. It is the only writer of the
// credential triple.
func (s *Session) Authenticate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.client.RetrieveTransferID(ctx)
	if err != nil {
		return err
	}

	customer, err := s.client.AuthenticateByUser(ctx)
	if err != nil {
		return err
	}

	s.creds = creds
	s.customer = customer
	s.state = Confirmed
	logger.WithField("backend", s.backendID).Debug("backend authentication confirmed")
	return nil
}

// Reset clears the credential triple and returns the session to the
// unconfirmed state.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = Credentials{}
	s.customer = CustomerInfo{}
	s.state = Unconfirmed
}

func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Credentials returns the cached triple, or ErrNotConfirmed when the
// session has not been authenticated.
func (s *Session) Credentials() (Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != Confirmed {
		return Credentials{}, ErrNotConfirmed
	}
	return s.creds, nil
}

// Customer returns the account information captured during Authenticate.
func (s *Session) Customer() CustomerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.customer
}

// BackendID identifies the owning backend configuration.
func (s *Session) BackendID() string {
	return s.backendID
}

// SendInvoiceZIP uploads a payload using the cached credentials.
func (s *Session) SendInvoiceZIP(ctx context.Context, payload []byte) (*Response, error) {
	creds, err := s.Credentials()
	if err != nil {
		return nil, err
	}
	return s.client.SendInvoiceZIP(ctx, creds, payload)
}

// ListInvoiceZIPs lists remote documents using the cached credentials.
func (s *Session) ListInvoiceZIPs(ctx context.Context) (*Response, error) {
	creds, err := s.Credentials()
	if err != nil {
		return nil, err
	}
	return s.client.ListInvoiceZIPs(ctx, creds)
}

// Download fetches one remote document using the cached credentials and
// the document's own storage handle.
func (s *Session) Download(ctx context.Context, storageID, storageKey string) ([]byte, error) {
	creds, err := s.Credentials()
	if err != nil {
		return nil, err
	}
	return s.client.Download(ctx, creds, storageID, storageKey, false)
}

// Registry hands out one session per backend and serializes concurrent
// authentication for the same backend, so two callers can't tear the
// credential triple between them.
type Registry struct {
	locks mutex.KeyedRWMutex[string]

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Session returns the session for backendID, creating it on first use.
func (r *Registry) Session(backendID string, client *Client) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[backendID]; ok {
		return s
	}
	s := NewSession(backendID, client)
	r.sessions[backendID] = s
	return s
}

// Authenticate authenticates the backend's session under a per-backend
// lock. Callers racing on the same backend wait for one another; distinct
// backends proceed in parallel.
func (r *Registry) Authenticate(ctx context.Context, backendID string, client *Client) (*Session, error) {
	r.locks.Lock(backendID)
	defer r.locks.Unlock(backendID)

	s := r.Session(backendID, client)
	if s.State() == Confirmed {
		return s, nil
	}
	if err := s.Authenticate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}
