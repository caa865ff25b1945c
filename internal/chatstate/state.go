package chatstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/ChatGPT-CN/chat-ai/internal/crypto"
	"github.com/ChatGPT-CN/chat-ai/internal/storage"
	"github.com/ChatGPT-CN/chat-ai/internal/wire"
)

// Storage keys. They match the names the browser client keeps in local
// storage so exported state stays interchangeable.
const (
	KeySessions       = "chatSessions"
	KeyCurrentSession = "currentSessionId"
	KeyAPIKeys        = "apiKeys"
	KeyCustomAPIs     = "customApis"
	KeyProvider       = "selectedProvider"
)

const DefaultSessionName = "New Chat"

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrNoCurrentSession  = errors.New("no session selected")
	ErrCustomAPINotFound = errors.New("custom api not found")
	ErrMissingCredential = errors.New("no api key stored for provider")
	ErrInvalidSender     = errors.New("sender must be user or ai")
	ErrSealedNoKey       = errors.New("stored credentials are sealed but no master key is configured")

	// ErrNotPersisted wraps storage failures after the in-memory mutation
	// has already been applied.
	ErrNotPersisted = errors.New("state not persisted")
)

type ChatMessage struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Sender    string `json:"sender"`
	Timestamp int64  `json:"timestamp"`
}

type ChatSession struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Messages  []ChatMessage `json:"messages"`
	CreatedAt int64         `json:"createdAt"`
}

// State is the whole client application state. CurrentSessionID is either
// empty or the id of an entry in Sessions.
type State struct {
	Sessions         []ChatSession
	CurrentSessionID string
	Provider         string
	Credentials      map[string]string
	CustomAPIs       []wire.CustomConfig
}

// Sealer encrypts the credential blobs before they reach storage.
type Sealer interface {
	Seal(label, value string) (string, error)
	Open(label, raw string) (string, error)
}

type Config struct {
	KV              storage.KV
	Sealer          Sealer
	Logger          zerolog.Logger
	DefaultProvider string
	Now             func() time.Time
	NewID           func() string
}

// Store holds State and funnels every mutation through a method that
// persists the affected keys before returning. A failed write leaves the
// in-memory mutation in place and returns the error.
type Store struct {
	kv              storage.KV
	sealer          Sealer
	logger          zerolog.Logger
	defaultProvider string
	now             func() time.Time
	newID           func() string

	mu    sync.Mutex
	state State
}

func New(cfg Config) *Store {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = wire.DeepSeek
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.NewString() }
	}
	return &Store{
		kv:              cfg.KV,
		sealer:          cfg.Sealer,
		logger:          cfg.Logger.With().Str("component", "chatstate").Logger(),
		defaultProvider: cfg.DefaultProvider,
		now:             cfg.Now,
		newID:           cfg.NewID,
		state: State{
			Provider:    cfg.DefaultProvider,
			Credentials: map[string]string{},
		},
	}
}

// Load replaces the in-memory state with what storage holds. Missing keys
// keep their defaults; a dangling current session id is cleared.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := State{Provider: s.defaultProvider, Credentials: map[string]string{}}

	if err := s.loadJSON(ctx, KeySessions, false, &next.Sessions); err != nil {
		return err
	}
	current, err := s.loadRaw(ctx, KeyCurrentSession)
	if err != nil {
		return err
	}
	next.CurrentSessionID = current
	if provider, err := s.loadRaw(ctx, KeyProvider); err != nil {
		return err
	} else if provider != "" {
		next.Provider = provider
	}
	if err := s.loadJSON(ctx, KeyAPIKeys, true, &next.Credentials); err != nil {
		return err
	}
	if next.Credentials == nil {
		next.Credentials = map[string]string{}
	}
	if err := s.loadJSON(ctx, KeyCustomAPIs, true, &next.CustomAPIs); err != nil {
		return err
	}

	if next.CurrentSessionID != "" && indexOf(next.Sessions, next.CurrentSessionID) < 0 {
		s.logger.Warn().Str("session_id", next.CurrentSessionID).Msg("stored current session does not exist; clearing")
		next.CurrentSessionID = ""
	}
	s.state = next
	return nil
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := State{
		Sessions:         make([]ChatSession, len(s.state.Sessions)),
		CurrentSessionID: s.state.CurrentSessionID,
		Provider:         s.state.Provider,
		Credentials:      make(map[string]string, len(s.state.Credentials)),
		CustomAPIs:       append([]wire.CustomConfig(nil), s.state.CustomAPIs...),
	}
	for i, sess := range s.state.Sessions {
		out.Sessions[i] = copySession(sess)
	}
	for k, v := range s.state.Credentials {
		out.Credentials[k] = v
	}
	return out
}

func (s *Store) CreateSession(ctx context.Context, name string) (ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultSessionName
	}
	sess := ChatSession{
		ID:        s.newID(),
		Name:      name,
		Messages:  []ChatMessage{},
		CreatedAt: s.now().UnixMilli(),
	}
	s.state.Sessions = append(s.state.Sessions, sess)
	s.state.CurrentSessionID = sess.ID

	err := s.persist(ctx, KeySessions, KeyCurrentSession)
	return copySession(sess), err
}

func (s *Store) SelectSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if indexOf(s.state.Sessions, id) < 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.state.CurrentSessionID = id
	return s.persist(ctx, KeyCurrentSession)
}

func (s *Store) CurrentSession() (ChatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.state.Sessions, s.state.CurrentSessionID)
	if i < 0 {
		return ChatSession{}, false
	}
	return copySession(s.state.Sessions[i]), true
}

// AppendMessage adds msg to the end of the session. Id and timestamp are
// assigned when left empty; messages are never edited afterwards.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg ChatMessage) (ChatMessage, error) {
	if msg.Sender != wire.SenderUser && msg.Sender != wire.SenderAI {
		return ChatMessage{}, fmt.Errorf("%w: %q", ErrInvalidSender, msg.Sender)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.state.Sessions, sessionID)
	if i < 0 {
		return ChatMessage{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if msg.ID == "" {
		msg.ID = s.newID()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = s.now().UnixMilli()
	}
	s.state.Sessions[i].Messages = append(s.state.Sessions[i].Messages, msg)
	return msg, s.persist(ctx, KeySessions)
}

// History returns a copy of the session's messages in order.
func (s *Store) History(sessionID string) ([]ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.state.Sessions, sessionID)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return append([]ChatMessage{}, s.state.Sessions[i].Messages...), nil
}

// SetCredential stores key for provider; an empty key removes it.
func (s *Store) SetCredential(ctx context.Context, provider, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key = strings.TrimSpace(key)
	if key == "" {
		delete(s.state.Credentials, provider)
	} else {
		s.state.Credentials[provider] = key
	}
	return s.persist(ctx, KeyAPIKeys)
}

func (s *Store) Credential(provider string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.state.Credentials[provider]
	return key, ok && key != ""
}

// AddCustomAPI registers cfg under a fresh id, ignoring any id it carries.
func (s *Store) AddCustomAPI(ctx context.Context, cfg wire.CustomConfig) (wire.CustomConfig, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return wire.CustomConfig{}, fmt.Errorf("custom api name is required")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return wire.CustomConfig{}, fmt.Errorf("custom api endpoint is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg.ID = s.newID()
	s.state.CustomAPIs = append(s.state.CustomAPIs, cfg)
	return cfg, s.persist(ctx, KeyCustomAPIs)
}

// UpdateCustomAPI replaces the stored config with the same id.
func (s *Store) UpdateCustomAPI(ctx context.Context, cfg wire.CustomConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.state.CustomAPIs {
		if s.state.CustomAPIs[i].ID == cfg.ID {
			s.state.CustomAPIs[i] = cfg
			return s.persist(ctx, KeyCustomAPIs)
		}
	}
	return fmt.Errorf("%w: %s", ErrCustomAPINotFound, cfg.ID)
}

// RemoveCustomAPI drops the config. If it was the selected provider the
// selection falls back to the default provider.
func (s *Store) RemoveCustomAPI(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.state.CustomAPIs {
		if s.state.CustomAPIs[i].ID != id {
			continue
		}
		s.state.CustomAPIs = append(s.state.CustomAPIs[:i], s.state.CustomAPIs[i+1:]...)
		keys := []string{KeyCustomAPIs}
		if s.state.Provider == id {
			s.state.Provider = s.defaultProvider
			keys = append(keys, KeyProvider)
		}
		return s.persist(ctx, keys...)
	}
	return fmt.Errorf("%w: %s", ErrCustomAPINotFound, id)
}

// CustomAPI finds a config by id, then by name. Names are not unique; the
// first match wins.
func (s *Store) CustomAPI(idOrName string) (wire.CustomConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.state.CustomAPIs {
		if c.ID == idOrName {
			return c, true
		}
	}
	for _, c := range s.state.CustomAPIs {
		if c.Name == idOrName {
			return c, true
		}
	}
	return wire.CustomConfig{}, false
}

func (s *Store) CustomAPIs() []wire.CustomConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.CustomConfig(nil), s.state.CustomAPIs...)
}

func (s *Store) SetProvider(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("provider id is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Provider = id
	return s.persist(ctx, KeyProvider)
}

func (s *Store) Provider() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Provider
}

// BuildRequest assembles the relay request for the next turn of a session:
// the full history, the selected provider, and exactly one of the matching
// custom config or the stored credential.
func (s *Store) BuildRequest(sessionID, model string) (wire.ChatRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.state.Sessions, sessionID)
	if i < 0 {
		return wire.ChatRequest{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	msgs := s.state.Sessions[i].Messages
	out := make([]wire.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, wire.Message{Sender: m.Sender, Text: m.Text})
	}

	req := wire.ChatRequest{Provider: s.state.Provider, Messages: out, Model: model}
	for _, c := range s.state.CustomAPIs {
		if c.ID == s.state.Provider {
			cfg := c
			req.CustomAPIConfig = &cfg
			return req, nil
		}
	}
	key := s.state.Credentials[s.state.Provider]
	if key == "" {
		return wire.ChatRequest{}, fmt.Errorf("%w %q", ErrMissingCredential, s.state.Provider)
	}
	req.APIKey = key
	return req, nil
}

// Reseal rewrites the credential blobs so they are sealed under the
// sealer's current key. Plain blobs become sealed.
func (s *Store) Reseal(ctx context.Context) error {
	if s.sealer == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist(ctx, KeyAPIKeys, KeyCustomAPIs)
}

func (s *Store) persist(ctx context.Context, keys ...string) error {
	var result *multierror.Error
	for _, key := range keys {
		var err error
		switch key {
		case KeySessions:
			err = s.saveJSON(ctx, key, false, s.sessionsForStorage())
		case KeyCurrentSession:
			err = s.kv.Set(ctx, key, s.state.CurrentSessionID)
		case KeyProvider:
			err = s.kv.Set(ctx, key, s.state.Provider)
		case KeyAPIKeys:
			err = s.saveJSON(ctx, key, true, s.state.Credentials)
		case KeyCustomAPIs:
			err = s.saveJSON(ctx, key, true, s.customAPIsForStorage())
		default:
			err = fmt.Errorf("unknown state key %q", key)
		}
		if err != nil {
			s.logger.Error().Err(err).Str("key", key).Msg("failed to persist state; memory and storage now differ")
			result = multierror.Append(result, fmt.Errorf("persist %s: %w", key, err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrNotPersisted, err)
	}
	return nil
}

func (s *Store) sessionsForStorage() []ChatSession {
	if s.state.Sessions == nil {
		return []ChatSession{}
	}
	return s.state.Sessions
}

func (s *Store) customAPIsForStorage() []wire.CustomConfig {
	if s.state.CustomAPIs == nil {
		return []wire.CustomConfig{}
	}
	return s.state.CustomAPIs
}

func (s *Store) saveJSON(ctx context.Context, key string, sensitive bool, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	value := string(b)
	if sensitive && s.sealer != nil {
		if value, err = s.sealer.Seal(key, value); err != nil {
			return fmt.Errorf("seal: %w", err)
		}
	}
	return s.kv.Set(ctx, key, value)
}

func (s *Store) loadRaw(ctx context.Context, key string) (string, error) {
	v, err := s.kv.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load %s: %w", key, err)
	}
	return v, nil
}

// loadJSON decodes key into v. Sensitive values may be sealed or, when
// written before a master key existed, plain JSON; the latter is sealed on
// the next write.
func (s *Store) loadJSON(ctx context.Context, key string, sensitive bool, v any) error {
	raw, err := s.loadRaw(ctx, key)
	if err != nil || raw == "" {
		return err
	}
	if sensitive && crypto.IsSealed(raw) {
		if s.sealer == nil {
			return fmt.Errorf("load %s: %w", key, ErrSealedNoKey)
		}
		if raw, err = s.sealer.Open(key, raw); err != nil {
			return fmt.Errorf("open %s: %w", key, err)
		}
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func indexOf(sessions []ChatSession, id string) int {
	if id == "" {
		return -1
	}
	for i := range sessions {
		if sessions[i].ID == id {
			return i
		}
	}
	return -1
}

func copySession(s ChatSession) ChatSession {
	s.Messages = append([]ChatMessage{}, s.Messages...)
	return s
}
