// Package session persists the mapping from chat ids to external agent
// session ids and workspace folders, so runs can resume where they left off.
package session

import (
	"encoding/json"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

// Record is one chat's continuation state.
type Record struct {
	SessionID string `json:"session_id"`
	Workspace string `json:"workspace_folder,omitempty"`
}

// Store is a durable chat_id → Record map backed by a JSON file.
//
// On-disk values are either a bare session-id string (legacy shape, still
// written for records without a workspace folder) or a Record object.
type Store struct {
	path   string
	logger *logger.Logger

	mu      sync.RWMutex
	records map[string]Record
}

// NewStore loads the session map from path. A missing file yields an empty
// store; an unreadable file is logged and treated as empty rather than
// blocking startup.
func NewStore(path string, log *logger.Logger) *Store {
	s := &Store{
		path:    path,
		logger:  log.WithFields(zap.String("component", "session-store")),
		records: make(map[string]Record),
	}
	s.load()
	return s
}

// Resolve returns the external session id for a chat, or "" to start fresh.
func (s *Store) Resolve(chatID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[chatID].SessionID
}

// SetSession records the external session id reported by the agent.
func (s *Store) SetSession(chatID, sessionID string) {
	s.mu.Lock()
	rec := s.records[chatID]
	rec.SessionID = sessionID
	s.records[chatID] = rec
	s.mu.Unlock()
	s.save()
}

// DropSession removes the continuation id for a chat so the next run starts
// a brand-new session. The workspace folder, if any, is kept.
func (s *Store) DropSession(chatID string) {
	s.mu.Lock()
	rec, ok := s.records[chatID]
	if !ok {
		s.mu.Unlock()
		return
	}
	rec.SessionID = ""
	s.records[chatID] = rec
	s.mu.Unlock()
	s.save()
}

// Workspace returns the registered workspace folder for a chat, or "".
func (s *Store) Workspace(chatID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[chatID].Workspace
}

// SetWorkspace registers (or, with an empty path, clears) the workspace
// folder for a chat so approvals can auto-allow file operations there.
func (s *Store) SetWorkspace(chatID, path string) {
	s.mu.Lock()
	rec := s.records[chatID]
	rec.Workspace = path
	s.records[chatID] = rec
	s.mu.Unlock()
	s.save()
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read session file", zap.Error(err))
		}
		return
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("failed to parse session file", zap.Error(err))
		return
	}

	for chatID, val := range raw {
		// Legacy shape: a bare session-id string.
		var sid string
		if err := json.Unmarshal(val, &sid); err == nil {
			s.records[chatID] = Record{SessionID: sid}
			continue
		}
		var rec Record
		if err := json.Unmarshal(val, &rec); err == nil {
			s.records[chatID] = rec
		}
	}
	s.logger.Info("loaded session map", zap.Int("chats", len(s.records)))
}

func (s *Store) save() {
	s.mu.RLock()
	out := make(map[string]any, len(s.records))
	for chatID, rec := range s.records {
		if rec.Workspace == "" {
			// Keep the legacy shape for records without a workspace folder.
			out[chatID] = rec.SessionID
		} else {
			out[chatID] = rec
		}
	}
	s.mu.RUnlock()

	data, err := json.Marshal(out)
	if err != nil {
		s.logger.Error("failed to marshal session map", zap.Error(err))
		return
	}

	// Atomic replace so a crash mid-write never corrupts the map.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		s.logger.Warn("failed to persist session map", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.logger.Warn("failed to replace session file", zap.Error(err))
	}
}
