package itf

import (
	"sync"
)

// Issue identifiers for ConnectionState.
const (
	IssueCall     = "CALL"
	IssueConnect  = "CONNECT"
	IssuePingPong = "PING_PONG"
	IssueJSON     = "JSON_RPC"
)

// ConnectionState tracks outstanding connectivity issues per issuer. The first
// occurrence and the final removal of an issue are signalled to the caller, so
// failures and recoveries are logged exactly once while repeats stay at debug
// level.
type ConnectionState struct {
	mtx sync.Mutex
	// JSON-RPC issues, keyed by issue id
	jsonIssues map[string]bool
	// XML-RPC issues, keyed by interface id and issue id
	xmlIssues map[string]map[string]bool
}

// NewConnectionState creates a ConnectionState.
func NewConnectionState() *ConnectionState {
	return &ConnectionState{
		jsonIssues: make(map[string]bool),
		xmlIssues:  make(map[string]map[string]bool),
	}
}

// AddIssue records an issue for an XML-RPC interface. It returns true on the
// first occurrence.
func (s *ConnectionState) AddIssue(interfaceID, issueID string) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	issues, ok := s.xmlIssues[interfaceID]
	if !ok {
		issues = make(map[string]bool)
		s.xmlIssues[interfaceID] = issues
	}
	if issues[issueID] {
		return false
	}
	issues[issueID] = true
	return true
}

// RemoveIssue clears an issue for an XML-RPC interface. It returns true on the
// first removal.
func (s *ConnectionState) RemoveIssue(interfaceID, issueID string) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	issues, ok := s.xmlIssues[interfaceID]
	if !ok || !issues[issueID] {
		return false
	}
	delete(issues, issueID)
	if len(issues) == 0 {
		delete(s.xmlIssues, interfaceID)
	}
	return true
}

// HasIssue reports whether the interface has any outstanding issue.
func (s *ConnectionState) HasIssue(interfaceID string) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.xmlIssues[interfaceID]) > 0
}

// AddJSONIssue records a JSON-RPC issue. It returns true on the first
// occurrence.
func (s *ConnectionState) AddJSONIssue(issueID string) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.jsonIssues[issueID] {
		return false
	}
	s.jsonIssues[issueID] = true
	return true
}

// RemoveJSONIssue clears a JSON-RPC issue. It returns true on the first
// removal.
func (s *ConnectionState) RemoveJSONIssue(issueID string) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if !s.jsonIssues[issueID] {
		return false
	}
	delete(s.jsonIssues, issueID)
	return true
}

// HasJSONIssue reports whether any JSON-RPC issue is outstanding.
func (s *ConnectionState) HasJSONIssue() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.jsonIssues) > 0
}
