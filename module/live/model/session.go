package model

import "time"

const (
	SessionTableName     = "live_session"
	ParticipantTableName = "live_participant"
)

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// Session is a live-stream room or a conversation.
type Session struct {
	ID        string        `bson:"session_id" json:"id"`
	HostID    string        `bson:"host_id" json:"hostId"`
	Title     string        `bson:"title" json:"title"`
	Status    SessionStatus `bson:"status" json:"status"`
	CreatedAt time.Time     `bson:"created_at" json:"createdAt"`
	EndedAt   *time.Time    `bson:"ended_at,omitempty" json:"endedAt,omitempty"`
	// PeakParticipants only ever grows.
	PeakParticipants int `bson:"peak_participants" json:"peakParticipants"`
}

func (s *Session) Ended() bool { return s != nil && s.Status == SessionEnded }

type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
	RoleViewer      Role = "viewer"
)

// ParseRole maps unknown or empty values to RoleViewer.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleHost, RoleParticipant, RoleViewer:
		return Role(s)
	default:
		return RoleViewer
	}
}

// Participant is the membership of one user in one session. There is at most
// one record per (session, user); LeftAt == nil means active.
type Participant struct {
	SessionID   string     `bson:"session_id" json:"sessionId"`
	UserID      string     `bson:"user_id" json:"userId"`
	DisplayName string     `bson:"display_name" json:"displayName"`
	Role        Role       `bson:"role" json:"role"`
	JoinedAt    time.Time  `bson:"joined_at" json:"joinedAt"`
	LeftAt      *time.Time `bson:"left_at,omitempty" json:"leftAt,omitempty"`
}

func (p *Participant) Active() bool { return p != nil && p.LeftAt == nil }

type AttendanceKind string

const (
	AttendanceJoin  AttendanceKind = "join"
	AttendanceLeave AttendanceKind = "leave"
	AttendancePeak  AttendanceKind = "peak"
	AttendanceEnd   AttendanceKind = "end"
)

// AttendanceEvent feeds analytics; it is emitted after the in-memory change.
type AttendanceEvent struct {
	Kind      AttendanceKind `json:"kind"`
	SessionID string         `json:"sessionId"`
	UserID    string         `json:"userId,omitempty"`
	Role      Role           `json:"role,omitempty"`
	Count     int            `json:"count"`
	Peak      int            `json:"peak"`
	At        int64          `json:"at"` // unix ms
}
