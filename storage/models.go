package storage

import (
	"fmt"
	"strings"
	"time"
)

// Status is the membership status of a participant
type Status string

const (
	StatusActive Status = "active"
	StatusLeft   Status = "left"
)

// Group is a Telegram chat that takes part in weekly pairings
type Group struct {
	ChatID    int64 `gorm:"primaryKey;autoIncrement:false"`
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Participant is a user who joined the pairings of a group at some point
type Participant struct {
	ID        uint   `gorm:"primaryKey"`
	GroupID   int64  `gorm:"uniqueIndex:idx_group_user;not null"`
	UserID    int64  `gorm:"uniqueIndex:idx_group_user;not null"`
	Username  string
	FirstName string
	LastName  string
	Status    Status `gorm:"index;not null;default:active"`

	// Outcome of the most recent round the participant took part in
	LastPartnerID *int64
	LastUnpaired  bool
	LastRoundAt   *time.Time

	JoinedAt time.Time
	LeftAt   *time.Time
}

// Active reports whether the participant is eligible for pairing
func (p Participant) Active() bool {
	return p.Status == StatusActive
}

// DisplayName returns @username when known, the full name otherwise
func (p Participant) DisplayName() string {
	if p.Username != "" {
		return "@" + p.Username
	}
	if name := strings.TrimSpace(p.FirstName + " " + p.LastName); name != "" {
		return name
	}
	return fmt.Sprintf("user %d", p.UserID)
}

// Round is a recorded weekly pairing of a group
type Round struct {
	ID             uint   `gorm:"primaryKey"`
	GroupID        int64  `gorm:"uniqueIndex:idx_group_period;not null"`
	Period         string `gorm:"uniqueIndex:idx_group_period;not null"`
	CreatedAt      time.Time
	UnpairedUserID *int64
	AnnouncedAt    *time.Time
	Pairs          []RoundPair `gorm:"foreignKey:RoundID;constraint:OnDelete:CASCADE"`
}

// Announced reports whether the round was posted to the chat
func (r Round) Announced() bool {
	return r.AnnouncedAt != nil
}

// RoundPair is a single pair of a round
type RoundPair struct {
	ID           uint  `gorm:"primaryKey"`
	RoundID      uint  `gorm:"index;not null"`
	FirstUserID  int64 `gorm:"not null"`
	SecondUserID int64 `gorm:"not null"`
}

// UserProfile is what Telegram tells us about a user
type UserProfile struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// JoinResult describes what JoinGroup changed
type JoinResult int

const (
	Joined JoinResult = iota
	Rejoined
	AlreadyActive
)

// LeaveResult describes what LeaveGroup changed
type LeaveResult int

const (
	Left LeaveResult = iota
	NotMember
)
