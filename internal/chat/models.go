package chat

import (
	"time"

	"gorm.io/datatypes"
)

type Strength string

const (
	StrengthHard Strength = "hard"
	StrengthSoft Strength = "soft"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool { return r == RoleUser || r == RoleAssistant }

// Guideline is a behavioral rule injected into the system prompt.
// The pipeline only reads guidelines.
type Guideline struct {
	ID       string   `gorm:"primaryKey;size:26" json:"id"`
	Title    string   `gorm:"type:varchar(128);not null" json:"title" validate:"required,max=128"`
	Content  string   `gorm:"type:text;not null" json:"content" validate:"required"`
	Strength Strength `gorm:"type:varchar(8);index:idx_guideline_strength_active,priority:1;not null" json:"strength" validate:"required,oneof=hard soft"`
	Priority int      `gorm:"index;not null" json:"priority" validate:"gte=0,lte=100"`
	// Triggers are matched as lowercase substrings; empty means always eligible.
	Triggers  datatypes.JSONSlice[string] `json:"triggers" validate:"dive,required"`
	Active    bool                        `gorm:"index:idx_guideline_strength_active,priority:2;not null" json:"active"`
	SingleUse bool                        `gorm:"not null" json:"single_use"`
	Embedding []byte                      `json:"-"`
	CreatedAt time.Time                   `json:"created_at"`
	UpdatedAt time.Time                   `json:"updated_at"`
}

func (Guideline) TableName() string { return "guidelines" }

type Session struct {
	ID        string    `gorm:"primaryKey;size:26" json:"id"`
	Summary   *string   `gorm:"type:text" json:"summary"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Messages []Message `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`

	MessageCount int64 `gorm:"-" json:"message_count"`
	UsageCount   int64 `gorm:"-" json:"guideline_usage_count"`
}

func (Session) TableName() string { return "sessions" }

type Message struct {
	ID        string    `gorm:"primaryKey;size:26" json:"id"`
	SessionID string    `gorm:"size:26;not null;index:idx_msg_session_created,priority:1" json:"session_id"`
	Role      Role      `gorm:"type:varchar(16);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"index:idx_msg_session_created,priority:2" json:"created_at"`

	GuidelineUsages []GuidelineUsage `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"guideline_usages,omitempty"`
}

func (Message) TableName() string { return "messages" }

// GuidelineUsage records that a guideline fired on an assistant message.
// (session_id, guideline_id) is unique: a guideline fires at most once per session.
type GuidelineUsage struct {
	ID          string    `gorm:"primaryKey;size:26" json:"id"`
	SessionID   string    `gorm:"size:26;not null;uniqueIndex:uniq_usage_session_guideline,priority:1" json:"session_id"`
	MessageID   string    `gorm:"size:26;not null;index" json:"message_id"`
	GuidelineID string    `gorm:"size:26;not null;uniqueIndex:uniq_usage_session_guideline,priority:2;index" json:"guideline_id"`
	UsedAt      time.Time `gorm:"not null;index" json:"used_at"`

	Guideline *Guideline `gorm:"foreignKey:GuidelineID" json:"guideline,omitempty"`
	Message   *Message   `gorm:"foreignKey:MessageID" json:"message,omitempty"`
}

func (GuidelineUsage) TableName() string { return "guideline_usages" }

// GuidelineQuery filters the catalogue. Nil fields are ignored.
type GuidelineQuery struct {
	Strength    *Strength `json:"strength,omitempty"`
	PriorityMin *int      `json:"priority_min,omitempty"`
	PriorityMax *int      `json:"priority_max,omitempty"`
	Triggers    []string  `json:"triggers,omitempty"`
	Active      *bool     `json:"active,omitempty"`
	SingleUse   *bool     `json:"single_use,omitempty"`
	Limit       int       `json:"limit,omitempty"`
}

type DateCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type Statistics struct {
	TotalSessions        int64       `json:"total_sessions"`
	TotalMessages        int64       `json:"total_messages"`
	TotalGuidelineUsages int64       `json:"total_guideline_usages"`
	SessionsByDate       []DateCount `json:"sessions_by_date"`
}

// Models lists every table owned by this package, in migration order.
func Models() []any {
	return []any{&Guideline{}, &Session{}, &Message{}, &GuidelineUsage{}, &Job{}}
}
