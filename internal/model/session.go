package model

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Client is a session handle held by SessionManager. Unauthenticated
// clients carry no User; "promotion" sets User and the token pair.
type Client struct {
	SessionUUID  uuid.UUID
	User         *User
	AccessToken  string
	RefreshToken string
	OpenedAt     time.Time

	// lastActivity is unix nanos of the last frame this client sent,
	// touched from the request path and read by the lifecycle sweeper.
	// atomic because it's written far more often than the session table
	// itself is locked for, and the sweeper must never block request
	// handling to read it.
	lastActivity atomic.Int64
}

// IsAuthenticated reports whether this client has completed promotion.
func (c *Client) IsAuthenticated() bool { return c != nil && c.User != nil }

// Touch records activity at t, resetting the idle clock. Call on every
// inbound frame.
func (c *Client) Touch(t time.Time) { c.lastActivity.Store(t.UnixNano()) }

// IdleSince returns how long it has been since the last Touch, or since
// OpenedAt if Touch was never called.
func (c *Client) IdleSince(now time.Time) time.Duration {
	ns := c.lastActivity.Load()
	if ns == 0 {
		return now.Sub(c.OpenedAt)
	}
	return now.Sub(time.Unix(0, ns))
}

// RefreshTokenRecord is the server-side record of an issued refresh token.
// The raw token is an HMAC-signed JWT; only its hash is persisted.
type RefreshTokenRecord struct {
	JTI         uuid.UUID `json:"jti"          gorm:"primaryKey;type:uuid"`
	UserID      uuid.UUID `json:"userId"       gorm:"not null;type:uuid;index"`
	HashedToken string    `json:"-"            gorm:"not null"`
	IP          string    `json:"ip"           gorm:"column:ip"`
	UserAgent   string    `json:"userAgent"`
	IssuedAt    time.Time `json:"issuedAt"     gorm:"not null;default:now()"`
	ExpiresAt   time.Time `json:"expiresAt"    gorm:"not null"`
	Revoked     bool      `json:"revoked"      gorm:"not null;default:false"`
}

func (RefreshTokenRecord) TableName() string { return "refresh_tokens" }
