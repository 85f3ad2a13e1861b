// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Roles a user account may hold.
const (
	RoleUser   = "user"
	RoleLawyer = "lawyer"
	RoleAdmin  = "admin"
)

// Tokens collects an issued access token and its expiry.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // for diagnostics
}

// User is an account stored on the server. The password is kept only as an encoded argon2id hash.
type User struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
	Email     string // unique, lower-cased
	Role      string
	PwdHash   string

	// practice details; meaningful for lawyers only
	PracticeAreas []string
	Description   string
	Experience    int // years
	Location      GeoPoint

	CreatedAt time.Time
	UpdatedAt time.Time
}

// GeoPoint is a longitude/latitude pair in degrees.
type GeoPoint struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// ProfilePatch is a partial profile change; nil fields are left untouched.
type ProfilePatch struct {
	FirstName     *string
	LastName      *string
	PracticeAreas *[]string
	Description   *string
	Experience    *int
	Location      *GeoPoint
}

// Empty reports whether the patch changes nothing.
func (p ProfilePatch) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && !p.TouchesPractice()
}

// TouchesPractice reports whether the patch changes lawyer-only details.
func (p ProfilePatch) TouchesPractice() bool {
	return p.PracticeAreas != nil || p.Description != nil || p.Experience != nil || p.Location != nil
}

// UserSummary is the public part of a user shown to contacts.
type UserSummary struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
}

// Contact is an unordered pair of users plus a pointer to their latest message.
type Contact struct {
	ID            uuid.UUID     `json:"id"`
	User1         uuid.UUID     `json:"user1"`
	User2         uuid.UUID     `json:"user2"`
	LastMessageID uuid.NullUUID `json:"lastMessageId"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Counterpart returns the other side of the edge relative to userID.
func (c Contact) Counterpart(userID uuid.UUID) uuid.UUID {
	if c.User1 == userID {
		return c.User2
	}
	return c.User1
}

// Involves reports whether userID is one of the two parties.
func (c Contact) Involves(userID uuid.UUID) bool {
	return c.User1 == userID || c.User2 == userID
}

// MessagePreview is the last-message excerpt shown in a contact list.
type MessagePreview struct {
	ID        uuid.UUID `json:"id"`
	SenderID  uuid.UUID `json:"senderId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// ContactView is a contact edge as seen by one of its parties.
type ContactView struct {
	ID          uuid.UUID       `json:"id"`
	Counterpart UserSummary     `json:"contactUser"`
	LastMessage *MessagePreview `json:"lastMessage"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Message is a single persisted message addressed by contact edge.
type Message struct {
	ID         uuid.UUID `json:"id"`
	ContactID  uuid.UUID `json:"contactId"`
	SenderID   uuid.UUID `json:"senderId"`
	ReceiverID uuid.UUID `json:"receiverId"`
	Content    string    `json:"content"`
	FileURLs   []string  `json:"fileUrl"`
	Delivered  bool      `json:"delivered"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MessageStatus is the delivered/read pair carried by status updates.
type MessageStatus struct {
	Delivered bool `json:"delivered"`
	Read      bool `json:"read"`
}

// StatusPatch is a partial status change; nil fields are left untouched.
type StatusPatch struct {
	Delivered *bool
	Read      *bool
}

// Empty reports whether the patch changes nothing.
func (p StatusPatch) Empty() bool { return p.Delivered == nil && p.Read == nil }
