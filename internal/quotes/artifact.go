// Package quotes holds the artifact, quota and change types shared by the
// gallery engine, its HTTP and feed clients, and the galleryd backend.
package quotes

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Artifact is one rendered quote image. After creation only moderation
// changes it, and only its caption.
type Artifact struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"userId"`
	Template     string    `json:"template"`
	Font         string    `json:"font"`
	Theme        string    `json:"theme"`
	Orientation  string    `json:"orientation"`
	Animated     bool      `json:"animated"`
	Caption      string    `json:"caption"`
	QuotedUserID string    `json:"quotedUserId"`
	ImageURL     string    `json:"imageUrl"`
	CreatedAt    time.Time `json:"createdAt"`

	// StorageKey locates the rendered image in object storage. Server only.
	StorageKey string `json:"-"`
}

func (a Artifact) Validate() error {
	if strings.TrimSpace(a.ID) == "" || strings.TrimSpace(a.OwnerID) == "" {
		return ErrInvalidInput
	}
	return nil
}

// Profile is the acting user's display profile returned with every page.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}
