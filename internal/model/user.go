package model

import "time"

type User struct {
	ID             string            `json:"id"`
	FirstName      string            `json:"firstName"`
	LastName       string            `json:"lastName"`
	Email          string            `json:"email"`
	Picture        string            `json:"picture,omitempty"`
	StatusMessage  string            `json:"statusMessage,omitempty"`
	Phone          string            `json:"phone,omitempty"`
	SocialProfiles map[string]string `json:"socialProfiles,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// Profile is the snapshot of a user that travels with presence and message events.
type Profile struct {
	ID        string `json:"userId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Picture   string `json:"picture,omitempty"`
}

func (u *User) Profile() Profile {
	return Profile{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Picture:   u.Picture,
	}
}

// ProfileUpdate carries the editable subset of a user. Nil fields are left untouched.
type ProfileUpdate struct {
	FirstName      *string           `json:"firstName" validate:"omitempty,min=1,max=64"`
	LastName       *string           `json:"lastName" validate:"omitempty,max=64"`
	Picture        *string           `json:"picture" validate:"omitempty,max=1024"`
	StatusMessage  *string           `json:"statusMessage" validate:"omitempty,max=256"`
	Phone          *string           `json:"phone" validate:"omitempty,max=32"`
	SocialProfiles map[string]string `json:"socialProfiles"`
}

// OnlineUser is one element of the presence snapshot.
type OnlineUser struct {
	Profile
	Status string `json:"status,omitempty"`
}
