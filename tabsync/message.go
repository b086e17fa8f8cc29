package tabsync

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind names a session event.
type Kind string

const (
	KindLogin            Kind = "login"
	KindLogout           Kind = "logout"
	KindTokenRefresh     Kind = "tokenRefresh"
	KindPermissionUpdate Kind = "permissionUpdate"
)

// Valid reports whether k is one of the four known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindLogin, KindLogout, KindTokenRefresh, KindPermissionUpdate:
		return true
	}
	return false
}

// User is the identity announced with a login.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Message is what travels on the channel. It is never stored.
type Message struct {
	Kind        Kind      `json:"kind"`
	Origin      string    `json:"origin"`
	User        *User     `json:"user,omitempty"`
	Token       string    `json:"token,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	SentAt      time.Time `json:"sentAt"`
}

func encode(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", msg.Kind, err)
	}
	return payload, nil
}

func decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	if !msg.Kind.Valid() {
		return Message{}, fmt.Errorf("unknown message kind %q", msg.Kind)
	}
	return msg, nil
}
