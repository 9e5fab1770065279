package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrValidation = errors.New("validation failed")
)

// User represents a user in the system.
type User struct {
	ID          string   `json:"id"`
	UserName    string   `json:"userName"`
	DisplayName string   `json:"displayName"`
	AvatarURL   string   `json:"avatarUrl"`
	Presence    Presence `json:"presence"`
}

// Presence represents the online status of a user.
type Presence struct {
	Online   bool  `json:"online"`
	LastSeen int64 `json:"lastSeen"` // Unix timestamp (seconds)
}

// Group represents a group conversation roster. AdminID is always
// a member and is the only identity allowed to mutate the group.
type Group struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	AdminID   string   `json:"adminId"`
	MemberIDs []string `json:"memberIds"`
	GroupPic  string   `json:"groupPic,omitempty"`
}

// IsMember reports whether userID is on the group's current roster.
func (g Group) IsMember(userID string) bool {
	for _, id := range g.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationGroup  ConversationKind = "group"
)

// Conversation addresses a message target: either a direct peer or
// a group. The kind discriminates which one the ID refers to, so a
// group id can never masquerade as a peer id.
type Conversation struct {
	Kind ConversationKind `json:"kind"`
	ID   string           `json:"id"`
}

func DirectConversation(peerID string) Conversation {
	return Conversation{Kind: ConversationDirect, ID: peerID}
}

func GroupConversation(groupID string) Conversation {
	return Conversation{Kind: ConversationGroup, ID: groupID}
}

func (c Conversation) IsGroup() bool {
	return c.Kind == ConversationGroup
}

func (c Conversation) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: conversation id is empty", ErrValidation)
	}
	if c.Kind != ConversationDirect && c.Kind != ConversationGroup {
		return fmt.Errorf("%w: unknown conversation kind %q", ErrValidation, c.Kind)
	}
	return nil
}

// Message is an immutable chat record. Exactly one of ReceiverID and
// GroupID is set: ReceiverID for direct messages, GroupID for group
// messages. Seq is the per-conversation ordering key assigned on
// persistence; CreatedAt is carried for display.
type Message struct {
	ID         string `json:"id"`
	Seq        int64  `json:"seq"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
	Text       string `json:"text,omitempty"`
	HTML       string `json:"html,omitempty"`
	Image      string `json:"image,omitempty"`
	CreatedAt  int64  `json:"createdAt"` // Unix timestamp (seconds)
}

// InConversation reports whether the message belongs to conv as seen
// by selfID. Direct conversations are symmetric: the peer may be the
// sender or the receiver, but self must be the other party.
func (m Message) InConversation(conv Conversation, selfID string) bool {
	switch conv.Kind {
	case ConversationGroup:
		return m.GroupID == conv.ID
	case ConversationDirect:
		if m.GroupID != "" {
			return false
		}
		return (m.SenderID == conv.ID && m.ReceiverID == selfID) ||
			(m.SenderID == selfID && m.ReceiverID == conv.ID)
	}
	return false
}

// MessagePayload is the user-supplied part of a message before it is
// validated and persisted. Image is raw inbound content (base64 or
// data URL), not yet a resolved URL.
type MessagePayload struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

type EventType string

const (
	EventDirectMessage EventType = "directMessage"
	EventGroupMessage  EventType = "groupMessage"
)

// Event is the push-channel envelope delivered to live connections.
type Event struct {
	Type    EventType `json:"type"`
	Message Message   `json:"message"`
}
