package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"palaver/internal/content"
	"palaver/internal/membership"
	"palaver/internal/metrics"
	"palaver/internal/models"
	"palaver/internal/presence"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Store is the persistence collaborator for messages, groups and
// user records.
type Store interface {
	CreateMessage(message models.Message) (models.Message, error)
	ListMessages(conv models.Conversation, callerID string) ([]models.Message, error)
	GetGroup(groupID string) (models.Group, error)
	PutGroup(group models.Group) error
	UpdateGroupMembers(groupID string, toAdd, toRemove []string) (models.Group, error)
	ListGroupsForMember(userID string) ([]models.Group, error)
	GetUser(userID string) (models.User, error)
	ListUsers() ([]models.User, error)
}

// Registry resolves fan-out targets at send time.
type Registry interface {
	Lookup(userID string) (presence.Conn, bool)
	OnlineSet() []string
}

// ResolveImageFunc turns raw inbound image content into a URL, or
// returns empty for an absent image.
type ResolveImageFunc func(raw string) (string, error)

// Router validates, persists and fans out messages. Persistence
// strictly precedes any push: a message that failed to persist is
// never published.
type Router struct {
	store    Store
	registry Registry
	resolve  ResolveImageFunc
	log      *slog.Logger
	now      func() time.Time
}

func New(store Store, registry Registry, resolve ResolveImageFunc) *Router {
	return &Router{
		store:    store,
		registry: registry,
		resolve:  resolve,
		log:      slog.Default(),
		now:      time.Now,
	}
}

// buildMessage validates and normalizes a payload into an unpersisted
// message. The image is resolved to a URL here, before persistence.
func (r *Router) buildMessage(senderID string, p models.MessagePayload) (models.Message, error) {
	text := strings.TrimSpace(p.Text)
	if text == "" && p.Image == "" {
		return models.Message{}, fmt.Errorf("%w: message needs text or an image", models.ErrValidation)
	}

	imageURL, err := r.resolve(p.Image)
	if err != nil {
		return models.Message{}, err
	}

	msg := models.Message{
		ID:        uuid.NewString(),
		SenderID:  senderID,
		Image:     imageURL,
		CreatedAt: r.now().Unix(),
	}

	if text != "" {
		msg.Text = content.Sanitize(text)
		html, err := content.RenderHTML(msg.Text)
		if err != nil {
			return models.Message{}, err
		}
		msg.HTML = html
	}

	return msg, nil
}

// SendDirect persists a direct message and pushes it to the receiver
// if they are online. The returned message is the canonical persisted
// record regardless of push outcome.
func (r *Router) SendDirect(ctx context.Context, senderID, receiverID string, p models.MessagePayload) (models.Message, error) {
	if _, err := r.store.GetUser(receiverID); err != nil {
		return models.Message{}, err
	}

	msg, err := r.buildMessage(senderID, p)
	if err != nil {
		return models.Message{}, err
	}
	msg.ReceiverID = receiverID

	persisted, err := r.store.CreateMessage(msg)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to persist message: %w", err)
	}
	metrics.MessagesPersisted.WithLabelValues("direct").Inc()

	if conn, ok := r.registry.Lookup(receiverID); ok {
		go r.push(receiverID, conn, models.Event{Type: models.EventDirectMessage, Message: persisted})
	}

	return persisted, nil
}

// SendGroup persists a group message and fans it out to every current
// member except the sender. Membership is checked at send time; the
// roster read here is also the one used for fan-out.
func (r *Router) SendGroup(ctx context.Context, senderID, groupID string, p models.MessagePayload) (models.Message, error) {
	group, err := r.store.GetGroup(groupID)
	if err != nil {
		return models.Message{}, err
	}
	if !group.IsMember(senderID) {
		return models.Message{}, fmt.Errorf("%w: not a member of group %s", models.ErrForbidden, groupID)
	}

	msg, err := r.buildMessage(senderID, p)
	if err != nil {
		return models.Message{}, err
	}
	msg.GroupID = groupID

	persisted, err := r.store.CreateMessage(msg)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to persist message: %w", err)
	}
	metrics.MessagesPersisted.WithLabelValues("group").Inc()

	ev := models.Event{Type: models.EventGroupMessage, Message: persisted}
	for _, memberID := range group.MemberIDs {
		if memberID == senderID {
			continue
		}
		// Each member is resolved independently; offline members are
		// simply skipped, there is no queueing.
		conn, ok := r.registry.Lookup(memberID)
		if !ok {
			continue
		}
		go r.push(memberID, conn, ev)
	}

	return persisted, nil
}

// push is fire-and-forget per recipient: a failure is logged and
// counted, never propagated to the sender or to other recipients.
func (r *Router) push(userID string, conn presence.Conn, ev models.Event) {
	if err := conn.Push(ev); err != nil {
		metrics.PushesDropped.WithLabelValues(string(ev.Type)).Inc()
		r.log.Warn("push failed", "user_id", userID, "event", ev.Type, "error", err)
		return
	}
	metrics.PushesDelivered.WithLabelValues(string(ev.Type)).Inc()
}

// History returns the conversation history visible to callerID,
// ascending by sequence.
func (r *Router) History(ctx context.Context, callerID string, conv models.Conversation) ([]models.Message, error) {
	if err := conv.Validate(); err != nil {
		return nil, err
	}

	if conv.IsGroup() {
		if _, err := r.store.GetGroup(conv.ID); err != nil {
			return nil, err
		}
	} else {
		if _, err := r.store.GetUser(conv.ID); err != nil {
			return nil, err
		}
	}

	return r.store.ListMessages(conv, callerID)
}

// GroupUpdate carries an admin's requested group mutation. Zero
// values mean "leave unchanged".
type GroupUpdate struct {
	Name            string
	GroupPic        string
	MembersToAdd    []string
	MembersToRemove []string
}

// CreateGroup creates a group with the caller as admin and sole
// initial member.
func (r *Router) CreateGroup(ctx context.Context, adminID, name, groupPic string) (models.Group, error) {
	if err := content.ValidateName(name); err != nil {
		return models.Group{}, fmt.Errorf("%w: %s", models.ErrValidation, err)
	}

	picURL, err := r.resolve(groupPic)
	if err != nil {
		return models.Group{}, err
	}

	group := models.Group{
		ID:        uuid.NewString(),
		Name:      content.Sanitize(strings.TrimSpace(name)),
		AdminID:   adminID,
		MemberIDs: []string{adminID},
		GroupPic:  picURL,
	}

	if err := r.store.PutGroup(group); err != nil {
		return models.Group{}, fmt.Errorf("failed to persist group: %w", err)
	}
	return group, nil
}

// UpdateGroup applies an admin-only mutation. Roster changes go
// through the membership diff and are applied atomically; the admin
// is never removed.
func (r *Router) UpdateGroup(ctx context.Context, callerID, groupID string, upd GroupUpdate) (models.Group, error) {
	group, err := r.store.GetGroup(groupID)
	if err != nil {
		return models.Group{}, err
	}
	if group.AdminID != callerID {
		return models.Group{}, fmt.Errorf("%w: only the admin can update the group", models.ErrForbidden)
	}

	changed := false
	if upd.Name != "" && upd.Name != group.Name {
		if err := content.ValidateName(upd.Name); err != nil {
			return models.Group{}, fmt.Errorf("%w: %s", models.ErrValidation, err)
		}
		group.Name = content.Sanitize(strings.TrimSpace(upd.Name))
		changed = true
	}
	if upd.GroupPic != "" {
		picURL, err := r.resolve(upd.GroupPic)
		if err != nil {
			return models.Group{}, err
		}
		group.GroupPic = picURL
		changed = true
	}
	if changed {
		if err := r.store.PutGroup(group); err != nil {
			return models.Group{}, fmt.Errorf("failed to persist group: %w", err)
		}
	}

	desired := lo.Union(
		lo.Without(group.MemberIDs, upd.MembersToRemove...),
		upd.MembersToAdd,
	)
	// Removing the admin is an authorization concern handled here,
	// not in the diff itself.
	if !lo.Contains(desired, group.AdminID) {
		desired = append(desired, group.AdminID)
	}

	toAdd, toRemove := membership.Diff(group.MemberIDs, desired)
	if len(toAdd) == 0 && len(toRemove) == 0 {
		return group, nil
	}

	updated, err := r.store.UpdateGroupMembers(groupID, toAdd, toRemove)
	if err != nil {
		return models.Group{}, fmt.Errorf("failed to update roster: %w", err)
	}
	return updated, nil
}

// SidebarGroups lists the groups the caller currently belongs to.
func (r *Router) SidebarGroups(ctx context.Context, callerID string) ([]models.Group, error) {
	return r.store.ListGroupsForMember(callerID)
}

// SidebarUsers lists all other users as potential direct
// conversation peers, with live presence filled in.
func (r *Router) SidebarUsers(ctx context.Context, callerID string) ([]models.User, error) {
	users, err := r.store.ListUsers()
	if err != nil {
		return nil, err
	}

	online := make(map[string]bool)
	for _, id := range r.registry.OnlineSet() {
		online[id] = true
	}

	result := make([]models.User, 0, len(users))
	for _, u := range users {
		if u.ID == callerID {
			continue
		}
		u.Presence.Online = online[u.ID]
		result = append(result, u)
	}
	return result, nil
}
