package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"palaver/internal/auth"
	"palaver/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers    = []byte("users")
	bucketGroups   = []byte("groups")
	bucketMessages = []byte("messages")
	bucketTokens   = []byte("tokens")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketUsers, bucketGroups, bucketMessages, bucketTokens} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// directKey builds the shared bucket name for a direct conversation.
// Both participants must map to the same bucket, so the pair is
// sorted before joining.
func directKey(a, b string) []byte {
	ids := []string{a, b}
	sort.Strings(ids)
	return []byte("dm:" + strings.Join(ids, ":"))
}

// messageKey returns the conversation bucket a message belongs to.
func messageKey(m models.Message) []byte {
	if m.GroupID != "" {
		return []byte("grp:" + m.GroupID)
	}
	return directKey(m.SenderID, m.ReceiverID)
}

// historyKey returns the conversation bucket for a history fetch by
// callerID. For a direct conversation the conversation id is the
// peer, so the caller completes the pair.
func historyKey(conv models.Conversation, callerID string) []byte {
	if conv.IsGroup() {
		return []byte("grp:" + conv.ID)
	}
	return directKey(callerID, conv.ID)
}

// CreateMessage persists a message, assigning its per-conversation
// sequence number inside the transaction. The returned message is
// the canonical persisted record.
func (s *BboltStorage) CreateMessage(message models.Message) (models.Message, error) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		mainBucket := tx.Bucket(bucketMessages)
		convBucket, err := mainBucket.CreateBucketIfNotExists(messageKey(message))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}

		seq, err := convBucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to assign sequence: %w", err)
		}
		message.Seq = int64(seq)

		dbMessage := DBMessage{
			ID:         message.ID,
			Seq:        message.Seq,
			SenderID:   message.SenderID,
			ReceiverID: message.ReceiverID,
			GroupID:    message.GroupID,
			Text:       message.Text,
			HTML:       message.HTML,
			Image:      message.Image,
			CreatedAt:  message.CreatedAt,
		}

		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		return convBucket.Put(dbMessage.Key(), data)
	})
	if err != nil {
		return models.Message{}, err
	}
	return message, nil
}

// ListMessages returns the full conversation history visible to
// callerID, ascending by sequence (bbolt cursors iterate big-endian
// keys in order).
func (s *BboltStorage) ListMessages(conv models.Conversation, callerID string) ([]models.Message, error) {
	messages := []models.Message{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		convBucket := tx.Bucket(bucketMessages).Bucket(historyKey(conv, callerID))
		if convBucket == nil {
			return nil // No messages yet for this conversation
		}

		return convBucket.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, models.Message{
				ID:         dbMsg.ID,
				Seq:        dbMsg.Seq,
				SenderID:   dbMsg.SenderID,
				ReceiverID: dbMsg.ReceiverID,
				GroupID:    dbMsg.GroupID,
				Text:       dbMsg.Text,
				HTML:       dbMsg.HTML,
				Image:      dbMsg.Image,
				CreatedAt:  dbMsg.CreatedAt,
			})
			return nil
		})
	})
	return messages, err
}

// PutGroup saves a group record.
func (s *BboltStorage) PutGroup(group models.Group) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putGroup(tx, group)
	})
}

func putGroup(tx *bbolt.Tx, group models.Group) error {
	dbGroup := DBGroup{
		ID:        group.ID,
		Name:      group.Name,
		AdminID:   group.AdminID,
		MemberIDs: group.MemberIDs,
		GroupPic:  group.GroupPic,
	}
	data, err := dbGroup.MarshalBinary()
	if err != nil {
		return err
	}
	return tx.Bucket(bucketGroups).Put(dbGroup.Key(), data)
}

func getGroup(tx *bbolt.Tx, groupID string) (models.Group, error) {
	data := tx.Bucket(bucketGroups).Get([]byte(groupID))
	if data == nil {
		return models.Group{}, fmt.Errorf("group %s: %w", groupID, models.ErrNotFound)
	}
	var dbGroup DBGroup
	if err := dbGroup.UnmarshalBinary(data); err != nil {
		return models.Group{}, err
	}
	return models.Group{
		ID:        dbGroup.ID,
		Name:      dbGroup.Name,
		AdminID:   dbGroup.AdminID,
		MemberIDs: dbGroup.MemberIDs,
		GroupPic:  dbGroup.GroupPic,
	}, nil
}

// GetGroup loads a group by id.
func (s *BboltStorage) GetGroup(groupID string) (models.Group, error) {
	var group models.Group
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		group, err = getGroup(tx, groupID)
		return err
	})
	return group, err
}

// UpdateGroupMembers applies a roster diff in a single transaction:
// readers never observe only the additions or only the removals.
func (s *BboltStorage) UpdateGroupMembers(groupID string, toAdd, toRemove []string) (models.Group, error) {
	var updated models.Group
	err := s.db.Update(func(tx *bbolt.Tx) error {
		group, err := getGroup(tx, groupID)
		if err != nil {
			return err
		}

		removals := make(map[string]bool, len(toRemove))
		for _, id := range toRemove {
			removals[id] = true
		}

		members := make([]string, 0, len(group.MemberIDs)+len(toAdd))
		present := make(map[string]bool, len(group.MemberIDs))
		for _, id := range group.MemberIDs {
			if removals[id] {
				continue
			}
			members = append(members, id)
			present[id] = true
		}
		for _, id := range toAdd {
			if !present[id] && !removals[id] {
				members = append(members, id)
				present[id] = true
			}
		}

		group.MemberIDs = members
		updated = group
		return putGroup(tx, group)
	})
	return updated, err
}

// ListGroupsForMember returns all groups whose current roster
// contains userID.
func (s *BboltStorage) ListGroupsForMember(userID string) ([]models.Group, error) {
	groups := []models.Group{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketGroups).ForEach(func(k, v []byte) error {
			var dbGroup DBGroup
			if err := dbGroup.UnmarshalBinary(v); err != nil {
				return err
			}
			group := models.Group{
				ID:        dbGroup.ID,
				Name:      dbGroup.Name,
				AdminID:   dbGroup.AdminID,
				MemberIDs: dbGroup.MemberIDs,
				GroupPic:  dbGroup.GroupPic,
			}
			if group.IsMember(userID) {
				groups = append(groups, group)
			}
			return nil
		})
	})
	return groups, err
}

// GetUser loads the public user record for id.
func (s *BboltStorage) GetUser(userID string) (models.User, error) {
	var user models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(userID))
		if data == nil {
			return fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
		}
		var dbUser DBUser
		if err := dbUser.UnmarshalBinary(data); err != nil {
			return err
		}
		user = userFromDB(dbUser)
		return nil
	})
	return user, err
}

// ListUsers returns all public user records.
func (s *BboltStorage) ListUsers() ([]models.User, error) {
	users := []models.User{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			users = append(users, userFromDB(dbUser))
			return nil
		})
	})
	return users, err
}

func userFromDB(dbUser DBUser) models.User {
	return models.User{
		ID:          dbUser.ID,
		UserName:    dbUser.UserName,
		DisplayName: dbUser.DisplayName,
		AvatarURL:   dbUser.AvatarURL,
		Presence: models.Presence{
			LastSeen: dbUser.LastSeen,
		},
	}
}

// UpsertCredentials stores new or updated user credentials.
func (s *BboltStorage) UpsertCredentials(credentials auth.UserCredentials) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbUser := &DBUser{
			ID:           credentials.ID,
			UserName:     credentials.UserName,
			DisplayName:  credentials.DisplayName,
			AvatarURL:    credentials.AvatarURL,
			LastSeen:     credentials.Presence.LastSeen,
			PasswordHash: credentials.PasswordHash,
		}

		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketUsers).Put(dbUser.Key(), data)
	})
}

// ListCredentials returns all user credentials stored in the database.
func (s *BboltStorage) ListCredentials() ([]auth.UserCredentials, error) {
	var credentials []auth.UserCredentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			credentials = append(credentials, auth.UserCredentials{
				User:         userFromDB(dbUser),
				PasswordHash: dbUser.PasswordHash,
			})
			return nil
		})
	})
	return credentials, err
}

// UpsertToken stores a live token hash for a user.
func (s *BboltStorage) UpsertToken(tokenHash, userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbToken := &DBToken{
			UserID: userID,
			Token:  tokenHash,
		}
		data, err := dbToken.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTokens).Put(dbToken.Key(), data)
	})
}

// DeleteToken removes a specific token by its hash.
func (s *BboltStorage) DeleteToken(tokenHash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTokens).Delete([]byte(tokenHash))
	})
}

// ListTokens returns the tokenHash -> userID mapping.
func (s *BboltStorage) ListTokens() (map[string]string, error) {
	tokens := make(map[string]string)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTokens).ForEach(func(k, v []byte) error {
			var dbToken DBToken
			if err := dbToken.UnmarshalBinary(v); err != nil {
				return err
			}
			tokens[dbToken.Token] = dbToken.UserID
			return nil
		})
	})
	return tokens, err
}
