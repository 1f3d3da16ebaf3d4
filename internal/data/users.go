// Package data provides DB models and stores.
package data

import (
	"context"
	"errors"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Sentinel errors shared by the stores.
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrDuplicateUser = errors.New("user already exists")
)

// UsersStore performs user DB operations.
type UsersStore struct {
	coll *mongo.Collection
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll}
}

// CreateUser inserts a new user document with a pre-hashed password.
func (u *UsersStore) CreateUser(ctx context.Context, name, email, hashedPassword string) (*User, error) {
	now := time.Now()
	user := &User{
		Name:      name,
		Email:     email,
		Password:  hashedPassword,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	result, err := u.coll.InsertOne(ctx, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicateUser
		}
		return nil, err
	}

	user.ID = result.InsertedID.(bson.ObjectID)
	return user, nil
}

// GetUserByEmail finds a user by email.
func (u *UsersStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"email": email}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetUserByID finds a user by its hex id.
func (u *UsersStore) GetUserByID(ctx context.Context, userID string) (*User, error) {
	id, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	var user User
	err = u.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// AllUsersExist reports whether every id in the list resolves to a user.
func (u *UsersStore) AllUsersExist(ctx context.Context, userIDs []string) (bool, error) {
	ids := make([]bson.ObjectID, 0, len(userIDs))
	for _, hex := range userIDs {
		id, err := bson.ObjectIDFromHex(hex)
		if err != nil {
			return false, nil
		}
		ids = append(ids, id)
	}

	count, err := u.coll.CountDocuments(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return false, err
	}
	return count == int64(len(ids)), nil
}

// UserExists checks if a user exists by email.
func (u *UsersStore) UserExists(ctx context.Context, email string) (bool, error) {
	count, err := u.coll.CountDocuments(ctx, bson.M{"email": email})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SetOnline marks the user reachable and records its current connection id.
// last_seen is cleared while a connection is live; it only carries meaning
// for offline users.
func (u *UsersStore) SetOnline(ctx context.Context, userID, connectionID string) error {
	id, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return ErrUserNotFound
	}

	res, err := u.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set":   bson.M{"is_online": true, "connection_id": connectionID, "updated_at": time.Now()},
		"$unset": bson.M{"last_seen": ""},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetOffline marks the user unreachable and records when it was last seen.
func (u *UsersStore) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	id, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return ErrUserNotFound
	}

	res, err := u.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set":   bson.M{"is_online": false, "last_seen": lastSeen, "updated_at": time.Now()},
		"$unset": bson.M{"connection_id": ""},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

// OnlineUsers lists currently online users, excluding the given user.
func (u *UsersStore) OnlineUsers(ctx context.Context, excludeUserID string) ([]*User, error) {
	filter := bson.M{"is_online": true}
	if id, err := bson.ObjectIDFromHex(excludeUserID); err == nil {
		filter["_id"] = bson.M{"$ne": id}
	}

	cursor, err := u.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var users []*User
	if err = cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// SearchUsers finds users whose name or email matches the query
// (case-insensitive substring), excluding the requesting user. The query is
// treated as a literal, never as a pattern.
func (u *UsersStore) SearchUsers(ctx context.Context, query, excludeUserID string, limit int64) ([]*User, error) {
	pattern := regexp.QuoteMeta(query)
	filter := bson.M{
		"$or": bson.A{
			bson.M{"name": bson.M{"$regex": pattern, "$options": "i"}},
			bson.M{"email": bson.M{"$regex": pattern, "$options": "i"}},
		},
	}
	if id, err := bson.ObjectIDFromHex(excludeUserID); err == nil {
		filter["_id"] = bson.M{"$ne": id}
	}

	cursor, err := u.coll.Find(ctx, filter, options.Find().SetLimit(limit))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var users []*User
	if err = cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}
