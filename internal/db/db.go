// Package db manages MongoDB connections and collections.
package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Client wraps mongo.Client and exposes the application's collections.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to MongoDB, verifies the connection and returns a Client.
func New(ctx context.Context, mongoURI string) (*Client, error) {
	opts := options.Client().
		ApplyURI(mongoURI).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Client{
		client: client,
		db:     client.Database("restochat"),
	}, nil
}

// UsersCollection returns the users collection.
func (c *Client) UsersCollection() *mongo.Collection {
	return c.db.Collection("users")
}

// ChatsCollection returns the chats collection.
func (c *Client) ChatsCollection() *mongo.Collection {
	return c.db.Collection("chats")
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// CreateIndexes creates the indexes the stores query against.
func (c *Client) CreateIndexes(ctx context.Context) error {
	// Unique email lookup for registration/login.
	usersIndexModel := mongo.IndexModel{
		Keys:    map[string]int{"email": 1},
		Options: options.Index().SetUnique(true),
	}

	_, err := c.UsersCollection().Indexes().CreateOne(ctx, usersIndexModel)
	if err != nil {
		return fmt.Errorf("failed to create users index: %w", err)
	}

	chatIndexes := []mongo.IndexModel{
		{
			// Membership lookups: a user's chat list, contact set, room joins.
			Keys: map[string]int{"participants.user_id": 1},
		},
		{
			// Direct-pair dedupe scans filter on kind before participants.
			Keys: map[string]int{"kind": 1, "participants.user_id": 1},
		},
		{
			// Chat list ordering by most recent activity.
			Keys: map[string]int{"last_message.timestamp": -1},
		},
	}

	_, err = c.ChatsCollection().Indexes().CreateMany(ctx, chatIndexes)
	if err != nil {
		return fmt.Errorf("failed to create chat indexes: %w", err)
	}

	return nil
}
