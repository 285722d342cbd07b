package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/comigor/chatbot-go/internal/logger"
)

const (
	conversationsCollection = "bot_conversations"
	botsCollection          = "bot_info"
)

// MongoStore implements Store on MongoDB. A conversation is one document with
// an embedded messages array; all mutations are single-document updates.
type MongoStore struct {
	client        *mongo.Client
	conversations *mongo.Collection
	bots          *mongo.Collection
	logger        *slog.Logger
}

// botDocument adds the Mongo primary key to a Bot.
type botDocument struct {
	ID  primitive.ObjectID `bson:"_id,omitempty"`
	Bot `bson:",inline"`
}

func (d botDocument) toBot() *Bot {
	bot := d.Bot
	bot.ID = d.ID.Hex()
	return &bot
}

// NewMongoStore connects to uri, verifies the connection and makes sure the
// chat_id unique index exists.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	log := logger.For(nil, "store")

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:        client,
		conversations: db.Collection(conversationsCollection),
		bots:          db.Collection(botsCollection),
		logger:        log,
	}

	_, err = s.conversations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "chat_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "bot_id", Value: 1}}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	log.Info("mongodb store initialized", "database", database)
	return s, nil
}

func (s *MongoStore) GetConversation(ctx context.Context, chatID string) (*Conversation, error) {
	return s.findConversation(ctx, bson.M{"chat_id": chatID})
}

func (s *MongoStore) GetConversationForBot(ctx context.Context, chatID, botID string) (*Conversation, error) {
	return s.findConversation(ctx, bson.M{"chat_id": chatID, "bot_id": botID})
}

func (s *MongoStore) findConversation(ctx context.Context, filter bson.M) (*Conversation, error) {
	var conv Conversation
	err := s.conversations.FindOne(ctx, filter).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding conversation: %w", err)
	}
	if conv.Messages == nil {
		conv.Messages = []Message{}
	}
	return &conv, nil
}

// normalizeMessages replaces nil slices so that they are stored as arrays
// rather than null; $push fails on null fields.
func normalizeMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		if m.Versions == nil {
			m.Versions = []string{}
		}
		out[i] = m
	}
	return out
}

func (s *MongoStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	doc := *conv
	doc.Messages = normalizeMessages(conv.Messages)

	_, err := s.conversations.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}
	s.logger.Debug("conversation created", "chat_id", conv.ChatID, "bot_id", conv.BotID)
	return nil
}

func (s *MongoStore) PushMessages(ctx context.Context, chatID string, msgs []Message) error {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.MessageID
	}

	res, err := s.conversations.UpdateOne(ctx,
		bson.M{"chat_id": chatID, "messages.message_id": bson.M{"$nin": ids}},
		bson.M{
			"$push": bson.M{"messages": bson.M{"$each": normalizeMessages(msgs)}},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("pushing messages: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.missOrConflict(ctx, chatID)
	}
	s.logger.Debug("messages appended", "chat_id", chatID, "count", len(msgs))
	return nil
}

// missOrConflict tells apart the two reasons a guarded push matched nothing.
func (s *MongoStore) missOrConflict(ctx context.Context, chatID string) error {
	n, err := s.conversations.CountDocuments(ctx, bson.M{"chat_id": chatID})
	if err != nil {
		return fmt.Errorf("counting conversation: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

func (s *MongoStore) SetMessageContent(ctx context.Context, chatID, messageID, content string, at time.Time) error {
	res, err := s.conversations.UpdateOne(ctx,
		bson.M{"chat_id": chatID, "messages.message_id": messageID},
		bson.M{
			"$set":  bson.M{"messages.$.message": content, "messages.$.updated_at": at},
			"$push": bson.M{"messages.$.versions": content},
		},
	)
	if err != nil {
		return fmt.Errorf("updating message: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) MarkMessageDeleted(ctx context.Context, chatID, messageID string, at time.Time) error {
	res, err := s.conversations.UpdateOne(ctx,
		bson.M{
			"chat_id":  chatID,
			"messages": bson.M{"$elemMatch": bson.M{"message_id": messageID, "is_deleted": false}},
		},
		bson.M{"$set": bson.M{"messages.$.is_deleted": true, "messages.$.updated_at": at}},
	)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	// Either already deleted or missing.
	n, err := s.conversations.CountDocuments(ctx, bson.M{"chat_id": chatID, "messages.message_id": messageID})
	if err != nil {
		return fmt.Errorf("counting message: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) CreateBot(ctx context.Context, bot *Bot) error {
	doc := botDocument{Bot: *bot}
	if doc.StarterMessage.ActionItems == nil {
		doc.StarterMessage.ActionItems = []string{}
	}
	res, err := s.bots.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("inserting bot: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	bot.ID = oid.Hex()
	return nil
}

func botObjectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return oid, nil
}

func (s *MongoStore) GetBot(ctx context.Context, id string) (*Bot, error) {
	oid, err := botObjectID(id)
	if err != nil {
		return nil, err
	}
	var doc botDocument
	err = s.bots.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding bot: %w", err)
	}
	return doc.toBot(), nil
}

func (s *MongoStore) ListBots(ctx context.Context) ([]*Bot, error) {
	cursor, err := s.bots.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("listing bots: %w", err)
	}
	var docs []botDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding bots: %w", err)
	}
	bots := make([]*Bot, len(docs))
	for i, d := range docs {
		bots[i] = d.toBot()
	}
	return bots, nil
}

func (s *MongoStore) UpdateBot(ctx context.Context, id string, upd BotUpdate, at time.Time) (*Bot, error) {
	oid, err := botObjectID(id)
	if err != nil {
		return nil, err
	}

	set := bson.M{"updated_at": at}
	if upd.Headline != nil {
		set["headline"] = *upd.Headline
	}
	if upd.StarterMessage != nil {
		set["starter_message"] = *upd.StarterMessage
	}
	if upd.SecondaryDescription != nil {
		set["secondary_description"] = *upd.SecondaryDescription
	}
	if upd.Logo != nil {
		set["logo"] = *upd.Logo
	}

	var doc botDocument
	err = s.bots.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("updating bot: %w", err)
	}
	return doc.toBot(), nil
}

func (s *MongoStore) DeleteBot(ctx context.Context, id string) error {
	oid, err := botObjectID(id)
	if err != nil {
		return err
	}
	res, err := s.bots.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("deleting bot: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
