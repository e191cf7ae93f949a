package repository

import (
	"context"
	"fmt"
	"time"

	"tap_tycoon_backend/internal/model"
	"tap_tycoon_backend/pkg/logger"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	defaultMongoCollection = "users"
	mongoDisconnectTimeout = 10 * time.Second
)

type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Name       string `mapstructure:"name"`
	Collection string `mapstructure:"collection"`
}

type Mongo struct {
	client *mongo.Client
	users  *mongo.Collection
}

type userDocument struct {
	TelegramID           int64      `bson:"telegram_id"`
	Username             string     `bson:"username"`
	ReferrerID           *int64     `bson:"referrer_id"`
	PendingReferrerID    *int64     `bson:"pending_referrer_id"`
	ReferredIDs          []int64    `bson:"referred_ids"`
	UnclaimedRewardUnits int        `bson:"unclaimed_reward_units"`
	ClaimedRewardUnits   int        `bson:"claimed_reward_units"`
	LastNotifiedAt       *time.Time `bson:"last_notified_at"`
	RegistrationDate     time.Time  `bson:"registration_date"`
}

func (d *userDocument) toModel() *model.User {
	referred := make([]int64, len(d.ReferredIDs))
	copy(referred, d.ReferredIDs)

	return &model.User{
		TelegramID:           d.TelegramID,
		Username:             d.Username,
		ReferrerID:           d.ReferrerID,
		PendingReferrerID:    d.PendingReferrerID,
		ReferredIDs:          referred,
		UnclaimedRewardUnits: d.UnclaimedRewardUnits,
		ClaimedRewardUnits:   d.ClaimedRewardUnits,
		LastNotifiedAt:       d.LastNotifiedAt,
		RegistrationDate:     d.RegistrationDate,
	}
}

func NewMongo(ctx context.Context, cfg MongoConfig) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err = client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = defaultMongoCollection
	}
	users := client.Database(cfg.Name).Collection(collection)

	_, err = users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "telegram_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram_id index: %w", err)
	}

	logger.Logger().Info("Connected to mongo successfully", zap.String("database", cfg.Name))

	return &Mongo{client: client, users: users}, nil
}

func (r *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	defer cancel()
	return r.client.Disconnect(ctx)
}

func (r *Mongo) GetUser(ctx context.Context, telegramID int64) (*model.User, error) {
	var doc userDocument
	err := r.users.FindOne(ctx, bson.D{{Key: "telegram_id", Value: telegramID}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return doc.toModel(), nil
}

func (r *Mongo) UpsertUser(ctx context.Context, user *model.User) (*model.User, bool, error) {
	registered := user.RegistrationDate
	if registered.IsZero() {
		registered = nowUTC()
	}

	doc := userDocument{
		TelegramID:        user.TelegramID,
		Username:          user.Username,
		PendingReferrerID: user.PendingReferrerID,
		ReferredIDs:       []int64{},
		RegistrationDate:  registered,
	}

	result, err := r.users.UpdateOne(ctx,
		bson.D{{Key: "telegram_id", Value: user.TelegramID}},
		bson.D{{Key: "$setOnInsert", Value: doc}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert user: %w", err)
	}

	stored, err := r.GetUser(ctx, user.TelegramID)
	if err != nil {
		return nil, false, err
	}

	return stored, result.UpsertedCount == 1, nil
}

func (r *Mongo) UpdateUser(ctx context.Context, telegramID int64, patch model.UserPatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}

	filter := bson.D{{Key: "telegram_id", Value: telegramID}}
	set := bson.D{}

	if patch.ReferrerID != nil {
		if *patch.ReferrerID == telegramID {
			return errors.Wrap(model.ErrInvalidPatch, "user cannot refer themselves")
		}
		// first assignment wins; re-sending the same referrer is a no-op
		filter = append(filter, bson.E{Key: "referrer_id", Value: bson.D{{Key: "$in", Value: bson.A{nil, *patch.ReferrerID}}}})
		set = append(set, bson.E{Key: "referrer_id", Value: *patch.ReferrerID})
	}
	if patch.ReferredIDs != nil {
		set = append(set, bson.E{Key: "referred_ids", Value: patch.ReferredIDs})
	}
	if patch.UnclaimedRewardUnits != nil {
		set = append(set, bson.E{Key: "unclaimed_reward_units", Value: *patch.UnclaimedRewardUnits})
	}
	if patch.ClaimedRewardUnits != nil {
		set = append(set, bson.E{Key: "claimed_reward_units", Value: *patch.ClaimedRewardUnits})
	}
	if patch.LastNotifiedAt != nil {
		set = append(set, bson.E{Key: "last_notified_at", Value: patch.LastNotifiedAt.UTC()})
	}

	if len(set) == 0 {
		_, err := r.GetUser(ctx, telegramID)
		return err
	}

	result, err := r.users.UpdateOne(ctx, filter, bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	if result.MatchedCount == 0 {
		if _, err = r.GetUser(ctx, telegramID); err != nil {
			return err
		}
		return errors.Wrap(model.ErrInvalidPatch, "referrer is already set")
	}

	return nil
}

func (r *Mongo) ListUsers(ctx context.Context) ([]*model.User, error) {
	cur, err := r.users.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "telegram_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer cur.Close(ctx)

	var docs []userDocument
	if err = cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}

	users := make([]*model.User, len(docs))
	for i := range docs {
		users[i] = docs[i].toModel()
	}

	return users, nil
}

// LinkReferral sets the referrer and credits it inside one transaction, so
// the two documents change together or not at all. Transactions need a
// replica set or a sharded cluster.
func (r *Mongo) LinkReferral(ctx context.Context, newUserID, referrerID int64) (model.LinkOutcome, error) {
	if newUserID == referrerID {
		return model.OutcomeSelfReferral, nil
	}

	session, err := r.client.StartSession()
	if err != nil {
		return 0, fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	result, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return r.linkReferral(sc, newUserID, referrerID)
	})
	if err != nil {
		if errors.Is(err, errReferrerVanished) {
			return model.OutcomeReferrerNotFound, nil
		}
		return 0, fmt.Errorf("failed to link referral: %w", err)
	}

	return result.(model.LinkOutcome), nil
}

var errReferrerVanished = errors.New("referrer removed during link")

func (r *Mongo) linkReferral(ctx mongo.SessionContext, newUserID, referrerID int64) (model.LinkOutcome, error) {
	referred, err := r.GetUser(ctx, newUserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.OutcomeUserNotFound, nil
		}
		return 0, err
	}
	if referred.HasReferrer() {
		return r.clearPendingReferrer(ctx, referred, model.OutcomeAlreadyReferred)
	}

	if _, err = r.GetUser(ctx, referrerID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return r.clearPendingReferrer(ctx, referred, model.OutcomeReferrerNotFound)
		}
		return 0, err
	}

	result, err := r.users.UpdateOne(ctx,
		bson.D{
			{Key: "telegram_id", Value: newUserID},
			{Key: "referrer_id", Value: nil},
		},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "referrer_id", Value: referrerID},
			{Key: "pending_referrer_id", Value: nil},
		}}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to set referrer: %w", err)
	}
	if result.ModifiedCount == 0 {
		return model.OutcomeAlreadyReferred, nil
	}

	credit, err := r.users.UpdateOne(ctx,
		bson.D{{Key: "telegram_id", Value: referrerID}},
		bson.D{
			{Key: "$addToSet", Value: bson.D{{Key: "referred_ids", Value: newUserID}}},
			{Key: "$inc", Value: bson.D{{Key: "unclaimed_reward_units", Value: 1}}},
		},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to credit referrer: %w", err)
	}
	if credit.MatchedCount == 0 {
		return 0, errReferrerVanished
	}

	return model.OutcomeLinked, nil
}

func (r *Mongo) clearPendingReferrer(ctx context.Context, user *model.User, outcome model.LinkOutcome) (model.LinkOutcome, error) {
	if user.PendingReferrerID == nil {
		return outcome, nil
	}

	_, err := r.users.UpdateOne(ctx,
		bson.D{{Key: "telegram_id", Value: user.TelegramID}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "pending_referrer_id", Value: nil}}}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clear pending referrer: %w", err)
	}

	return outcome, nil
}

func (r *Mongo) ClaimRewards(ctx context.Context, telegramID int64) (int, error) {
	filter := bson.D{
		{Key: "telegram_id", Value: telegramID},
		{Key: "unclaimed_reward_units", Value: bson.D{{Key: "$gt", Value: 0}}},
	}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "claimed_reward_units", Value: bson.D{{Key: "$add", Value: bson.A{"$claimed_reward_units", "$unclaimed_reward_units"}}}},
			{Key: "unclaimed_reward_units", Value: 0},
		}}},
	}

	var before userDocument
	err := r.users.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&before)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to claim rewards: %w", err)
	}

	return before.UnclaimedRewardUnits, nil
}
