package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/deliverly/marketplace-api/internal/core/domain"
)

const collectionSubscriptions = "subscriptions"

// SubscriptionRepository implements ports.SubscriptionRepository with one
// document per firm.
type SubscriptionRepository struct {
	col *mongo.Collection
	now func() time.Time
}

func NewSubscriptionRepository(db *mongo.Database) *SubscriptionRepository {
	return &SubscriptionRepository{col: db.Collection(collectionSubscriptions), now: time.Now}
}

type subscriptionDoc struct {
	FirmID       string    `bson:"firmId"`
	Status       string    `bson:"status"`
	TrialStartAt time.Time `bson:"trialStartAt"`
	TrialEndAt   time.Time `bson:"trialEndAt"`
	UpdatedAt    time.Time `bson:"updatedAt"`
}

func (r *SubscriptionRepository) Create(ctx context.Context, sub *domain.SubscriptionState) error {
	doc := subscriptionDoc{
		FirmID:       sub.FirmID,
		Status:       string(sub.Status),
		TrialStartAt: sub.TrialStartAt,
		TrialEndAt:   sub.TrialEndAt,
		UpdatedAt:    sub.UpdatedAt,
	}
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepository) FindByFirmID(ctx context.Context, firmID string) (*domain.SubscriptionState, error) {
	var doc subscriptionDoc
	if err := r.col.FindOne(ctx, bson.M{"firmId": firmID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	return &domain.SubscriptionState{
		FirmID:       doc.FirmID,
		Status:       domain.SubscriptionStatus(doc.Status),
		TrialStartAt: doc.TrialStartAt.UTC(),
		TrialEndAt:   doc.TrialEndAt.UTC(),
		UpdatedAt:    doc.UpdatedAt.UTC(),
	}, nil
}

// MarkTrialExpired flips the status only while it is still TRIAL_ACTIVE, so
// concurrent callers perform the write at most once.
func (r *SubscriptionRepository) MarkTrialExpired(ctx context.Context, firmID string) (bool, error) {
	filter := bson.M{"firmId": firmID, "status": string(domain.SubscriptionTrialActive)}
	update := bson.M{"$set": bson.M{
		"status":    string(domain.SubscriptionTrialExpired),
		"updatedAt": r.now().UTC(),
	}}

	res, err := r.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("expire trial: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

func (r *SubscriptionRepository) SetStatus(ctx context.Context, firmID string, status domain.SubscriptionStatus) error {
	update := bson.M{"$set": bson.M{
		"status":    string(status),
		"updatedAt": r.now().UTC(),
	}}
	res, err := r.col.UpdateOne(ctx, bson.M{"firmId": firmID}, update)
	if err != nil {
		return fmt.Errorf("set subscription status: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

// EnsureIndexes makes firmId unique so a firm never holds two subscriptions.
func (r *SubscriptionRepository) EnsureIndexes(ctx context.Context) error {
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "firmId", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := r.col.Indexes().CreateOne(ctx, index); err != nil {
		return fmt.Errorf("subscription indexes: %w", err)
	}
	return nil
}
