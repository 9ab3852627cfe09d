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

const collectionFirms = "firms"

// FirmRepository implements ports.FirmRepository. Every write is a
// conditional update on the document version.
type FirmRepository struct {
	col *mongo.Collection
}

func NewFirmRepository(db *mongo.Database) *FirmRepository {
	return &FirmRepository{col: db.Collection(collectionFirms)}
}

type firmDoc struct {
	ID                   string     `bson:"_id"`
	Name                 string     `bson:"name"`
	OwnerID              string     `bson:"ownerId,omitempty"`
	Status               string     `bson:"status"`
	IsVisibleInClientApp bool       `bson:"isVisibleInClientApp"`
	SubmittedAt          *time.Time `bson:"submittedAt"`
	ApprovedAt           *time.Time `bson:"approvedAt"`
	RejectionReason      string     `bson:"rejectionReason,omitempty"`
	Version              int64      `bson:"version"`
	CreatedAt            time.Time  `bson:"createdAt"`
	UpdatedAt            time.Time  `bson:"updatedAt"`
}

func toFirmDoc(f *domain.FirmState) firmDoc {
	return firmDoc{
		ID:                   f.FirmID,
		Name:                 f.Name,
		OwnerID:              f.OwnerID,
		Status:               string(f.Status),
		IsVisibleInClientApp: f.IsVisibleToClients,
		SubmittedAt:          f.SubmittedAt,
		ApprovedAt:           f.ApprovedAt,
		RejectionReason:      f.RejectionReason,
		Version:              f.Version,
		CreatedAt:            f.CreatedAt,
		UpdatedAt:            f.UpdatedAt,
	}
}

func (d firmDoc) toDomain() *domain.FirmState {
	return &domain.FirmState{
		FirmID:             d.ID,
		Name:               d.Name,
		OwnerID:            d.OwnerID,
		Status:             domain.FirmStatus(d.Status),
		IsVisibleToClients: d.IsVisibleInClientApp,
		SubmittedAt:        utcPtr(d.SubmittedAt),
		ApprovedAt:         utcPtr(d.ApprovedAt),
		RejectionReason:    d.RejectionReason,
		Version:            d.Version,
		CreatedAt:          d.CreatedAt.UTC(),
		UpdatedAt:          d.UpdatedAt.UTC(),
	}
}

// Create inserts a new firm document.
func (r *FirmRepository) Create(ctx context.Context, firm *domain.FirmState) error {
	if _, err := r.col.InsertOne(ctx, toFirmDoc(firm)); err != nil {
		return fmt.Errorf("insert firm: %w", err)
	}
	return nil
}

// FindByID retrieves a firm by id.
func (r *FirmRepository) FindByID(ctx context.Context, firmID string) (*domain.FirmState, error) {
	var doc firmDoc
	err := r.col.FindOne(ctx, bson.M{"_id": firmID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrFirmNotFound
		}
		return nil, fmt.Errorf("find firm: %w", err)
	}
	return doc.toDomain(), nil
}

// CompareAndSwap replaces the lifecycle fields only while the stored version
// equals expectedVersion.
func (r *FirmRepository) CompareAndSwap(ctx context.Context, expectedVersion int64, next *domain.FirmState) error {
	doc := toFirmDoc(next)
	filter := bson.M{"_id": next.FirmID, "version": expectedVersion}
	update := bson.M{"$set": bson.M{
		"status":               doc.Status,
		"isVisibleInClientApp": doc.IsVisibleInClientApp,
		"submittedAt":          doc.SubmittedAt,
		"approvedAt":           doc.ApprovedAt,
		"rejectionReason":      doc.RejectionReason,
		"version":              doc.Version,
		"updatedAt":            doc.UpdatedAt,
	}}

	res, err := r.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("update firm: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	// Nothing matched: either the firm is gone or another writer bumped the version.
	n, err := r.col.CountDocuments(ctx, bson.M{"_id": next.FirmID}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("count firm: %w", err)
	}
	if n == 0 {
		return domain.ErrFirmNotFound
	}
	return domain.ErrVersionConflict
}

// ListByStatus returns firms in status, oldest first.
func (r *FirmRepository) ListByStatus(ctx context.Context, status domain.FirmStatus) ([]*domain.FirmState, error) {
	return r.find(ctx, bson.M{"status": string(status)})
}

// ListVisible returns the firms shown in the client app.
func (r *FirmRepository) ListVisible(ctx context.Context) ([]*domain.FirmState, error) {
	return r.find(ctx, bson.M{"status": string(domain.FirmActive), "isVisibleInClientApp": true})
}

func (r *FirmRepository) find(ctx context.Context, filter bson.M) ([]*domain.FirmState, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find firms: %w", err)
	}
	defer cur.Close(ctx)

	var docs []firmDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode firms: %w", err)
	}
	firms := make([]*domain.FirmState, 0, len(docs))
	for _, d := range docs {
		firms = append(firms, d.toDomain())
	}
	return firms, nil
}

// EnsureIndexes creates necessary indexes on the firms collection.
func (r *FirmRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "ownerId", Value: 1}}},
	}
	if _, err := r.col.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("firm indexes: %w", err)
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
