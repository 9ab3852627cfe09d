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

const collectionBranches = "branches"

// BranchRepository implements ports.BranchRepository. The branch id is the
// document _id, so a branch can only ever be bound to one firm.
type BranchRepository struct {
	col *mongo.Collection
	now func() time.Time
}

func NewBranchRepository(db *mongo.Database) *BranchRepository {
	return &BranchRepository{col: db.Collection(collectionBranches), now: time.Now}
}

type branchDoc struct {
	BranchID  string    `bson:"_id"`
	FirmID    string    `bson:"firmId"`
	CreatedAt time.Time `bson:"createdAt"`
}

func (r *BranchRepository) Claim(ctx context.Context, firmID, branchID string) error {
	doc := branchDoc{BranchID: branchID, FirmID: firmID, CreatedAt: r.now().UTC()}
	_, err := r.col.InsertOne(ctx, doc)
	if err == nil {
		return nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("insert branch: %w", err)
	}

	owner, err := r.FirmOf(ctx, branchID)
	if err != nil {
		return err
	}
	if owner != firmID {
		return domain.ErrBranchTaken
	}
	return nil
}

func (r *BranchRepository) FirmOf(ctx context.Context, branchID string) (string, error) {
	var doc branchDoc
	if err := r.col.FindOne(ctx, bson.M{"_id": branchID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", domain.ErrBranchNotFound
		}
		return "", fmt.Errorf("find branch: %w", err)
	}
	return doc.FirmID, nil
}

// EnsureIndexes indexes branches by firm for per-firm listings.
func (r *BranchRepository) EnsureIndexes(ctx context.Context) error {
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "firmId", Value: 1}},
		Options: options.Index().SetName("firmId_1"),
	}
	if _, err := r.col.Indexes().CreateOne(ctx, index); err != nil {
		return fmt.Errorf("branch indexes: %w", err)
	}
	return nil
}
