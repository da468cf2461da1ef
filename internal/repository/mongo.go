package repository

import (
	"context"
	"errors"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Clark-Hu/hidden-spots/internal/domain"
)

// mongoBackend stores one document per spot and relies on ReplaceOne filtered by
// {_id, version} for the compare-and-swap.
type mongoBackend struct {
	collection *mongo.Collection
}

func (m *mongoBackend) insert(ctx context.Context, doc spotDocument) error {
	_, err := m.collection.InsertOne(ctx, doc)
	return err
}

func (m *mongoBackend) load(ctx context.Context, id string) (spotDocument, error) {
	var doc spotDocument
	if err := m.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return spotDocument{}, ErrNotFound
		}
		return spotDocument{}, err
	}
	return doc, nil
}

func (m *mongoBackend) replace(ctx context.Context, doc spotDocument, expectedVersion int64) error {
	res, err := m.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID, "version": expectedVersion}, doc)
	if err != nil {
		return err
	}
	if res.MatchedCount == 1 {
		return nil
	}

	n, err := m.collection.CountDocuments(ctx, bson.M{"_id": doc.ID}, options.Count().SetLimit(1))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

func (m *mongoBackend) list(ctx context.Context, q listQuery) ([]spotDocument, error) {
	filter := bson.D{}
	if q.Type != nil {
		filter = append(filter, bson.E{Key: "type", Value: *q.Type})
	}
	if q.Query != nil {
		pattern := containsPattern(*q.Query)
		filter = append(filter, bson.E{Key: "$or", Value: bson.A{
			bson.M{"title": pattern},
			bson.M{"description": pattern},
		}})
	}
	if q.Cursor != nil {
		// Two $or clauses cannot share a key in one document.
		filter = append(filter, bson.E{Key: "$and", Value: bson.A{
			bson.M{"$or": bson.A{
				bson.M{"createdAt": bson.M{"$lt": q.Cursor.CreatedAt}},
				bson.M{"createdAt": q.Cursor.CreatedAt, "_id": bson.M{"$lt": q.Cursor.ID}},
			}},
		}})
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return m.find(ctx, filter, opts)
}

func (m *mongoBackend) within(ctx context.Context, box domain.BoundingBox) ([]spotDocument, error) {
	filter := bson.M{
		"location.latitude": bson.M{"$gte": box.MinLat, "$lte": box.MaxLat},
	}
	if !box.AllLongitudes {
		filter["location.longitude"] = bson.M{"$gte": box.MinLng, "$lte": box.MaxLng}
	}
	return m.find(ctx, filter)
}

func (m *mongoBackend) find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]spotDocument, error) {
	cursor, err := m.collection.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	docs := make([]spotDocument, 0)
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func containsPattern(s string) bson.M {
	return bson.M{"$regex": regexp.QuoteMeta(s), "$options": "i"}
}

// EnsureMongoIndexes creates the indexes the list and nearby queries rely on.
func EnsureMongoIndexes(ctx context.Context, coll *mongo.Collection) error {
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "type", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "location.latitude", Value: 1}, {Key: "location.longitude", Value: 1}}},
	})
	return err
}
