package widgetsrepo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/faciam-dev/widgetdeck/pkg/widgets"
)

// MongoRepo implements Repo on a MongoDB collection. Position changes run in
// a multi-document transaction when Transactions is set, which requires a
// replica set.
type MongoRepo struct {
	Client       *mongo.Client
	Database     string
	Collection   string
	Transactions bool
}

var _ Repo = (*MongoRepo)(nil)

// NewMongoRepo returns a MongoRepo storing records in <prefix>widget_records.
func NewMongoRepo(cli *mongo.Client, database, prefix string) *MongoRepo {
	return &MongoRepo{Client: cli, Database: database, Collection: prefix + "widget_records"}
}

func (r *MongoRepo) coll() *mongo.Collection {
	return r.Client.Database(r.Database).Collection(r.Collection)
}

// EnsureIndexes creates the (context, position) index.
func (r *MongoRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "context", Value: 1}, {Key: "position", Value: 1}},
	})
	return err
}

func (r *MongoRepo) check() error {
	if r == nil || r.Client == nil {
		return errNotInitialized
	}
	return nil
}

// atomically runs fn in a transaction when enabled.
func (r *MongoRepo) atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	if !r.Transactions {
		return fn(ctx)
	}
	sess, err := r.Client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
}

func (r *MongoRepo) find(ctx context.Context, filter bson.M) (*Row, error) {
	var row Row
	if err := r.coll().FindOne(ctx, filter).Decode(&row); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *MongoRepo) owned(ctx context.Context, id, owner string) (*Row, error) {
	row, err := r.find(ctx, bson.M{"_id": id, "context": owner})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%w: widget %q", ErrNotFound, id)
	}
	return row, nil
}

func (r *MongoRepo) next(ctx context.Context, owner string) (int, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "position", Value: -1}})
	var row Row
	err := r.coll().FindOne(ctx, bson.M{"context": owner}, opts).Decode(&row)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Position + 1, nil
}

func (r *MongoRepo) shift(ctx context.Context, owner string, from int, except string) error {
	filter := bson.M{"context": owner, "position": bson.M{"$gte": from}}
	if except != "" {
		filter["_id"] = bson.M{"$ne": except}
	}
	_, err := r.coll().UpdateMany(ctx, filter, bson.M{"$inc": bson.M{"position": 1}})
	return err
}

// UserRecords returns the records of owner ordered by position.
func (r *MongoRepo) UserRecords(ctx context.Context, owner string) ([]widgets.Record, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "position", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.coll().Find(ctx, bson.M{"context": owner}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var recs []widgets.Record
	for cur.Next(ctx) {
		var row Row
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		recs = append(recs, row.record())
	}
	return recs, cur.Err()
}

// Record returns the record with id or nil.
func (r *MongoRepo) Record(ctx context.Context, id string) (*widgets.Record, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	row, err := r.find(ctx, bson.M{"_id": id})
	if err != nil || row == nil {
		return nil, err
	}
	rec := row.record()
	return &rec, nil
}

// InsertRecord creates a record before beforeID or at the end.
func (r *MongoRepo) InsertRecord(ctx context.Context, typeID, owner, beforeID string) (widgets.Record, error) {
	if err := r.check(); err != nil {
		return widgets.Record{}, err
	}
	now := time.Now().UTC()
	row := Row{ID: NewID(), TypeID: typeID, Context: owner, CreatedAt: now, UpdatedAt: now}
	err := r.atomically(ctx, func(ctx context.Context) error {
		if beforeID != "" {
			before, err := r.owned(ctx, beforeID, owner)
			if err != nil {
				return err
			}
			row.Position = before.Position
			if err := r.shift(ctx, owner, before.Position, ""); err != nil {
				return err
			}
		} else {
			pos, err := r.next(ctx, owner)
			if err != nil {
				return err
			}
			row.Position = pos
		}
		_, err := r.coll().InsertOne(ctx, row)
		return err
	})
	if err != nil {
		return widgets.Record{}, err
	}
	return row.record(), nil
}

// RemoveRecord deletes a record.
func (r *MongoRepo) RemoveRecord(ctx context.Context, id string) error {
	if err := r.check(); err != nil {
		return err
	}
	res, err := r.coll().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: widget %q", ErrNotFound, id)
	}
	return nil
}

// MoveBefore places id before relatedID, or at the end when relatedID is empty.
func (r *MongoRepo) MoveBefore(ctx context.Context, id, relatedID string) error {
	if err := r.check(); err != nil {
		return err
	}
	if id == relatedID {
		return nil
	}
	return r.atomically(ctx, func(ctx context.Context) error {
		row, err := r.find(ctx, bson.M{"_id": id})
		if err != nil {
			return err
		}
		if row == nil {
			return fmt.Errorf("%w: widget %q", ErrNotFound, id)
		}
		var pos int
		if relatedID == "" {
			if pos, err = r.next(ctx, row.Context); err != nil {
				return err
			}
		} else {
			related, err := r.owned(ctx, relatedID, row.Context)
			if err != nil {
				return err
			}
			pos = related.Position
			if err := r.shift(ctx, row.Context, pos, id); err != nil {
				return err
			}
		}
		_, err = r.coll().UpdateByID(ctx, id, bson.M{"$set": bson.M{"position": pos, "updated_at": time.Now().UTC()}})
		return err
	})
}

// SaveState replaces the serialized state of a record.
func (r *MongoRepo) SaveState(ctx context.Context, id, state string) error {
	if err := r.check(); err != nil {
		return err
	}
	res, err := r.coll().UpdateByID(ctx, id, bson.M{"$set": bson.M{"state": state, "updated_at": time.Now().UTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: widget %q", ErrNotFound, id)
	}
	return nil
}

// Contexts lists every context owning records.
func (r *MongoRepo) Contexts(ctx context.Context) ([]string, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	vals, err := r.coll().Distinct(ctx, "context", bson.M{})
	if err != nil {
		return nil, err
	}
	res := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok {
			res = append(res, s)
		}
	}
	sort.Strings(res)
	return res, nil
}

// Compact renumbers owner's positions to 0..n-1.
func (r *MongoRepo) Compact(ctx context.Context, owner string) error {
	recs, err := r.UserRecords(ctx, owner)
	if err != nil {
		return err
	}
	return r.atomically(ctx, func(ctx context.Context) error {
		for i, rec := range recs {
			if rec.Position == i {
				continue
			}
			if _, err := r.coll().UpdateByID(ctx, rec.ID, bson.M{"$set": bson.M{"position": i}}); err != nil {
				return err
			}
		}
		return nil
	})
}

// CountByType returns record counts grouped by widget type.
func (r *MongoRepo) CountByType(ctx context.Context) (map[string]int, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$type_id"}, {Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}}}}},
	}
	cur, err := r.coll().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	res := map[string]int{}
	for cur.Next(ctx) {
		var g struct {
			ID string `bson:"_id"`
			N  int    `bson:"n"`
		}
		if err := cur.Decode(&g); err != nil {
			return nil, err
		}
		res[g.ID] = g.N
	}
	return res, cur.Err()
}
