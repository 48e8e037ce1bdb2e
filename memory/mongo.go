package memory

import (
	"context"

	"github.com/iceos/core/ice"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// MongoEpisodic persists episodic entries per run in a Mongo collection,
// grounded on the teacher's features/session/mongo durable-session store.
type MongoEpisodic struct {
	Collection *mongo.Collection
	RunID      ice.RunID
}

type episodicDoc struct {
	RunID string         `bson:"run_id"`
	Entry map[string]any `bson:"entry"`
	Seq   int64          `bson:"seq"`
}

func (e *MongoEpisodic) Append(ctx context.Context, entry map[string]any) error {
	count, err := e.Collection.CountDocuments(ctx, bson.M{"run_id": string(e.RunID)})
	if err != nil {
		return ice.Wrap(ice.KindInternal, err, "mongo episodic: count")
	}
	_, err = e.Collection.InsertOne(ctx, episodicDoc{RunID: string(e.RunID), Entry: entry, Seq: count})
	if err != nil {
		return ice.Wrap(ice.KindInternal, err, "mongo episodic: insert")
	}
	return nil
}

// Recent returns the episodic entries for this run in insertion order,
// trimmed in-process to the last n (the collection per run is small enough
// that a server-side limit/sort isn't worth the extra option-building
// complexity here).
func (e *MongoEpisodic) Recent(ctx context.Context, n int) ([]map[string]any, error) {
	cur, err := e.Collection.Find(ctx, bson.M{"run_id": string(e.RunID)})
	if err != nil {
		return nil, ice.Wrap(ice.KindInternal, err, "mongo episodic: find")
	}
	defer cur.Close(ctx)

	var docs []episodicDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, ice.Wrap(ice.KindInternal, err, "mongo episodic: decode")
	}
	if n > 0 && n < len(docs) {
		docs = docs[len(docs)-n:]
	}
	out := make([]map[string]any, len(docs))
	for i, d := range docs {
		out[i] = d.Entry
	}
	return out, nil
}
