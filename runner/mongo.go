package runner

import (
	"context"
	"errors"
	"time"

	"github.com/iceos/core/ice"
	"github.com/iceos/core/node"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoStore persists Run Records in a Mongo collection, giving the Run
// Controller durability across process restarts. Grounded on the teacher's
// features/run/mongo.Store, generalized from its run.Record shape to this
// package's Record.
type MongoStore struct {
	Collection *mongo.Collection
}

// errDoc mirrors ice.Error for storage: ice.Error.Cause is an error
// interface, which bson can't marshal without a registered concrete type,
// so only the message is kept.
type errDoc struct {
	Kind          string `bson:"kind"`
	Message       string `bson:"message"`
	FailingNodeID string `bson:"failing_node_id"`
	Attempts      int    `bson:"attempts"`
	Cause         string `bson:"cause,omitempty"`
}

func toErrDoc(e *ice.Error) *errDoc {
	if e == nil {
		return nil
	}
	d := &errDoc{
		Kind:          string(e.Kind),
		Message:       e.Message,
		FailingNodeID: string(e.FailingNodeID),
		Attempts:      e.Attempts,
	}
	if e.Cause != nil {
		d.Cause = e.Cause.Error()
	}
	return d
}

func fromErrDoc(d *errDoc) *ice.Error {
	if d == nil {
		return nil
	}
	e := &ice.Error{
		Kind:          ice.Kind(d.Kind),
		Message:       d.Message,
		FailingNodeID: ice.NodeID(d.FailingNodeID),
		Attempts:      d.Attempts,
	}
	if d.Cause != "" {
		e.Cause = errString(d.Cause)
	}
	return e
}

// errString lets a stored cause message round-trip as an error without
// pulling in errors.New at every call site.
type errString string

func (e errString) Error() string { return string(e) }

// resultDoc mirrors node.Result with errDoc in place of *ice.Error, for the
// same reason errDoc exists.
type resultDoc struct {
	NodeID  string         `bson:"node_id"`
	Status  string         `bson:"status"`
	Output  map[string]any `bson:"output,omitempty"`
	Err     *errDoc        `bson:"err,omitempty"`
	Attempt int            `bson:"attempt"`
}

func toResultDoc(r node.Result) resultDoc {
	return resultDoc{
		NodeID:  string(r.NodeID),
		Status:  string(r.Status),
		Output:  r.Output,
		Err:     toErrDoc(r.Err),
		Attempt: r.Attempt,
	}
}

func fromResultDoc(d resultDoc) node.Result {
	return node.Result{
		NodeID:  ice.NodeID(d.NodeID),
		Status:  node.Status(d.Status),
		Output:  d.Output,
		Err:     fromErrDoc(d.Err),
		Attempt: d.Attempt,
	}
}

type runDoc struct {
	RunID       string               `bson:"run_id"`
	BlueprintID string               `bson:"blueprint_id"`
	Phase       string               `bson:"phase"`
	Input       map[string]any       `bson:"input"`
	Results     map[string]resultDoc `bson:"results"`
	StartedAt   time.Time            `bson:"started_at"`
	EndedAt     time.Time            `bson:"ended_at"`
	Err         *errDoc              `bson:"err,omitempty"`
}

func toRunDoc(r Record) runDoc {
	results := make(map[string]resultDoc, len(r.Results))
	for id, res := range r.Results {
		results[string(id)] = toResultDoc(res)
	}
	return runDoc{
		RunID:       string(r.RunID),
		BlueprintID: string(r.BlueprintID),
		Phase:       string(r.Phase),
		Input:       r.Input,
		Results:     results,
		StartedAt:   r.StartedAt,
		EndedAt:     r.EndedAt,
		Err:         toErrDoc(r.Err),
	}
}

func fromRunDoc(d runDoc) Record {
	results := make(map[ice.NodeID]node.Result, len(d.Results))
	for id, res := range d.Results {
		results[ice.NodeID(id)] = fromResultDoc(res)
	}
	return Record{
		RunID:       ice.RunID(d.RunID),
		BlueprintID: ice.BlueprintID(d.BlueprintID),
		Phase:       Phase(d.Phase),
		Input:       d.Input,
		Results:     results,
		StartedAt:   d.StartedAt,
		EndedAt:     d.EndedAt,
		Err:         fromErrDoc(d.Err),
	}
}

// Save upserts the Record, keyed by run_id, so repeated saves of the same
// in-flight run (one per phase transition) replace rather than duplicate.
func (s *MongoStore) Save(ctx context.Context, r Record) error {
	doc := toRunDoc(r)
	filter := bson.M{"run_id": doc.RunID}
	update := bson.M{"$set": doc}
	_, err := s.Collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return ice.Wrap(ice.KindInternal, err, "mongo run store: save %s", r.RunID)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, id ice.RunID) (Record, error) {
	var doc runDoc
	err := s.Collection.FindOne(ctx, bson.M{"run_id": string(id)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Record{}, ice.New(ice.KindNotFound, "run %s", id)
		}
		return Record{}, ice.Wrap(ice.KindInternal, err, "mongo run store: get %s", id)
	}
	return fromRunDoc(doc), nil
}
