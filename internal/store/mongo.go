package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo implements Store on a single MongoDB collection of
// {_id: path, data, version, updatedAt} documents. Transact maps onto a
// MongoDB multi-document transaction; Subscribe onto a change stream.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongo(client *mongo.Client, dbName string) *Mongo {
	return &Mongo{
		client: client,
		coll:   client.Database(dbName).Collection("documents"),
	}
}

type mongoDoc struct {
	Path      string    `bson:"_id"`
	Data      bson.M    `bson:"data"`
	Version   int64     `bson:"version"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func (d *mongoDoc) toDocument() (Document, error) {
	data, err := json.Marshal(d.Data)
	if err != nil {
		return Document{}, fmt.Errorf("encode document %s: %w", d.Path, err)
	}
	return Document{Path: d.Path, Data: data, Version: d.Version, UpdatedAt: d.UpdatedAt}, nil
}

func jsonToBSON(data []byte) (bson.M, error) {
	var m bson.M
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("document payload is not a JSON object: %w", err)
	}
	return m, nil
}

func prefixFilter(prefix string) bson.M {
	return bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}
}

func (s *Mongo) Get(ctx context.Context, path string) (*Document, error) {
	var raw mongoDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": path}).Decode(&raw)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	doc, err := raw.toDocument()
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Mongo) Put(ctx context.Context, path string, data []byte) error {
	return s.Transact(ctx, path, func(tx Tx) error {
		tx.Put(path, data)
		return nil
	})
}

func (s *Mongo) Delete(ctx context.Context, path string) error {
	return s.Transact(ctx, path, func(tx Tx) error {
		tx.Delete(path)
		return nil
	})
}

func (s *Mongo) List(ctx context.Context, prefix string) ([]Document, error) {
	return s.find(ctx, prefixFilter(prefix), options.Find().SetSort(bson.M{"_id": 1}))
}

func (s *Mongo) Query(ctx context.Context, prefix, orderBy string, limit int) ([]Document, error) {
	opts := options.Find().SetSort(bson.M{"data." + orderBy: 1})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.find(ctx, prefixFilter(prefix), opts)
}

func (s *Mongo) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]Document, error) {
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []Document
	for cur.Next(ctx) {
		var raw mongoDoc
		if err := cur.Decode(&raw); err != nil {
			return nil, err
		}
		doc, err := raw.toDocument()
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, cur.Err()
}

type mongoTx struct {
	s      *Mongo
	ctx    mongo.SessionContext
	writes []memWrite
	paths  []string
	at     time.Time
}

func (tx *mongoTx) Now() time.Time { return tx.at }

func (tx *mongoTx) staged(path string) (memWrite, bool) {
	for i := len(tx.paths) - 1; i >= 0; i-- {
		if tx.paths[i] == path {
			return tx.writes[i], true
		}
	}
	return memWrite{}, false
}

func (tx *mongoTx) Get(path string) (*Document, error) {
	if w, ok := tx.staged(path); ok {
		if w.delete {
			return nil, ErrNotFound
		}
		return &Document{Path: path, Data: append([]byte(nil), w.data...), UpdatedAt: tx.at}, nil
	}
	var raw mongoDoc
	err := tx.s.coll.FindOne(tx.ctx, bson.M{"_id": path}).Decode(&raw)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	doc, err := raw.toDocument()
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (tx *mongoTx) List(prefix string) ([]Document, error) {
	docs, err := tx.s.find(tx.ctx, prefixFilter(prefix), options.Find().SetSort(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	// Overlay staged writes so the transaction sees its own effects.
	byPath := make(map[string]Document, len(docs))
	order := make([]string, 0, len(docs))
	for _, d := range docs {
		byPath[d.Path] = d
		order = append(order, d.Path)
	}
	for i, path := range tx.paths {
		if len(path) < len(prefix) || path[:len(prefix)] != prefix {
			continue
		}
		w := tx.writes[i]
		if w.delete {
			delete(byPath, path)
			continue
		}
		if _, ok := byPath[path]; !ok {
			order = append(order, path)
		}
		byPath[path] = Document{Path: path, Data: append([]byte(nil), w.data...), UpdatedAt: tx.at}
	}
	out := make([]Document, 0, len(byPath))
	for _, path := range order {
		if d, ok := byPath[path]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (tx *mongoTx) Put(path string, data []byte) {
	tx.paths = append(tx.paths, path)
	tx.writes = append(tx.writes, memWrite{data: append([]byte(nil), data...)})
}

func (tx *mongoTx) Delete(path string) {
	tx.paths = append(tx.paths, path)
	tx.writes = append(tx.writes, memWrite{delete: true})
}

func (tx *mongoTx) apply() error {
	for i, path := range tx.paths {
		w := tx.writes[i]
		if w.delete {
			if _, err := tx.s.coll.DeleteOne(tx.ctx, bson.M{"_id": path}); err != nil {
				return err
			}
			continue
		}
		data, err := jsonToBSON(w.data)
		if err != nil {
			return err
		}
		update := bson.M{
			"$set": bson.M{"data": data, "updatedAt": tx.at},
			"$inc": bson.M{"version": int64(1)},
		}
		opts := options.Update().SetUpsert(true)
		if _, err := tx.s.coll.UpdateOne(tx.ctx, bson.M{"_id": path}, update, opts); err != nil {
			return err
		}
	}
	return nil
}

func (s *Mongo) Transact(ctx context.Context, root string, fn TxFunc) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		tx := &mongoTx{s: s, ctx: sc, at: time.Now().UTC()}

		rootExisted := true
		if _, err := tx.Get(root); err == ErrNotFound {
			rootExisted = false
		} else if err != nil {
			return nil, err
		}

		if err := fn(tx); err != nil {
			return nil, err
		}

		// The snapshot-isolated re-read detects a root deleted since the
		// transaction began.
		if rootExisted {
			if _, staged := tx.staged(root); !staged {
				if _, err := tx.Get(root); err == ErrNotFound {
					return nil, ErrNotFound
				} else if err != nil {
					return nil, err
				}
			}
		}
		return nil, tx.apply()
	})
	if err == nil {
		return nil
	}
	if cmdErr, ok := err.(mongo.CommandError); ok && cmdErr.HasErrorLabel("TransientTransactionError") {
		return ErrConflict
	}
	return err
}

// Subscribe watches the collection's change stream for documents under
// prefix. Requires the backing deployment to be a replica set.
func (s *Mongo) Subscribe(prefix string, fn func(Event)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())

	pipeline := mongo.Pipeline{bson.D{{Key: "$match", Value: bson.M{
		"documentKey._id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)},
	}}}}
	cs, err := s.coll.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		cancel()
		return nil, err
	}

	go func() {
		defer cs.Close(context.Background())
		for cs.Next(ctx) {
			var change struct {
				OperationType string   `bson:"operationType"`
				DocumentKey   struct {
					ID string `bson:"_id"`
				} `bson:"documentKey"`
				FullDocument *mongoDoc `bson:"fullDocument"`
			}
			if err := cs.Decode(&change); err != nil {
				continue
			}
			switch change.OperationType {
			case "insert", "update", "replace":
				if change.FullDocument == nil {
					continue
				}
				doc, err := change.FullDocument.toDocument()
				if err != nil {
					continue
				}
				fn(Event{Kind: EventPut, Doc: doc})
			case "delete":
				fn(Event{Kind: EventDelete, Doc: Document{Path: change.DocumentKey.ID}})
			}
		}
	}()

	return cancel, nil
}
