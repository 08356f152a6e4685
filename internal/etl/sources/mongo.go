package sources

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"survey/internal/dbclient"
	"survey/internal/domain"
	"survey/internal/etl"
)

// ── MongoDB Source ─────────────────────────────────────────
// Reads one response per document. A document is either the answer map
// itself or an envelope {client, session, mode, tag, data: {...}}.

type mongoSource struct{}

func init() { etl.RegisterSource(&mongoSource{}) }

func (s *mongoSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "mongo",
		Label: "MongoDB Collection",
		ConfigFields: []etl.ConfigField{
			{Key: "uri", Label: "URI", Type: "password", Help: "mongodb:// or mongodb+srv:// connection string"},
			{Key: "host", Label: "Host", Type: "string", Help: "Used when uri is empty"},
			{Key: "port", Label: "Port", Type: "number"},
			{Key: "user", Label: "User", Type: "string"},
			{Key: "password", Label: "Password", Type: "password", Help: "May reference environment variables"},
			{Key: "authSource", Label: "Auth Source", Type: "string"},
			{Key: "database", Label: "Database", Type: "string", Required: true},
			{Key: "collection", Label: "Collection", Type: "string", Default: "responses"},
			{Key: "tag", Label: "Tag", Type: "string", Help: "Only documents stored under this tag"},
		},
	}
}

type responseDoc struct {
	ID      any      `bson:"_id"`
	Client  string   `bson:"client"`
	Session string   `bson:"session"`
	Mode    string   `bson:"mode"`
	Data    bson.Raw `bson:"data"`
}

func (s *mongoSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	conn := connConfig(cfg)
	conn.Driver = dbclient.DriverMongoDB
	conn.DSN = cfg.String("uri")
	dbName := conn.Database
	if (conn.DSN == "" && conn.Host == "") || dbName == "" {
		return failed(fmt.Errorf("uri (or host) and database are required"))
	}
	var params map[string]string
	if as := cfg.String("authSource"); as != "" {
		params = map[string]string{"authSource": as}
	}
	collName := cfg.String("collection")
	if collName == "" {
		collName = "responses"
	}

	out := make(chan etl.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		client, err := dbclient.ConnectMongo(ctx, conn, params)
		if err != nil {
			errCh <- err
			return
		}
		defer client.Disconnect(context.Background())

		filter := bson.M{}
		if tag := cfg.String("tag"); tag != "" {
			filter["tag"] = tag
		}
		opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})

		cursor, err := client.Database(dbName).Collection(collName).Find(ctx, filter, opts)
		if err != nil {
			errCh <- fmt.Errorf("find: %w", err)
			return
		}
		defer cursor.Close(context.Background())

		for cursor.Next(ctx) {
			if !send(ctx, out, documentRecord(collName, cursor.Current)) {
				return
			}
		}
		if err := cursor.Err(); err != nil {
			errCh <- fmt.Errorf("cursor: %w", err)
		}
	}()

	return out, errCh
}

func documentRecord(collection string, raw bson.Raw) etl.Record {
	var doc responseDoc
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return etl.Failed(collection, err)
	}
	location := fmt.Sprintf("%s/%v", collection, doc.ID)
	if oid, ok := doc.ID.(bson.ObjectID); ok {
		location = collection + "/" + oid.Hex()
	}

	body := raw
	if len(doc.Data) > 0 {
		body = doc.Data
	}
	js, err := bson.MarshalExtJSON(body, false, false)
	if err != nil {
		return etl.Failed(location, err)
	}
	rec, err := domain.ParseRawRecord(js)
	if err != nil {
		return etl.Failed(location, err)
	}
	rec.Delete("_id")
	rec.Delete("tag")

	if len(doc.Data) == 0 {
		return etl.Record{Location: location, Data: rec}
	}
	if doc.Session != "" && !rec.Has(domain.KeySession) {
		rec.Set(domain.KeySession, domain.Single(doc.Session))
	}
	return etl.Record{Location: location, Client: doc.Client, Mode: doc.Mode, Data: rec}
}
