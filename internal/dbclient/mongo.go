package dbclient

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// MongoURI returns the connection URI for c.
//
// A DSN or Host that is already a full connection string (Atlas
// mongodb+srv:// or standard mongodb://) is used directly, with the
// <password> placeholder replaced.
func MongoURI(c Config, params map[string]string) string {
	base := c.DSN
	if base == "" && (strings.HasPrefix(c.Host, "mongodb+srv://") || strings.HasPrefix(c.Host, "mongodb://")) {
		base = c.Host
	}
	if base != "" {
		if pw := c.password(); pw != "" {
			base = strings.ReplaceAll(base, "<password>", pw)
			base = strings.ReplaceAll(base, "<db_password>", pw)
		}
		return base
	}

	port := c.Port
	if port == 0 {
		port = 27017
	}
	var uri string
	if c.Username != "" {
		uri = fmt.Sprintf("mongodb://%s:%s@%s:%d", c.Username, c.password(), c.Host, port)
	} else {
		uri = fmt.Sprintf("mongodb://%s:%d", c.Host, port)
	}

	// authSource, replicaSet, etc.
	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = k + "=" + params[k]
		}
		uri += "/?" + strings.Join(pairs, "&")
	}
	return uri
}

// ConnectMongo connects and pings the primary.
func ConnectMongo(ctx context.Context, c Config, params map[string]string) (*mongo.Client, error) {
	uri := MongoURI(c, params)
	if c.Host == "" && c.DSN == "" {
		return nil, fmt.Errorf("mongodb: uri or host is required")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetConnectTimeout(10 * time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping: %w", err)
	}
	return client, nil
}
