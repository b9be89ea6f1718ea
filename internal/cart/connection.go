package cart

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// OpenMongoRepository connects to uri, makes sure the carts collection is
// indexed and returns the repository with a func that disconnects it.
func OpenMongoRepository(ctx context.Context, uri, database string) (*MongoRepository, func(), error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetAppName("backoffice").
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(50)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("cart store at %s: %w", database, err)
	}
	disconnect := func() { _ = client.Disconnect(context.Background()) }

	if err := client.Ping(ctx, nil); err != nil {
		disconnect()
		return nil, nil, fmt.Errorf("cart store at %s unreachable: %w", database, err)
	}

	repo := NewMongoRepository(client.Database(database))
	if err := repo.CreateIndexes(ctx); err != nil {
		disconnect()
		return nil, nil, err
	}
	return repo, disconnect, nil
}
