package catalog

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Integration tests spin up ephemeral Mongo and Redis containers, adapted
// from registry/health_tracker_integration_test.go and
// registry/store/mongo/mongo_test.go's TestMain pattern. They are skipped
// outright when Docker is unavailable.

var (
	testMongoClient *mongodriver.Client
	testRedisClient *redis.Client
	skipIntegration bool
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	var mongoContainer, redisContainer testcontainers.Container

	func() {
		defer func() {
			if r := recover(); r != nil {
				fmt.Printf("docker not available, catalog integration tests will be skipped: %v\n", r)
				skipIntegration = true
			}
		}()

		mreq := testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
			Tmpfs:        map[string]string{"/data/db": "rw"},
		}
		var err error
		mongoContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: mreq, Started: true})
		if err != nil {
			skipIntegration = true
			return
		}
		mhost, _ := mongoContainer.Host(ctx)
		mport, _ := mongoContainer.MappedPort(ctx, "27017")
		testMongoClient, err = mongodriver.Connect(options.Client().ApplyURI(fmt.Sprintf("mongodb://%s:%s", mhost, mport.Port())))
		if err != nil || testMongoClient.Ping(ctx, nil) != nil {
			skipIntegration = true
			return
		}

		rreq := testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		}
		redisContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: rreq, Started: true})
		if err != nil {
			skipIntegration = true
			return
		}
		rhost, _ := redisContainer.Host(ctx)
		rport, _ := redisContainer.MappedPort(ctx, "6379")
		testRedisClient = redis.NewClient(&redis.Options{Addr: rhost + ":" + rport.Port()})
		if err := testRedisClient.Ping(ctx).Err(); err != nil {
			skipIntegration = true
		}
	}()

	code := m.Run()

	if testRedisClient != nil {
		_ = testRedisClient.Close()
	}
	if testMongoClient != nil {
		_ = testMongoClient.Disconnect(ctx)
	}
	if mongoContainer != nil {
		_ = mongoContainer.Terminate(ctx)
	}
	if redisContainer != nil {
		_ = redisContainer.Terminate(ctx)
	}
	os.Exit(code)
}

func TestMongoCatalogRoundTrip(t *testing.T) {
	if skipIntegration {
		t.Skip("docker not available, skipping catalog mongo test")
	}
	ctx := context.Background()
	store, err := NewMongo(MongoOptions{Client: testMongoClient, Database: "catalog_test", Collection: t.Name()})
	require.NoError(t, err)
	require.NoError(t, store.Ping(ctx))

	e := &Entry{Provider: "anthropic", Model: "claude-image", OutputSchema: []byte(`{"type":"object"}`), RateKey: "anthropic"}
	require.NoError(t, store.Put(ctx, e))

	got, ok, err := store.Get(ctx, "anthropic", "claude-image")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, e.RateKey, got.RateKey)

	_, ok, err = store.Get(ctx, "anthropic", "does-not-exist")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCacheFallsThroughToInnerOnMiss(t *testing.T) {
	if skipIntegration {
		t.Skip("docker not available, skipping catalog redis test")
	}
	ctx := context.Background()
	inner := NewMemory(&Entry{Provider: "openai", Model: "gpt-image", RateKey: "openai"})
	cache, err := NewRedisCache(testRedisClient, inner, 50*time.Millisecond)
	require.NoError(t, err)

	got, ok, err := cache.Get(ctx, "openai", "gpt-image")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "openai", got.RateKey)

	// Second lookup is served from Redis, not inner.
	got2, ok, err := cache.Get(ctx, "openai", "gpt-image")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, got.RateKey, got2.RateKey)

	_, ok, err = cache.Get(ctx, "openai", "missing-model")
	require.NoError(t, err)
	require.False(t, ok)
}
