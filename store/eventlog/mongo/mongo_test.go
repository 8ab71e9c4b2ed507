package mongo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"reelforge.design/reelforge/store/eventlog"
)

var (
	testClient      *mongodriver.Client
	skipIntegration bool
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	var container testcontainers.Container

	func() {
		defer func() {
			if r := recover(); r != nil {
				fmt.Printf("docker not available, eventlog/mongo tests will be skipped: %v\n", r)
				skipIntegration = true
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
			Tmpfs:        map[string]string{"/data/db": "rw"},
		}
		var err error
		container, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
		if err != nil {
			skipIntegration = true
			return
		}
		host, _ := container.Host(ctx)
		port, _ := container.MappedPort(ctx, "27017")
		testClient, err = mongodriver.Connect(options.Client().ApplyURI(fmt.Sprintf("mongodb://%s:%s", host, port.Port())))
		if err != nil || testClient.Ping(ctx, nil) != nil {
			skipIntegration = true
		}
	}()

	code := m.Run()
	if testClient != nil {
		_ = testClient.Disconnect(ctx)
	}
	if container != nil {
		_ = container.Terminate(ctx)
	}
	os.Exit(code)
}

func TestMongoLogAppendAndLatest(t *testing.T) {
	if skipIntegration {
		t.Skip("docker not available, skipping eventlog/mongo test")
	}
	ctx := context.Background()
	l, err := New(Options{Client: testClient, Database: "eventlog_test", MovieID: t.Name(), Timeout: 5 * time.Second})
	require.NoError(t, err)
	require.NoError(t, l.Ping(ctx))

	now := time.Now().UTC()
	require.NoError(t, l.AppendInput(ctx, &eventlog.InputEvent{ID: "Input:Theme", Hash: "h1", Payload: []byte(`"sunset"`), EditedBy: eventlog.EditedByUser, CreatedAt: now}))
	require.NoError(t, l.AppendInput(ctx, &eventlog.InputEvent{ID: "Input:Theme", Hash: "h2", Payload: []byte(`"moonrise"`), EditedBy: eventlog.EditedByUser, CreatedAt: now.Add(time.Second)}))

	latest, err := l.LatestInputs(ctx)
	require.NoError(t, err)
	require.Equal(t, "h2", latest["Input:Theme"].Hash)

	require.NoError(t, l.AppendArtifact(ctx, &eventlog.ArtifactEvent{
		ArtifactID: "Artifact:P.Image", Revision: 0, InputsHash: "ih1",
		Status: eventlog.StatusSucceeded, ProducedBy: "P", CreatedAt: now,
		Output: eventlog.ArtifactOutput{Blob: &eventlog.BlobRef{Hash: "bh1", Size: 3, MIME: "image/png"}},
	}))
	latestArt, err := l.LatestArtifacts(ctx)
	require.NoError(t, err)
	require.Equal(t, eventlog.StatusSucceeded, latestArt["Artifact:P.Image"].Status)
}
