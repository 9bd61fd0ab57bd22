package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ingestd/internal/config"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestPublisher_Lifecycle(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("ingest.document.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	p := New(nc, "", nil)
	ctx := context.Background()
	jobID := NewJobID()

	require.NoError(t, p.Started(ctx, KindDocument, jobID, map[string]any{"filename": "a.txt"}))
	require.NoError(t, p.Failed(ctx, KindDocument, jobID, "Embedding failed: timeout", nil))
	require.NoError(t, p.Close())

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ingest.document."+jobID+".started", msg.Subject)

	var ev Event
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, jobID, ev.JobID)
	assert.Equal(t, PhaseStarted, ev.Phase)
	assert.Equal(t, "a.txt", ev.Details["filename"])
	assert.False(t, ev.Timestamp.IsZero())

	msg, err = sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ingest.document."+jobID+".failed", msg.Subject)
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, "Embedding failed: timeout", ev.Error)
}

func TestConnect(t *testing.T) {
	server := startTestNATSServer(t)

	p, err := Connect(config.EventsConfig{Enabled: true, URL: server.ClientURL(), SubjectPrefix: "jobs."}, nil)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "jobs.table.j1.completed", p.Subject(KindTable, "j1", PhaseCompleted))
	require.NoError(t, p.Completed(context.Background(), KindTable, "j1", nil))
	require.NoError(t, p.Close())
}

func TestConnect_Disabled(t *testing.T) {
	p, err := Connect(config.EventsConfig{Enabled: false}, nil)
	require.NoError(t, err)
	assert.Nil(t, p)

	// A nil publisher is a no-op.
	assert.NoError(t, p.Started(context.Background(), KindRepo, "j", nil))
	assert.NoError(t, p.Close())
	assert.Equal(t, "ingest.repo.j.started", p.Subject(KindRepo, "j", PhaseStarted))
}
