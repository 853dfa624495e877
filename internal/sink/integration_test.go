package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startContainer runs req and returns host:port of its exposed port.
func startContainer(t *testing.T, req testcontainers.ContainerRequest) string {
	t.Helper()

	if testing.Short() {
		t.Skip("container tests are skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	endpoint, err := c.Endpoint(ctx, "")
	require.NoError(t, err)

	return endpoint
}

func TestPostgresSink_Container(t *testing.T) {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "sv",
			"POSTGRES_PASSWORD": "sv",
			"POSTGRES_DB":       "sv",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(time.Minute),
	})

	dsn := fmt.Sprintf("postgres://sv:sv@%s/sv?sslmode=disable", addr)
	ctx := context.Background()

	s, err := NewPostgres(dsn, "SV", "id")
	require.NoError(t, err)

	require.NoError(t, s.InitSchema(ctx, 11))
	require.NoError(t, s.Persist(ctx, Record{Identity: 11, Data0: 1.25, Data1: 2.5}))
	require.ErrorIs(t, s.Persist(ctx, Record{Identity: 12}), ErrNoRecord)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()

	var d0, d1 float64
	require.NoError(t, db.QueryRowContext(ctx, `SELECT data0, data1 FROM "SV" WHERE id = $1`, 11).Scan(&d0, &d1))
	require.Equal(t, 1.25, d0)
	require.Equal(t, 2.5, d1)
}

func TestRedisSink_Container(t *testing.T) {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	})

	ctx := context.Background()

	s, err := NewRedis("redis://"+addr+"/0", "sv:")
	require.NoError(t, err)

	require.NoError(t, s.Persist(ctx, Record{Identity: 4, Data0: 1, Data1: 2}))
	require.NoError(t, s.Persist(ctx, Record{Identity: 4, Data0: 3, Data1: 4, SmpCnt: 200}))

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	got, err := client.HGetAll(ctx, "sv:4").Result()
	require.NoError(t, err)
	require.Equal(t, "3", got["data0"])
	require.Equal(t, "4", got["data1"])
	require.Equal(t, "200", got["smp_cnt"])
}

func TestMQTTSink_Container(t *testing.T) {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "eclipse-mosquitto:2",
		ExposedPorts: []string{"1883/tcp"},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
	})

	broker := "tcp://" + addr

	s, err := NewMQTT(broker, "sv/", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, s.Persist(context.Background(), sampleRecord()))

	// The message is retained, so a late subscriber still sees it.
	received := make(chan []byte, 1)
	client := mqtt.NewClient(mqtt.NewClientOptions().AddBroker(broker).SetClientID("sv-subscriber-test"))
	tok := client.Connect()
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())
	defer client.Disconnect(100)

	tok = client.Subscribe(s.Topic(7), 1, func(_ mqtt.Client, m mqtt.Message) {
		select {
		case received <- m.Payload():
		default:
		}
	})
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())

	select {
	case payload := <-received:
		var r Record
		require.NoError(t, json.Unmarshal(payload, &r))
		require.Equal(t, sampleRecord(), r)
	case <-time.After(5 * time.Second):
		t.Fatal("retained record not delivered")
	}
}
