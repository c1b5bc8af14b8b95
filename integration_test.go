//go:build integration
// +build integration

package retrydlq

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
)

func setupMySQL(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := mysql.Run(ctx, "mysql:8.0",
		mysql.WithDatabase("retrydlq_test"),
		mysql.WithUsername("test"),
		mysql.WithPassword("test"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate mysql container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "parseTime=true")
	require.NoError(t, err)

	db, err := sql.Open("mysql", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.PingContext(ctx))

	require.NoError(t, CreateDeadLetterTable(ctx, db))

	return db
}

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("retrydlq_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, MigratePostgres(ctx, dsn, zaptest.NewLogger(t)))
	// a second run must be a no-op
	require.NoError(t, MigratePostgres(ctx, dsn, zaptest.NewLogger(t)))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

func exerciseRepository(t *testing.T, repo DeadLetterRepository) {
	ctx := context.Background()
	traceID := "4bf92f3577b34da6a3ce929d0e0e4736"

	first, err := repo.Save(ctx, DeadLetterRecord{
		ServiceName:  "orders",
		Payload:      `{"id":1}`,
		ErrorMessage: "timeout",
		Attempts:     3,
		TraceID:      traceID,
		SpanID:       "00f067aa0ba902b7",
	})
	require.NoError(t, err)
	require.True(t, first.IsPersisted())

	second, err := repo.Save(ctx, DeadLetterRecord{ServiceName: "orders", Payload: `{"id":2}`, ErrorMessage: "x", Attempts: 1})
	require.NoError(t, err)
	_, err = repo.Save(ctx, DeadLetterRecord{ServiceName: "billing", Payload: "b", ErrorMessage: "y", Attempts: 2})
	require.NoError(t, err)

	found, err := repo.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "orders", found.ServiceName)
	assert.Equal(t, traceID, found.TraceID)
	assert.WithinDuration(t, first.CreatedAt, found.CreatedAt, time.Second)

	updated, err := repo.Save(ctx, found.withFailure(errors.New("still failing")))
	require.NoError(t, err)
	assert.Equal(t, first.ID, updated.ID)

	found, err = repo.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, found.Attempts)
	assert.Equal(t, "still failing", found.ErrorMessage)

	records, err := repo.FindByServiceName(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, first.ID, records[0].ID)
	assert.Equal(t, second.ID, records[1].ID)

	counts, err := repo.CountByServiceName(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ServiceNameCount{{Count: 1, ServiceName: "billing"}, {Count: 2, ServiceName: "orders"}}, counts)

	require.NoError(t, repo.Delete(ctx, second))
	require.NoError(t, repo.Delete(ctx, second))

	_, err = repo.FindByID(ctx, second.ID)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	deleter, ok := repo.(expiredDeleter)
	require.True(t, ok)
	deleted, err := deleter.DeleteCreatedBefore(ctx, time.Now().Add(time.Hour), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestIntegrationMySQLRepository(t *testing.T) {
	exerciseRepository(t, NewMySQLRepository(setupMySQL(t)))
}

func TestIntegrationMySQLRepositoryMissingTable(t *testing.T) {
	ctx := context.Background()
	db := setupMySQL(t)
	_, err := db.ExecContext(ctx, "DROP TABLE dead_letter")
	require.NoError(t, err)

	_, err = NewMySQLRepository(db).Save(ctx, DeadLetterRecord{ServiceName: "orders", Payload: "p", ErrorMessage: "e", Attempts: 1})
	assert.ErrorIs(t, err, ErrStoreNotInitialized)
}

func TestIntegrationPostgresRepository(t *testing.T) {
	exerciseRepository(t, NewPostgresRepository(setupPostgres(t)))
}

func TestIntegrationDeadLetterLifecycleMySQL(t *testing.T) {
	ctx := context.Background()
	repo := NewMySQLRepository(setupMySQL(t))
	logger := zaptest.NewLogger(t)

	failing := true
	handler := &FuncHandler[string]{
		Name:  "emails",
		Codec: StringCodec{},
		ProcessFunc: func(context.Context, string) error {
			if failing {
				return errors.New("smtp unavailable")
			}
			return nil
		},
	}
	policy, err := NewRetryPolicy(2, 10*time.Millisecond, true)
	require.NoError(t, err)

	service, err := NewService[string](handler, policy, repo, WithLogger(logger))
	require.NoError(t, err)
	registry, err := NewServiceRegistry(service)
	require.NoError(t, err)
	orchestrator := NewDeadLetterOrchestrator(repo, registry, WithLogger(logger))

	for i := 0; i < 3; i++ {
		outcome := service.ProcessWithRetry(ctx, fmt.Sprintf("mail-%d", i))
		require.True(t, outcome.IsSentToDeadLetter(), outcome.String())
	}

	records, err := orchestrator.ListByService(ctx, "emails")
	require.NoError(t, err)
	require.Len(t, records, 3)

	outcome, err := orchestrator.RetryOne(ctx, records[0].ID)
	require.NoError(t, err)
	assert.Equal(t, SentToDeadLetter(3), outcome)

	failing = false
	outcomes, err := orchestrator.RetryAll(ctx, "emails")
	require.NoError(t, err)
	assert.Len(t, outcomes, 3)
	for _, o := range outcomes {
		assert.True(t, o.IsSucceeded())
	}

	counts, err := orchestrator.CountByService(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestIntegrationPurgePostgres(t *testing.T) {
	ctx := context.Background()
	repo := NewPostgresRepository(setupPostgres(t))

	for i := 0; i < 5; i++ {
		_, err := repo.Save(ctx, DeadLetterRecord{ServiceName: "reports", Payload: fmt.Sprint(i), ErrorMessage: "e", Attempts: 1})
		require.NoError(t, err)
	}

	orchestrator := NewDeadLetterOrchestrator(repo, nil)
	deleted, err := orchestrator.Purge(ctx, "reports")
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)

	records, err := orchestrator.ListByService(ctx, "reports")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestIntegrationKafkaHandler(t *testing.T) {
	ctx := context.Background()

	container, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		kafka.WithClusterID("test-cluster"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate kafka container: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	config := DefaultKafkaConfig()
	config.Brokers = brokers
	config.Topic = "retrydlq-integration"
	handler := NewKafkaHandlerWithConfig("events", config, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = handler.Close() })

	policy, err := NewRetryPolicy(5, time.Second, true)
	require.NoError(t, err)
	service, err := NewService[KafkaMessage](handler, policy, NewMemoryRepository())
	require.NoError(t, err)

	outcome := service.ProcessWithRetry(ctx, KafkaMessage{Key: "order-1", Value: []byte(`{"id":1}`)})
	require.True(t, outcome.IsSucceeded(), outcome.String())

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  brokers,
		Topic:    config.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := reader.ReadMessage(readCtx)
	require.NoError(t, err)
	assert.Equal(t, []byte("order-1"), msg.Key)
	assert.Equal(t, []byte(`{"id":1}`), msg.Value)
}

func TestIntegrationNATSHandler(t *testing.T) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForLog("Server is ready"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)

	nc, err := nats.Connect(fmt.Sprintf("nats://%s:%s", host, port.Port()))
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("orders.created")
	require.NoError(t, err)

	policy, err := NewRetryPolicy(2, 10*time.Millisecond, true)
	require.NoError(t, err)
	service, err := NewService[NATSMessage](NewNATSHandler("notifications", nc, zaptest.NewLogger(t)), policy, NewMemoryRepository())
	require.NoError(t, err)

	outcome := service.ProcessWithRetry(ctx, NATSMessage{Subject: "orders.created", Data: []byte("hello")})
	require.True(t, outcome.IsSucceeded(), outcome.String())

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), msg.Data)
}
