//go:build integration

package emails

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/emailez/backend/internal/dispatch"
	"github.com/emailez/backend/internal/models"
	"github.com/emailez/backend/pkg/database"
)

type RepositoryIntegrationSuite struct {
	suite.Suite
	container testcontainers.Container
	pool      *pgxpool.Pool
	repo      *Repository
	workspace uuid.UUID
	config    uuid.UUID
}

func (s *RepositoryIntegrationSuite) SetupSuite() {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "emailez_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(s.T(), err)
	s.container = container

	host, err := container.Host(ctx)
	require.NoError(s.T(), err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(s.T(), err)

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/emailez_test?sslmode=disable", host, port.Port())
	s.pool, err = database.NewPostgresPool(ctx, dsn, database.PoolConfig{}, nil)
	require.NoError(s.T(), err)
	require.NoError(s.T(), database.Migrate(ctx, s.pool, nil))
	s.repo = NewRepository(s.pool)
}

func (s *RepositoryIntegrationSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		s.container.Terminate(context.Background())
	}
}

func (s *RepositoryIntegrationSuite) SetupTest() {
	ctx := context.Background()
	_, err := s.pool.Exec(ctx, `TRUNCATE email_outbox, emails, email_configurations, workspace_api_keys, workspaces CASCADE`)
	s.Require().NoError(err)
	s.Require().NoError(s.pool.QueryRow(ctx, `INSERT INTO workspaces (name) VALUES ('acme') RETURNING id`).Scan(&s.workspace))
	s.Require().NoError(s.pool.QueryRow(ctx, `INSERT INTO email_configurations (workspace_id, name, host, port, from_address)
		VALUES ($1, 'primary', 'smtp.acme.test', 587, 'noreply@acme.test') RETURNING id`, s.workspace).Scan(&s.config))
}

func (s *RepositoryIntegrationSuite) newEmail(to, subject string) *models.Email {
	e := models.NewQueuedEmail(s.workspace, s.config, "noreply@acme.test",
		models.OutboundMessage{To: []string{to}, Subject: subject, Body: "Hello"}, time.Now())
	jobID := uuid.NewString()
	e.JobID = &jobID
	return e
}

func (s *RepositoryIntegrationSuite) TestCreateGetAndOutbox() {
	ctx := context.Background()
	e := s.newEmail("a@x.com", "Hi")
	s.Require().NoError(s.repo.Create(ctx, e))
	s.Equal(1, e.Version)

	got, err := s.repo.Get(ctx, s.workspace, e.ID)
	s.Require().NoError(err)
	s.Equal([]string{"a@x.com"}, got.ToAddresses)
	s.Empty(got.CcAddresses)
	s.Equal(models.EmailStatusQueued, got.Status)
	s.Equal("Hello", *got.BodyPlainText)

	_, err = s.repo.Get(ctx, uuid.New(), e.ID)
	s.ErrorIs(err, dispatch.ErrEmailNotFound)

	pending, err := s.repo.ListUndispatched(ctx, time.Now().Add(time.Minute), 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(*e.JobID, pending[0].JobID)

	s.Require().NoError(s.repo.MarkDispatched(ctx, *e.JobID))
	pending, err = s.repo.ListUndispatched(ctx, time.Now().Add(time.Minute), 10)
	s.Require().NoError(err)
	s.Empty(pending)
}

func (s *RepositoryIntegrationSuite) TestSaveIsVersionConditional() {
	ctx := context.Background()
	e := s.newEmail("a@x.com", "Hi")
	s.Require().NoError(s.repo.Create(ctx, e))

	stale, err := s.repo.Get(ctx, s.workspace, e.ID)
	s.Require().NoError(err)

	e.RecordAttempt(time.Now())
	e.MarkSent("250 OK")
	s.Require().NoError(s.repo.Save(ctx, e))
	s.Equal(2, e.Version)

	stale.RecordAttempt(time.Now())
	stale.MarkFailed("late writer", "", true)
	s.ErrorIs(s.repo.Save(ctx, stale), dispatch.ErrVersionConflict)

	got, err := s.repo.Get(ctx, s.workspace, e.ID)
	s.Require().NoError(err)
	s.Equal(models.EmailStatusSent, got.Status)
	s.Equal(1, got.AttemptCount)
}

func (s *RepositoryIntegrationSuite) TestListFailedAndRequeue() {
	ctx := context.Background()
	var ids []uuid.UUID
	for attempts := 0; attempts <= 3; attempts++ {
		e := s.newEmail("a@x.com", "s")
		s.Require().NoError(s.repo.Create(ctx, e))
		e.AttemptCount = attempts
		e.MarkFailed("boom", "", attempts != 1)
		s.Require().NoError(s.repo.Save(ctx, e))
		ids = append(ids, e.ID)
	}

	failed, err := s.repo.ListFailed(ctx, s.workspace, 3, false)
	s.Require().NoError(err)
	s.Len(failed, 2)

	failed, err = s.repo.ListFailed(ctx, s.workspace, 3, true)
	s.Require().NoError(err)
	s.Len(failed, 3)

	e := failed[0]
	e.Requeue(uuid.NewString())
	s.Require().NoError(s.repo.Requeue(ctx, e))
	got, err := s.repo.Get(ctx, s.workspace, e.ID)
	s.Require().NoError(err)
	s.Equal(models.EmailStatusQueued, got.Status)
	s.Nil(got.ErrorMessage)
	s.Equal(*e.JobID, *got.JobID)
}

func (s *RepositoryIntegrationSuite) TestListFilters() {
	ctx := context.Background()
	for i, to := range []string{"alice@x.com", "bob@y.com", "carol@x.com"} {
		e := s.newEmail(to, fmt.Sprintf("Invoice %d", i))
		e.QueuedAt = time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC)
		s.Require().NoError(s.repo.Create(ctx, e))
	}

	f := models.EmailFilter{Recipient: "X.COM"}
	f.Normalize()
	items, total, err := s.repo.List(ctx, s.workspace, f)
	s.Require().NoError(err)
	s.Equal(2, total)
	s.Equal("carol@x.com", items[0].ToAddresses[0])

	from := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	f = models.EmailFilter{QueuedFrom: &from, Ascending: true, PageSize: 1, Page: 2}
	f.Normalize()
	items, total, err = s.repo.List(ctx, s.workspace, f)
	s.Require().NoError(err)
	s.Equal(2, total)
	s.Require().Len(items, 1)
	s.True(strings.HasPrefix(items[0].ToAddresses[0], "carol"))

	f = models.EmailFilter{Subject: "100%"}
	f.Normalize()
	_, total, err = s.repo.List(ctx, s.workspace, f)
	s.Require().NoError(err)
	s.Zero(total)
}

func TestRepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RepositoryIntegrationSuite))
}
