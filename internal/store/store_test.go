package store

import (
	"context"
	"database/sql/driver"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bay-allocation-backend/internal/db"
	"bay-allocation-backend/internal/model"
)

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: sqlDB,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

// newSQLiteStore opens a private in-memory sqlite database with migrations applied.
func newSQLiteStore(t *testing.T) (Store, *gorm.DB) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", regexp.MustCompile(`\W`).ReplaceAllString(t.Name(), "_"))
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, _ := testDB.DB()
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(testDB))
	return NewGormStore(testDB), testDB
}

func TestGormStore_ListBays(t *testing.T) {
	gormDB, mock := newTestDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "bays" ORDER BY id`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "number", "status", "current_flight"}).
			AddRow(1, 1, "free", nil).
			AddRow(2, 2, "occupied", "BA123"))

	bays, err := s.ListBays(context.Background())
	require.NoError(t, err)
	require.Len(t, bays, 2)
	assert.Equal(t, model.BayFree, bays[0].Status)
	assert.Equal(t, "BA123", bays[1].OccupantOrEmpty())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_GetBayNotFound(t *testing.T) {
	gormDB, mock := newTestDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "bays" WHERE "bays"."id" = $1`)).
		WithArgs(42, Any{}).
		WillReturnRows(sqlmock.NewRows([]string{"id", "number", "status", "current_flight"}))

	_, err := s.GetBay(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_ApplyDeleteOnly(t *testing.T) {
	gormDB, mock := newTestDB(t)
	s := NewGormStore(gormDB)

	// Deletes are soft: the row keeps its id.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "requests" SET "deleted_at"=$1 WHERE "requests"."id" = $2`)).
		WithArgs(sqlmock.AnyArg(), 7).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.Apply(context.Background(), Mutation{DeletedRequestIDs: []int64{7}})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_ApplyRollsBackOnError(t *testing.T) {
	gormDB, mock := newTestDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "requests" SET "deleted_at"`)).
		WithArgs(sqlmock.AnyArg(), 7).
		WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectRollback()

	err := s.Apply(context.Background(), Mutation{DeletedRequestIDs: []int64{7}})
	assert.ErrorContains(t, err, "failed to delete request 7")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_EmptyMutationIsNoop(t *testing.T) {
	gormDB, mock := newTestDB(t)
	s := NewGormStore(gormDB)

	assert.NoError(t, s.Apply(context.Background(), Mutation{}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_ApplyRoundTrip(t *testing.T) {
	s, _ := newSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, SeedBays(ctx, s, 3))

	now := time.Now().UTC().Truncate(time.Second)
	bay := model.Bay{ID: 2, Number: 2, Status: model.BayPending}
	req := model.Request{
		ID:             1,
		UserID:         "2",
		FlightCallsign: "BA123",
		RequestedBayID: 2,
		Status:         model.RequestPending,
		Notes:          model.StringPtr("heavy"),
		RequestedAt:    now,
	}
	require.NoError(t, s.Apply(ctx, Mutation{Bays: []model.Bay{bay}, Requests: []model.Request{req}}))

	got, err := s.GetBay(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, model.BayPending, got.Status)

	stored, err := s.GetRequest(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "BA123", stored.FlightCallsign)
	assert.Equal(t, "heavy", *stored.Notes)

	// Approve: the bay becomes occupied and the request gains a response time.
	bay.Occupy("BA123")
	req.Approve(now)
	require.NoError(t, s.Apply(ctx, Mutation{Bays: []model.Bay{bay}, Requests: []model.Request{req}}))

	got, err = s.GetBay(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, model.BayOccupied, got.Status)
	assert.Equal(t, "BA123", got.OccupantOrEmpty())

	found, err := s.FindRequests(ctx, RequestFilter{UserID: "2", Status: model.RequestApproved})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.NotNil(t, found[0].RespondedAt)

	// Free the bay again and delete the request.
	bay.Free()
	require.NoError(t, s.Apply(ctx, Mutation{Bays: []model.Bay{bay}, DeletedRequestIDs: []int64{1}}))

	got, err = s.GetBay(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, got.Occupant)

	_, err = s.GetRequest(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGormStore_CancelledIDsAndSeqSurvive(t *testing.T) {
	s, _ := newSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, SeedBays(ctx, s, 3))

	last, err := s.LastRequestID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), last)
	seq, err := s.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), seq)

	now := time.Now().UTC().Truncate(time.Second)
	reqs := []model.Request{
		{ID: 1, UserID: "u", FlightCallsign: "BA1", RequestedBayID: 1, Status: model.RequestPending, RequestedAt: now},
		{ID: 2, UserID: "u", FlightCallsign: "BA2", RequestedBayID: 2, Status: model.RequestPending, RequestedAt: now},
	}
	require.NoError(t, s.Apply(ctx, Mutation{Requests: reqs, Seq: 4}))
	require.NoError(t, s.Apply(ctx, Mutation{DeletedRequestIDs: []int64{2}, Seq: 6}))

	listed, err := s.ListRequests(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, int64(1), listed[0].ID)

	last, err = s.LastRequestID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), last)

	seq, err = s.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), seq)
}

func TestSeedBays_SkipsWhenPresent(t *testing.T) {
	s, _ := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, SeedBays(ctx, s, 4))
	require.NoError(t, SeedBays(ctx, s, 10))

	bays, err := s.ListBays(ctx)
	require.NoError(t, err)
	require.Len(t, bays, 4)
	for i, b := range bays {
		assert.Equal(t, i+1, b.Number)
		assert.Equal(t, model.BayFree, b.Status)
	}
}

// Any is a helper for sqlmock to match any argument.
type Any struct{}

// Match satisfies the sqlmock.Argument interface
func (a Any) Match(v driver.Value) bool {
	return true
}
