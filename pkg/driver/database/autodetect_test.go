package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/mostefaiamine-25/aspire-functions/pkg/config"
)

func TestPop_PostgresAutoDetection(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	// Initial config is NOT postgres (default/empty)
	driver := NewDatabaseDriver(config.DatabaseConfig{}, db)

	// FIRST CALL: mysql placeholders rejected by a postgres server
	mock.ExpectBegin()
	mock.ExpectQuery(selectMySQL).
		WithArgs("emails", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(errors.New("pq: syntax error at or near \"AND\""))
	mock.ExpectRollback()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err = driver.popJob(ctx, "emails"); err == nil {
		t.Fatal("Expected error on first pop")
	}

	driver.mu.RLock()
	currentDriver := driver.driver
	driver.mu.RUnlock()
	if currentDriver != "postgres" {
		t.Errorf("Expected driver to switch to postgres, got %s", currentDriver)
	}

	// SECOND CALL: $n placeholders
	mock.ExpectBegin()
	mock.ExpectQuery(selectPostgres).
		WithArgs("emails", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "payload", "attempts", "created_at"}).AddRow(1, []byte("{}"), 0, int64(0)))
	mock.ExpectExec(`UPDATE queue_messages SET reserved_at = \$1, attempts = attempts \+ 1 WHERE id = \$2`).
		WithArgs(sqlmock.AnyArg(), 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	msg, err := driver.popJob(ctx, "emails")
	if err != nil {
		t.Errorf("Second pop failed: %v", err)
	}
	if msg == nil || msg.DequeueCount != 1 {
		t.Errorf("Expected first delivery, got %+v", msg)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}
