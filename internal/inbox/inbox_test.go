package inbox

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryInsert(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "first sighting", affected: 1, want: true},
		{name: "redelivery", affected: 0, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			mock.ExpectExec(`INSERT INTO inbox_messages .* ON CONFLICT \(message_id\) DO NOTHING`).
				WithArgs("msg-1", sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			inserted, err := NewRepository().TryInsert(context.Background(), db, "msg-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, inserted)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestTryInsert_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO inbox_messages").WillReturnError(errors.New("connection reset"))

	_, err = NewRepository().TryInsert(context.Background(), db, "msg-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "msg-1")
}
