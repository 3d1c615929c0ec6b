package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeFusion/internal/domain/models"
)

func TestCHFeatureStore_GetLatestNCandlesAscending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	t0 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	cols := []string{"bucket", "symbol", "open", "high", "low", "close", "vol"}
	mock.ExpectQuery(`FROM tradefusion\.candles_1h WHERE symbol = \? GROUP BY bucket, symbol ORDER BY bucket DESC LIMIT \?`).
		WithArgs("ETH", 2).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(t0.Add(time.Hour), "ETH", 101.0, 103.0, 100.0, 102.0, 9.0).
			AddRow(t0, "ETH", 99.0, 101.0, 98.0, 101.0, 7.0))

	out, err := NewCHFeatureStore(db, "").GetLatestNCandles(context.Background(), "ETH", 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, out[0].Bucket.Equal(t0))
	assert.Equal(t, []float64{101, 102}, models.Closes(out))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCHTickStore_StoreBatchSkipsInvalid(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO tradefusion\.ticks`).
		WithArgs(time.Unix(1772445600, 0).UTC(), "ETH", 100.5, 0.3, 100.4, 100.6, "ws").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewCHTickStore(db, "", "ws")
	err = s.StoreBatch(context.Background(), []*models.Tick{
		{Symbol: "ETH", Timestamp: 1772445600, Price: 100.5, Volume: 0.3, Bid: 100.4, Ask: 100.6},
		{Symbol: "", Timestamp: 1772445600, Price: 1},
		nil,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
