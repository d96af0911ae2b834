package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenixbot/internal/domain"
	storepkg "fenixbot/internal/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewStoreWithDB(db), mock, db
}

func sellRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "bot_id", "asset_id", "item_name", "price", "trade_offer_id", "status",
		"listing_id", "note", "item_details", "created_at", "updated_at",
	})
}

func TestCreateSellRequest(t *testing.T) {
	st, mock, db := newMockStore(t)
	defer db.Close()

	mock.ExpectExec(`insert into pending_sells`).
		WithArgs(sqlmock.AnyArg(), "user-1", "bot-1", "A1", "Widget Mk2", sqlmock.AnyArg(), "pending", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req, err := st.CreateSellRequest(context.Background(), domain.SellRequest{
		UserID:   "user-1",
		BotID:    "bot-1",
		AssetID:  "A1",
		ItemName: "Widget Mk2",
		Price:    decimal.RequireFromString("10.00"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, domain.SellStatusPending, req.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSellRequest(t *testing.T) {
	t.Run("scans listed row with item details", func(t *testing.T) {
		st, mock, db := newMockStore(t)
		defer db.Close()

		now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		mock.ExpectQuery(`from pending_sells where id = \$1`).
			WithArgs("req-1").
			WillReturnRows(sellRows().AddRow(
				"req-1", "user-1", "bot-1", "A1", "Widget Mk2", "10.00", "offer-1", "listed",
				"listing-1", "", []byte(`{"asset_id":"A1","display_name":"Widget Mk2","inspect":{"float_value":0.12,"paint_seed":7,"paint_index":44}}`),
				now, now,
			))

		req, err := st.GetSellRequest(context.Background(), "req-1")
		require.NoError(t, err)
		assert.Equal(t, domain.SellStatusListed, req.Status)
		assert.Equal(t, "offer-1", req.TradeOfferID)
		assert.Equal(t, "listing-1", req.ListingID)
		assert.True(t, req.Price.Equal(decimal.RequireFromString("10")))
		require.NotNil(t, req.Item)
		assert.Equal(t, 7, req.Item.Inspect.PaintSeed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maps no rows to not found", func(t *testing.T) {
		st, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectQuery(`from pending_sells where id = \$1`).
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		_, err := st.GetSellRequest(context.Background(), "missing")
		assert.ErrorIs(t, err, storepkg.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMarkOfferSent(t *testing.T) {
	t.Run("updates pending row", func(t *testing.T) {
		st, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectExec(`update pending_sells\s+set status = 'offer_sent'`).
			WithArgs("req-1", "offer-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, st.MarkOfferSent(context.Background(), "req-1", "offer-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports conflict when status moved on", func(t *testing.T) {
		st, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectExec(`update pending_sells`).
			WithArgs("req-1", "offer-1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`select status from pending_sells where id = \$1`).
			WithArgs("req-1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("failed"))

		err := st.MarkOfferSent(context.Background(), "req-1", "offer-1")
		assert.ErrorIs(t, err, storepkg.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports not found when row is gone", func(t *testing.T) {
		st, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectExec(`update pending_sells`).
			WithArgs("req-1", "offer-1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`select status from pending_sells where id = \$1`).
			WithArgs("req-1").
			WillReturnError(sql.ErrNoRows)

		err := st.MarkOfferSent(context.Background(), "req-1", "offer-1")
		assert.ErrorIs(t, err, storepkg.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMarkFailedRejectsIllegalPreState(t *testing.T) {
	st, mock, db := newMockStore(t)
	defer db.Close()

	err := st.MarkFailed(context.Background(), "req-1", domain.SellStatusAccepted, "nope")
	assert.ErrorIs(t, err, storepkg.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAbandoned(t *testing.T) {
	st, mock, db := newMockStore(t)
	defer db.Close()

	cutoff := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`delete from pending_sells\s+where id = \$1 and status = 'offer_sent' and updated_at <= \$2`).
		WithArgs("req-1", cutoff).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, st.DeleteAbandoned(context.Background(), "req-1", cutoff))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTradeHandle(t *testing.T) {
	t.Run("returns stored trade url", func(t *testing.T) {
		st, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectQuery(`select trade_url from users`).
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"trade_url"}).AddRow("https://trade/partner=1&token=x"))

		handle, err := st.TradeHandle(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, "https://trade/partner=1&token=x", handle)
	})

	t.Run("missing user has no handle", func(t *testing.T) {
		st, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectQuery(`select trade_url from users`).
			WithArgs("user-2").
			WillReturnError(sql.ErrNoRows)

		handle, err := st.TradeHandle(context.Background(), "user-2")
		require.NoError(t, err)
		assert.Empty(t, handle)
	})
}

func TestCreateListingReturnsExistingID(t *testing.T) {
	st, mock, db := newMockStore(t)
	defer db.Close()

	mock.ExpectQuery(`insert into listings`).
		WithArgs(sqlmock.AnyArg(), "req-1", "user-1", "bot-1", sqlmock.AnyArg(), sqlmock.AnyArg(), "active", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("listing-existing"))

	id, err := st.CreateListing(context.Background(), domain.Listing{
		RequestID: "req-1",
		SellerID:  "user-1",
		BotID:     "bot-1",
		Price:     decimal.RequireFromString("10.00"),
		Item:      domain.ItemDetails{AssetID: "A1", DisplayName: "Widget Mk2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "listing-existing", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}
