package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"fenixbot/internal/domain"
	storepkg "fenixbot/internal/store"
)

const defaultListLimit = 500

const sellColumns = `id, user_id, bot_id, asset_id, item_name, price, trade_offer_id, status,
	listing_id, note, item_details, created_at, updated_at`

type Store struct {
	db *sql.DB
}

// NewStore opens the database, applies pending migrations and returns a
// ready store.
func NewStore(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewStoreWithDB(db), nil
}

func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateSellRequest(ctx context.Context, req domain.SellRequest) (domain.SellRequest, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if req.UpdatedAt.IsZero() {
		req.UpdatedAt = req.CreatedAt
	}
	if req.Status == "" {
		req.Status = domain.SellStatusPending
	}
	_, err := s.db.ExecContext(ctx,
		`insert into pending_sells(id, user_id, bot_id, asset_id, item_name, price, status, created_at, updated_at)
		 values ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		req.ID,
		req.UserID,
		req.BotID,
		req.AssetID,
		req.ItemName,
		req.Price,
		string(req.Status),
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		return domain.SellRequest{}, fmt.Errorf("insert sell request: %w", err)
	}
	return req, nil
}

func (s *Store) GetSellRequest(ctx context.Context, id string) (domain.SellRequest, error) {
	row := s.db.QueryRowContext(ctx, `select `+sellColumns+` from pending_sells where id = $1`, id)
	return scanSellRequest(row)
}

func (s *Store) FindByOfferID(ctx context.Context, offerID string) (domain.SellRequest, error) {
	row := s.db.QueryRowContext(ctx, `select `+sellColumns+` from pending_sells where trade_offer_id = $1`, offerID)
	return scanSellRequest(row)
}

func (s *Store) ListByStatus(ctx context.Context, status domain.SellStatus, limit int) ([]domain.SellRequest, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`select `+sellColumns+`
		 from pending_sells
		 where status = $1
		 order by created_at asc
		 limit $2`,
		string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s requests: %w", status, err)
	}
	return collectSellRequests(rows)
}

func (s *Store) ListStale(ctx context.Context, status domain.SellStatus, cutoff time.Time, limit int) ([]domain.SellRequest, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`select `+sellColumns+`
		 from pending_sells
		 where status = $1 and updated_at <= $2
		 order by updated_at asc
		 limit $3`,
		string(status), cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list stale %s requests: %w", status, err)
	}
	return collectSellRequests(rows)
}

func (s *Store) MarkOfferSent(ctx context.Context, id, offerID string) error {
	res, err := s.db.ExecContext(ctx,
		`update pending_sells
		 set status = 'offer_sent', trade_offer_id = $2, updated_at = now()
		 where id = $1 and status = 'pending'`,
		id, offerID,
	)
	return s.checkConditional(ctx, id, res, err)
}

func (s *Store) MarkAccepted(ctx context.Context, id string, item domain.ItemDetails) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item details: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`update pending_sells
		 set status = 'accepted', item_details = $2::jsonb, updated_at = now()
		 where id = $1 and status = 'offer_sent'`,
		id, string(raw),
	)
	return s.checkConditional(ctx, id, res, err)
}

func (s *Store) MarkFailed(ctx context.Context, id string, from domain.SellStatus, note string) error {
	if !domain.CanTransition(from, domain.SellStatusFailed) {
		return storepkg.ErrConflict
	}
	res, err := s.db.ExecContext(ctx,
		`update pending_sells
		 set status = 'failed', note = $3, updated_at = now()
		 where id = $1 and status = $2`,
		id, string(from), note,
	)
	return s.checkConditional(ctx, id, res, err)
}

func (s *Store) MarkListed(ctx context.Context, id, listingID string) error {
	res, err := s.db.ExecContext(ctx,
		`update pending_sells
		 set status = 'listed', listing_id = $2, updated_at = now()
		 where id = $1 and status = 'accepted'`,
		id, listingID,
	)
	return s.checkConditional(ctx, id, res, err)
}

func (s *Store) DeleteAbandoned(ctx context.Context, id string, cutoff time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`delete from pending_sells
		 where id = $1 and status = 'offer_sent' and updated_at <= $2`,
		id, cutoff,
	)
	return s.checkConditional(ctx, id, res, err)
}

func (s *Store) TradeHandle(ctx context.Context, userID string) (string, error) {
	var handle sql.NullString
	err := s.db.QueryRowContext(ctx, `select trade_url from users where id = $1`, userID).Scan(&handle)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("lookup trade handle: %w", err)
	}
	return handle.String, nil
}

func (s *Store) CreateListing(ctx context.Context, listing domain.Listing) (string, error) {
	if listing.ID == "" {
		listing.ID = uuid.NewString()
	}
	if listing.Status == "" {
		listing.Status = "active"
	}
	if listing.CreatedAt.IsZero() {
		listing.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(listing.Item)
	if err != nil {
		return "", fmt.Errorf("encode listing item: %w", err)
	}
	var id string
	err = s.db.QueryRowContext(ctx,
		`insert into listings(id, request_id, seller_id, bot_id, price, item, status, created_at)
		 values ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)
		 on conflict (request_id) do update
		 set request_id = excluded.request_id
		 returning id`,
		listing.ID,
		listing.RequestID,
		listing.SellerID,
		listing.BotID,
		listing.Price,
		string(raw),
		listing.Status,
		listing.CreatedAt,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert listing: %w", err)
	}
	return id, nil
}

// checkConditional turns a zero-row conditional update into ErrNotFound or
// ErrConflict depending on whether the row exists.
func (s *Store) checkConditional(ctx context.Context, id string, res sql.Result, err error) error {
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var status string
	err = s.db.QueryRowContext(ctx, `select status from pending_sells where id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storepkg.ErrNotFound
		}
		return err
	}
	return storepkg.ErrConflict
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSellRequest(row scanner) (domain.SellRequest, error) {
	var req domain.SellRequest
	var status string
	var offerID, listingID sql.NullString
	var itemRaw []byte
	err := row.Scan(
		&req.ID,
		&req.UserID,
		&req.BotID,
		&req.AssetID,
		&req.ItemName,
		&req.Price,
		&offerID,
		&status,
		&listingID,
		&req.Note,
		&itemRaw,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SellRequest{}, storepkg.ErrNotFound
		}
		return domain.SellRequest{}, err
	}
	req.Status = domain.SellStatus(status)
	req.TradeOfferID = offerID.String
	req.ListingID = listingID.String
	if len(itemRaw) > 0 {
		var item domain.ItemDetails
		if err := json.Unmarshal(itemRaw, &item); err != nil {
			return domain.SellRequest{}, fmt.Errorf("decode item details: %w", err)
		}
		req.Item = &item
	}
	return req, nil
}

func collectSellRequests(rows *sql.Rows) ([]domain.SellRequest, error) {
	defer rows.Close()
	out := make([]domain.SellRequest, 0)
	for rows.Next() {
		req, err := scanSellRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

var (
	_ storepkg.Store         = (*Store)(nil)
	_ storepkg.ListingWriter = (*Store)(nil)
)
