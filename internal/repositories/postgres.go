package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	crdbpgx "github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgxv5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/collabset/backend/internal/db"
	"github.com/collabset/backend/internal/models"
)

const userColumns = `id, email, password_hash, name, role, brand_name, category, city, bio,
               price_per_post, avg_campaign_budget, is_verified, is_blocked, is_barter_enabled,
               onboarding_status, created_at, updated_at`

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Email, &user.Password, &user.Name, &user.Role, &user.BrandName,
		&user.Category, &user.City, &user.Bio, &user.PricePerPost, &user.AvgCampaignBudget,
		&user.IsVerified, &user.IsBlocked, &user.IsBarterEnabled, &user.OnboardingStatus, &user.CreatedAt,
		&user.UpdatedAt)
	if err != nil {
		return models.User{}, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return user, nil
}

// PostgresUserRepository provides PostgreSQL-backed persistence for parties.
type PostgresUserRepository struct {
	pool db.Pool
}

// NewPostgresUserRepository constructs a user repository backed by PostgreSQL.
func NewPostgresUserRepository(pool db.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// Create persists a new user record.
func (r *PostgresUserRepository) Create(ctx context.Context, user models.User) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO users (id, email, password_hash, name, role, brand_name, category, city, bio,
                           price_per_post, avg_campaign_budget, is_verified, is_blocked, is_barter_enabled,
                           onboarding_status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
    `, user.ID, strings.ToLower(user.Email), user.Password, user.Name, user.Role, user.BrandName, user.Category,
		user.City, user.Bio, user.PricePerPost, user.AvgCampaignBudget, user.IsVerified, user.IsBlocked,
		user.IsBarterEnabled, user.OnboardingStatus, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if mapped := mapPgError(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// FindByID fetches a user by identifier.
func (r *PostgresUserRepository) FindByID(ctx context.Context, id string) (models.User, error) {
	return r.findOne(ctx, "id", id)
}

// FindByEmail fetches a user by their email address.
func (r *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	return r.findOne(ctx, "email", strings.ToLower(email))
}

func (r *PostgresUserRepository) findOne(ctx context.Context, column, value string) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+column+` = $1`, value)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("select user by %s: %w", column, err)
	}

	return user, nil
}

// UpdateUser locks the user row, applies mutate and stores the result.
func (r *PostgresUserRepository) UpdateUser(ctx context.Context, id string, mutate func(models.User) (models.User, error)) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var updated models.User
	err = crdbpgx.ExecuteTx(ctx, conn, pgx.TxOptions{}, func(tx pgx.Tx) error {
		current, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock user: %w", err)
		}

		updated, err = mutate(current)
		if err != nil {
			return err
		}
		updated.ID = id
		updated.Email = strings.ToLower(updated.Email)

		if _, err := tx.Exec(ctx, `
            UPDATE users
            SET email = $2, password_hash = $3, name = $4, role = $5, brand_name = $6, category = $7,
                city = $8, bio = $9, price_per_post = $10, avg_campaign_budget = $11, is_verified = $12,
                is_blocked = $13, is_barter_enabled = $14, onboarding_status = $15, updated_at = $16
            WHERE id = $1
        `, id, updated.Email, updated.Password, updated.Name, updated.Role, updated.BrandName, updated.Category,
			updated.City, updated.Bio, updated.PricePerPost, updated.AvgCampaignBudget, updated.IsVerified,
			updated.IsBlocked, updated.IsBarterEnabled, updated.OnboardingStatus, updated.UpdatedAt); err != nil {
			if mapped := mapPgError(err); mapped != err {
				return mapped
			}
			return fmt.Errorf("update user: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.User{}, err
	}

	return updated, nil
}

// List returns every user ordered by signup time.
func (r *PostgresUserRepository) List(ctx context.Context) ([]models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}

// PostgresLedgerRepository provides PostgreSQL-backed persistence for collab requests and deals.
// Read-modify-write operations lock the row and run through crdbpgx.ExecuteTx, which retries
// serialization failures.
type PostgresLedgerRepository struct {
	pool  db.Pool
	users *PostgresUserRepository
}

// NewPostgresLedgerRepository constructs a ledger repository backed by PostgreSQL.
func NewPostgresLedgerRepository(pool db.Pool) *PostgresLedgerRepository {
	return &PostgresLedgerRepository{pool: pool, users: NewPostgresUserRepository(pool)}
}

// FindUser fetches a party by identifier.
func (r *PostgresLedgerRepository) FindUser(ctx context.Context, id string) (models.User, error) {
	return r.users.FindByID(ctx, id)
}

// CreateRequest persists a new Pending request. A second Pending request for the same pair
// violates the partial unique index and yields ErrConflict.
func (r *PostgresLedgerRepository) CreateRequest(ctx context.Context, req models.CollabRequest) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO collab_requests (id, from_id, to_id, pair_key, status, initial_message, created_at, responded_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `, req.ID, req.FromID, req.ToID, PairKey(req.FromID, req.ToID), req.Status, req.InitialMessage,
		req.Timestamp, nullTime(req.RespondedAt))
	if err != nil {
		if mapped := mapPgError(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("insert collab request: %w", err)
	}

	return nil
}

const requestColumns = `id, from_id, to_id, status, initial_message, created_at, responded_at`

func scanRequest(row pgx.Row) (models.CollabRequest, error) {
	var (
		req         models.CollabRequest
		respondedAt sql.NullTime
	)
	if err := row.Scan(&req.ID, &req.FromID, &req.ToID, &req.Status, &req.InitialMessage, &req.Timestamp, &respondedAt); err != nil {
		return models.CollabRequest{}, err
	}
	req.Timestamp = req.Timestamp.UTC()
	if respondedAt.Valid {
		t := respondedAt.Time.UTC()
		req.RespondedAt = &t
	}
	return req, nil
}

// FindRequest fetches a collab request by identifier.
func (r *PostgresLedgerRepository) FindRequest(ctx context.Context, id string) (models.CollabRequest, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.CollabRequest{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	req, err := scanRequest(conn.QueryRow(ctx, `SELECT `+requestColumns+` FROM collab_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.CollabRequest{}, ErrNotFound
		}
		return models.CollabRequest{}, fmt.Errorf("select collab request: %w", err)
	}
	return req, nil
}

// ListRequestsForParty returns requests where the party is sender or recipient, newest first.
func (r *PostgresLedgerRepository) ListRequestsForParty(ctx context.Context, partyID string) ([]models.CollabRequest, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT `+requestColumns+`
        FROM collab_requests
        WHERE $1 = '' OR from_id = $1 OR to_id = $1
        ORDER BY created_at DESC
    `, partyID)
	if err != nil {
		return nil, fmt.Errorf("query collab requests: %w", err)
	}
	defer rows.Close()

	var requests []models.CollabRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan collab request: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collab requests: %w", err)
	}

	return requests, nil
}

// ResolveRequest locks the request row, applies resolve, stores the resolved request and
// inserts the returned deal in the same transaction.
func (r *PostgresLedgerRepository) ResolveRequest(ctx context.Context, id string, resolve func(models.CollabRequest) (models.CollabRequest, *models.Deal, error)) (models.CollabRequest, *models.Deal, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.CollabRequest{}, nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var (
		resolved models.CollabRequest
		deal     *models.Deal
	)
	err = crdbpgx.ExecuteTx(ctx, conn, pgx.TxOptions{}, func(tx pgx.Tx) error {
		current, err := scanRequest(tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM collab_requests WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock collab request: %w", err)
		}

		resolved, deal, err = resolve(current)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
            UPDATE collab_requests SET status = $2, responded_at = $3 WHERE id = $1
        `, id, resolved.Status, nullTime(resolved.RespondedAt)); err != nil {
			return fmt.Errorf("update collab request: %w", err)
		}

		if deal == nil {
			return nil
		}
		if err := insertDeal(ctx, tx, *deal); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return models.CollabRequest{}, nil, err
	}

	return resolved, deal, nil
}

const dealColumns = `id, request_id, influencer_id, brand_id, brand_name, influencer_name, amount,
               project_status, payment_status, work_link, created_at, last_updated`

func scanDeal(row pgx.Row) (models.Deal, error) {
	var d models.Deal
	if err := row.Scan(&d.ID, &d.RequestID, &d.InfluencerID, &d.BrandID, &d.BrandName, &d.InfluencerName,
		&d.Amount, &d.ProjectStatus, &d.PaymentStatus, &d.WorkLink, &d.Timestamp, &d.LastUpdated); err != nil {
		return models.Deal{}, err
	}
	d.Timestamp = d.Timestamp.UTC()
	d.LastUpdated = d.LastUpdated.UTC()
	return d, nil
}

func insertDeal(ctx context.Context, tx pgx.Tx, d models.Deal) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO deals (id, request_id, influencer_id, brand_id, brand_name, influencer_name, amount,
                           project_status, payment_status, work_link, created_at, last_updated)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
    `, d.ID, d.RequestID, d.InfluencerID, d.BrandID, d.BrandName, d.InfluencerName, d.Amount,
		d.ProjectStatus, d.PaymentStatus, d.WorkLink, d.Timestamp, d.LastUpdated)
	if err != nil {
		if mapped := mapPgError(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("insert deal: %w", err)
	}
	return nil
}

// FindDeal fetches a deal by identifier.
func (r *PostgresLedgerRepository) FindDeal(ctx context.Context, id string) (models.Deal, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Deal{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	d, err := scanDeal(conn.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Deal{}, ErrNotFound
		}
		return models.Deal{}, fmt.Errorf("select deal: %w", err)
	}
	return d, nil
}

// ListDealsForParty returns deals where the party is influencer or brand, newest first.
func (r *PostgresLedgerRepository) ListDealsForParty(ctx context.Context, partyID string) ([]models.Deal, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT `+dealColumns+`
        FROM deals
        WHERE $1 = '' OR influencer_id = $1 OR brand_id = $1
        ORDER BY created_at DESC
    `, partyID)
	if err != nil {
		return nil, fmt.Errorf("query deals: %w", err)
	}
	defer rows.Close()

	var deals []models.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		deals = append(deals, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deals: %w", err)
	}

	return deals, nil
}

// UpdateDeal locks the deal row, applies mutate and stores the result.
func (r *PostgresLedgerRepository) UpdateDeal(ctx context.Context, id string, mutate func(models.Deal) (models.Deal, error)) (models.Deal, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Deal{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var updated models.Deal
	err = crdbpgx.ExecuteTx(ctx, conn, pgx.TxOptions{}, func(tx pgx.Tx) error {
		current, err := scanDeal(tx.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock deal: %w", err)
		}

		updated, err = mutate(current)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
            UPDATE deals
            SET project_status = $2, payment_status = $3, work_link = $4, last_updated = $5
            WHERE id = $1
        `, id, updated.ProjectStatus, updated.PaymentStatus, updated.WorkLink, updated.LastUpdated); err != nil {
			return fmt.Errorf("update deal: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Deal{}, err
	}

	return updated, nil
}

// PostgresChatRepository provides PostgreSQL-backed persistence for collaboration chat.
type PostgresChatRepository struct {
	pool db.Pool
}

// NewPostgresChatRepository constructs a chat repository backed by PostgreSQL.
func NewPostgresChatRepository(pool db.Pool) *PostgresChatRepository {
	return &PostgresChatRepository{pool: pool}
}

// CreateMessage stores a chat message.
func (r *PostgresChatRepository) CreateMessage(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error) {
	if msg.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return models.ChatMessage{}, fmt.Errorf("generate message id: %w", err)
		}
		msg.ID = id.String()
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO chat_messages (id, collab_id, sender_id, body, created_at, seen)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, msg.ID, msg.CollabID, msg.SenderID, msg.Text, msg.Timestamp, msg.Seen)
	if err != nil {
		if mapped := mapPgError(err); mapped != err {
			return models.ChatMessage{}, mapped
		}
		return models.ChatMessage{}, fmt.Errorf("insert chat message: %w", err)
	}

	return msg, nil
}

// ListMessages returns the newest limit messages in chronological order.
func (r *PostgresChatRepository) ListMessages(ctx context.Context, collabID string, limit int) ([]models.ChatMessage, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, collab_id, sender_id, body, created_at, seen
        FROM (
            SELECT id, collab_id, sender_id, body, created_at, seen
            FROM chat_messages
            WHERE collab_id = $1
            ORDER BY created_at DESC, id DESC
            LIMIT $2
        ) latest
        ORDER BY created_at, id
    `, collabID, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		var msg models.ChatMessage
		if err := rows.Scan(&msg.ID, &msg.CollabID, &msg.SenderID, &msg.Text, &msg.Timestamp, &msg.Seen); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		msg.Timestamp = msg.Timestamp.UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}

	return messages, nil
}

// MarkSeen flags the counterparty's unseen messages as seen.
func (r *PostgresChatRepository) MarkSeen(ctx context.Context, collabID, readerID string) (int, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE chat_messages
        SET seen = true
        WHERE collab_id = $1 AND sender_id <> $2 AND seen = false
    `, collabID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark chat messages seen: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Valid: true, Time: t.UTC()}
}

var _ UserRepository = (*PostgresUserRepository)(nil)
var _ LedgerRepository = (*PostgresLedgerRepository)(nil)
var _ ChatRepository = (*PostgresChatRepository)(nil)
