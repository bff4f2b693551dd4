package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// IntentStore implements domain.IntentStore using PostgreSQL.
type IntentStore struct {
	pool *pgxpool.Pool
}

var _ domain.IntentStore = (*IntentStore)(nil)

// NewIntentStore creates a new IntentStore backed by the given connection pool.
func NewIntentStore(pool *pgxpool.Pool) *IntentStore {
	return &IntentStore{pool: pool}
}

const intentSelectCols = `id, user_id, market_id, outcome, action,
	origin_chain_id, origin_currency, input_amount_wei,
	dest_chain_id, dest_currency, dest_address,
	expected_dest_amount, min_dest_amount, slippage_bps, amount_shares,
	relay_quote_id, relay_request_id, origin_tx, origin_tx_hash, dest_tx_hash,
	order_id, order_type, limit_price, filled_size, avg_price,
	state, error_code, error_detail, encrypted_signature, client_request_id,
	created_at, updated_at`

func scanIntentFromRow(scanner interface{ Scan(dest ...any) error }) (domain.TradeIntent, error) {
	var in domain.TradeIntent
	var outcome, action, orderType, state string
	var originTx []byte
	var clientReq *string

	err := scanner.Scan(
		&in.ID, &in.UserID, &in.MarketID, &outcome, &action,
		&in.OriginChainID, &in.OriginCurrency, &in.InputAmountWei,
		&in.DestinationChainID, &in.DestinationCurrency, &in.DestinationAddress,
		&in.ExpectedDestAmount, &in.MinDestAmount, &in.SlippageBps, &in.AmountShares,
		&in.RelayQuoteID, &in.RelayRequestID, &originTx, &in.OriginTxHash, &in.DestTxHash,
		&in.OrderID, &orderType, &in.LimitPrice, &in.FilledSize, &in.AvgPrice,
		&state, &in.ErrorCode, &in.ErrorDetail, &in.EncryptedSignature, &clientReq,
		&in.CreatedAt, &in.UpdatedAt,
	)
	if err != nil {
		return domain.TradeIntent{}, err
	}
	in.Outcome = domain.Outcome(outcome)
	in.Action = domain.TradeAction(action)
	in.OrderKind = domain.OrderKind(orderType)
	in.State = domain.IntentState(state)
	if clientReq != nil {
		in.ClientRequestID = *clientReq
	}
	if len(originTx) > 0 {
		var tx domain.OriginTx
		if err := json.Unmarshal(originTx, &tx); err != nil {
			return domain.TradeIntent{}, fmt.Errorf("unmarshal origin tx: %w", err)
		}
		in.OriginTx = &tx
	}
	return in, nil
}

// Create inserts the intent and its creation event in one transaction. A
// duplicate client request id yields domain.ErrAlreadyExists.
func (s *IntentStore) Create(ctx context.Context, in domain.TradeIntent, event domain.IntentEvent) error {
	var originTx []byte
	if in.OriginTx != nil {
		b, err := json.Marshal(in.OriginTx)
		if err != nil {
			return fmt.Errorf("postgres: marshal origin tx: %w", err)
		}
		originTx = b
	}
	var clientReq *string
	if in.ClientRequestID != "" {
		clientReq = &in.ClientRequestID
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create intent: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const query = `
		INSERT INTO intents (
			id, user_id, market_id, outcome, action,
			origin_chain_id, origin_currency, input_amount_wei,
			dest_chain_id, dest_currency, dest_address,
			expected_dest_amount, min_dest_amount, slippage_bps, amount_shares,
			relay_quote_id, relay_request_id, origin_tx,
			order_type, limit_price, state, encrypted_signature, client_request_id
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18,
			$19, $20, $21, $22, $23
		)`
	_, err = tx.Exec(ctx, query,
		in.ID, in.UserID, in.MarketID, string(in.Outcome), string(in.Action),
		in.OriginChainID, in.OriginCurrency, in.InputAmountWei,
		in.DestinationChainID, in.DestinationCurrency, in.DestinationAddress,
		in.ExpectedDestAmount, in.MinDestAmount, in.SlippageBps, in.AmountShares,
		in.RelayQuoteID, in.RelayRequestID, originTx,
		string(in.OrderKind), in.LimitPrice, string(in.State), in.EncryptedSignature, clientReq,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create intent %s: %w", in.ID, err)
	}
	if err := insertEvent(ctx, tx, in.ID, event); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create intent %s: %w", in.ID, err)
	}
	return nil
}

func (s *IntentStore) getOne(ctx context.Context, where string, arg any) (domain.TradeIntent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+intentSelectCols+` FROM intents WHERE `+where+` LIMIT 1`, arg)
	in, err := scanIntentFromRow(row)
	if err != nil {
		if isNoRows(err) {
			return domain.TradeIntent{}, domain.ErrNotFound
		}
		return domain.TradeIntent{}, fmt.Errorf("postgres: get intent: %w", err)
	}
	return in, nil
}

// GetByID retrieves an intent by id.
func (s *IntentStore) GetByID(ctx context.Context, id string) (domain.TradeIntent, error) {
	return s.getOne(ctx, "id = $1", id)
}

// GetByClientRequestID retrieves the intent created with an idempotency key.
func (s *IntentStore) GetByClientRequestID(ctx context.Context, clientRequestID string) (domain.TradeIntent, error) {
	if clientRequestID == "" {
		return domain.TradeIntent{}, domain.ErrNotFound
	}
	return s.getOne(ctx, "client_request_id = $1", clientRequestID)
}

// GetByRelayID retrieves an intent by bridge quote id or request id.
func (s *IntentStore) GetByRelayID(ctx context.Context, relayID string) (domain.TradeIntent, error) {
	if relayID == "" {
		return domain.TradeIntent{}, domain.ErrNotFound
	}
	return s.getOne(ctx, "(relay_quote_id = $1 OR relay_request_id = $1)", relayID)
}

// GetByOrderID retrieves an intent by exchange order id.
func (s *IntentStore) GetByOrderID(ctx context.Context, orderID string) (domain.TradeIntent, error) {
	if orderID == "" {
		return domain.TradeIntent{}, domain.ErrNotFound
	}
	return s.getOne(ctx, "order_id = $1", orderID)
}

// updateSet applies the non-nil fields of an IntentUpdate. Placeholders start
// at $first and are bound by updateArgs in the same order.
func updateSet(first int) string {
	cols := []string{
		"relay_request_id", "origin_tx_hash", "dest_tx_hash", "order_id",
		"encrypted_signature", "filled_size", "avg_price", "error_code", "error_detail",
	}
	var b strings.Builder
	for i, c := range cols {
		fmt.Fprintf(&b, "%s = COALESCE($%d, %s), ", c, first+i, c)
	}
	b.WriteString("updated_at = NOW()")
	return b.String()
}

func updateArgs(u domain.IntentUpdate) []any {
	return []any{
		u.RelayRequestID, u.OriginTxHash, u.DestTxHash, u.OrderID, u.EncryptedSignature,
		nullableDecimal(u.FilledSize), nullableDecimal(u.AvgPrice),
		u.ErrorCode, u.ErrorDetail,
	}
}

func nullableDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}

// Transition performs a compare-and-set state change and appends event in
// the same transaction.
func (s *IntentStore) Transition(ctx context.Context, id string, from, to domain.IntentState, u domain.IntentUpdate, event domain.IntentEvent) (domain.TradeIntent, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.TradeIntent{}, fmt.Errorf("postgres: begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `UPDATE intents SET state = $3, ` + updateSet(4) + `
		WHERE id = $1 AND state = $2
		RETURNING ` + intentSelectCols
	args := append([]any{id, string(from), string(to)}, updateArgs(u)...)

	in, err := scanIntentFromRow(tx.QueryRow(ctx, query, args...))
	if err != nil {
		if !isNoRows(err) {
			return domain.TradeIntent{}, fmt.Errorf("postgres: transition intent %s: %w", id, err)
		}
		var exists bool
		if qerr := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM intents WHERE id = $1)`, id).Scan(&exists); qerr != nil {
			return domain.TradeIntent{}, fmt.Errorf("postgres: check intent %s: %w", id, qerr)
		}
		if !exists {
			return domain.TradeIntent{}, domain.ErrNotFound
		}
		return domain.TradeIntent{}, domain.ErrStateConflict
	}
	if err := insertEvent(ctx, tx, id, event); err != nil {
		return domain.TradeIntent{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.TradeIntent{}, fmt.Errorf("postgres: commit transition %s: %w", id, err)
	}
	return in, nil
}

// Patch updates fields without touching state. The event is appended only
// when it has a type.
func (s *IntentStore) Patch(ctx context.Context, id string, u domain.IntentUpdate, event domain.IntentEvent) (domain.TradeIntent, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.TradeIntent{}, fmt.Errorf("postgres: begin patch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `UPDATE intents SET ` + updateSet(2) + `
		WHERE id = $1
		RETURNING ` + intentSelectCols
	args := append([]any{id}, updateArgs(u)...)

	in, err := scanIntentFromRow(tx.QueryRow(ctx, query, args...))
	if err != nil {
		if isNoRows(err) {
			return domain.TradeIntent{}, domain.ErrNotFound
		}
		return domain.TradeIntent{}, fmt.Errorf("postgres: patch intent %s: %w", id, err)
	}
	if event.Type != "" {
		if err := insertEvent(ctx, tx, id, event); err != nil {
			return domain.TradeIntent{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.TradeIntent{}, fmt.Errorf("postgres: commit patch %s: %w", id, err)
	}
	return in, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, intentID string, e domain.IntentEvent) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("postgres: marshal event payload: %w", err)
	}
	if e.Payload == nil {
		payload = []byte("{}")
	}
	const query = `INSERT INTO intent_events (id, intent_id, type, payload) VALUES ($1, $2, $3, $4)`
	if _, err := tx.Exec(ctx, query, e.ID, intentID, e.Type, payload); err != nil {
		return fmt.Errorf("postgres: insert event for %s: %w", intentID, err)
	}
	return nil
}

// ListEvents returns the intent's events oldest first.
func (s *IntentStore) ListEvents(ctx context.Context, intentID string) ([]domain.IntentEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, intent_id, type, payload, created_at FROM intent_events
		 WHERE intent_id = $1 ORDER BY created_at, id`, intentID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []domain.IntentEvent
	for rows.Next() {
		var e domain.IntentEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.IntentID, &e.Type, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event payload: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return events, nil
}

// ListTerminal returns terminal intents updated inside the opts window.
func (s *IntentStore) ListTerminal(ctx context.Context, opts domain.ListOpts) ([]domain.TradeIntent, error) {
	query := `SELECT ` + intentSelectCols + ` FROM intents
		WHERE state IN ('FILLED', 'PARTIAL_FILL', 'FAILED', 'CANCELLED')`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND updated_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND updated_at < $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY updated_at, id"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal intents: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeIntent
	for rows.Next() {
		in, err := scanIntentFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan intent: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}
