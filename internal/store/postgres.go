package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/capgain/internal/model"
)

//go:embed schema.sql
var schema string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateSimulation(ctx context.Context, sim *model.Simulation) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO simulations (id, shares, average_price, accumulated_loss, created_at, updated_at)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6)`,
			sim.ID, sim.Wallet.Shares,
			sim.Wallet.AveragePrice.String(), sim.Wallet.AccumulatedLoss.String(),
			sim.CreatedAt, sim.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert simulation %s: %w", sim.ID, err)
		}
		return insertEntries(ctx, tx, sim.ID, sim.Entries)
	})
}

func (s *PostgresStore) GetSimulation(ctx context.Context, id string) (*model.Simulation, error) {
	var sim model.Simulation
	var avgS, lossS string

	err := s.pool.QueryRow(ctx,
		`SELECT id, shares, average_price::TEXT, accumulated_loss::TEXT, created_at, updated_at
		 FROM simulations WHERE id = $1`, id).
		Scan(&sim.ID, &sim.Wallet.Shares, &avgS, &lossS, &sim.CreatedAt, &sim.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get simulation %s: %w", id, err)
	}
	sim.Wallet.AveragePrice, _ = decimal.NewFromString(avgS)
	sim.Wallet.AccumulatedLoss, _ = decimal.NewFromString(lossS)

	rows, err := s.pool.Query(ctx,
		`SELECT seq, operation, unit_cost::TEXT, quantity, tax::TEXT, created_at
		 FROM simulation_entries WHERE simulation_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("get entries %s: %w", id, err)
	}
	defer rows.Close()

	sim.Entries, err = scanEntries(rows)
	if err != nil {
		return nil, fmt.Errorf("scan entries %s: %w", id, err)
	}
	return &sim, nil
}

func (s *PostgresStore) ListSimulations(ctx context.Context) ([]model.Simulation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, shares, average_price::TEXT, accumulated_loss::TEXT, created_at, updated_at
		 FROM simulations ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sims []model.Simulation
	for rows.Next() {
		var sim model.Simulation
		var avgS, lossS string
		if err := rows.Scan(&sim.ID, &sim.Wallet.Shares, &avgS, &lossS,
			&sim.CreatedAt, &sim.UpdatedAt); err != nil {
			return nil, err
		}
		sim.Wallet.AveragePrice, _ = decimal.NewFromString(avgS)
		sim.Wallet.AccumulatedLoss, _ = decimal.NewFromString(lossS)
		sims = append(sims, sim)
	}
	return sims, rows.Err()
}

// AppendEntries locks the simulation row so concurrent appends to the same
// simulation are serialized.
func (s *PostgresStore) AppendEntries(ctx context.Context, id string, wallet model.WalletState, entries []model.Entry) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var count int
		err := tx.QueryRow(ctx,
			`SELECT (SELECT COUNT(*) FROM simulation_entries WHERE simulation_id = s.id)
			 FROM simulations s WHERE s.id = $1 FOR UPDATE`, id).Scan(&count)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("lock simulation %s: %w", id, err)
		}

		for i, e := range entries {
			if e.Seq != count+1+i {
				return fmt.Errorf("%w: simulation %s: entry seq %d out of order, expected %d", ErrConflict, id, e.Seq, count+1+i)
			}
		}

		if err := insertEntries(ctx, tx, id, entries); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE simulations
			 SET shares = $2, average_price = $3::NUMERIC, accumulated_loss = $4::NUMERIC, updated_at = $5
			 WHERE id = $1`,
			id, wallet.Shares, wallet.AveragePrice.String(), wallet.AccumulatedLoss.String(),
			time.Now().UTC(),
		)
		return err
	})
}

func insertEntries(ctx context.Context, tx pgx.Tx, id string, entries []model.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO simulation_entries (simulation_id, seq, operation, unit_cost, quantity, tax, created_at)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6::NUMERIC, $7)`,
			id, e.Seq, string(e.Operation.Kind), e.Operation.UnitCost.String(),
			e.Operation.Quantity, e.Tax.String(), e.CreatedAt,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for range entries {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert entries %s: %w", id, err)
		}
	}
	return br.Close()
}

// pgxRows is the subset of pgx.Rows used by scanEntries.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanEntries(rows pgxRows) ([]model.Entry, error) {
	var entries []model.Entry
	for rows.Next() {
		var e model.Entry
		var kind, unitCostS, taxS string

		if err := rows.Scan(&e.Seq, &kind, &unitCostS, &e.Operation.Quantity,
			&taxS, &e.CreatedAt); err != nil {
			return nil, err
		}

		e.Operation.Kind = model.Kind(kind)
		e.Operation.UnitCost, _ = decimal.NewFromString(unitCostS)
		e.Tax, _ = decimal.NewFromString(taxS)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}
