package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"staybook/internal/domain"
	"staybook/internal/models"
)

const propertyColumns = `id, owner_id, agent_id, name, price_type, price, cleaning_fee, service_fee,
	security_deposit, currency, min_stay, max_stay, available_from, instant_book,
	cancellation_policy, is_active, created_at, updated_at`

func scanProperty(row scanner) (*models.Property, error) {
	var p models.Property
	var availableFrom sql.NullString
	err := row.Scan(
		&p.ID, &p.OwnerID, &p.AgentID, &p.Name, &p.PriceType, &p.Price, &p.CleaningFee, &p.ServiceFee,
		&p.SecurityDeposit, &p.Currency, &p.MinStay, &p.MaxStay, &availableFrom, &p.InstantBook,
		&p.CancellationPolicy, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if availableFrom.Valid && availableFrom.String != "" {
		d, err := models.ParseDate(availableFrom.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse available_from %s: %w", availableFrom.String, err)
		}
		p.AvailableFrom = &d
	}
	return &p, nil
}

func nullableDate(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatDate(*t)
}

func (db *DB) CreateProperty(ctx context.Context, p *models.Property) error {
	if p.PriceType == "" {
		p.PriceType = models.PriceNightly
	}
	now := time.Now()
	args := []interface{}{
		p.OwnerID, p.AgentID, p.Name, p.PriceType, p.Price, p.CleaningFee, p.ServiceFee,
		p.SecurityDeposit, p.Currency, p.MinStay, p.MaxStay, nullableDate(p.AvailableFrom), p.InstantBook,
		p.CancellationPolicy, p.IsActive, now, now,
	}

	query := `INSERT INTO properties (owner_id, agent_id, name, price_type, price, cleaning_fee, service_fee,
				security_deposit, currency, min_stay, max_stay, available_from, instant_book,
				cancellation_policy, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if p.ID != 0 {
		query = `INSERT INTO properties (id, owner_id, agent_id, name, price_type, price, cleaning_fee, service_fee,
				security_deposit, currency, min_stay, max_stay, available_from, instant_book,
				cancellation_policy, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		args = append([]interface{}{p.ID}, args...)
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to create property: %w", err)
	}
	if p.ID == 0 {
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		p.ID = id
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

func (db *DB) UpdateProperty(ctx context.Context, p *models.Property) error {
	query := `UPDATE properties SET owner_id = ?, agent_id = ?, name = ?, price_type = ?, price = ?,
				cleaning_fee = ?, service_fee = ?, security_deposit = ?, currency = ?, min_stay = ?,
				max_stay = ?, available_from = ?, instant_book = ?, cancellation_policy = ?, is_active = ?,
				updated_at = ?
			WHERE id = ?`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		p.OwnerID, p.AgentID, p.Name, p.PriceType, p.Price,
		p.CleaningFee, p.ServiceFee, p.SecurityDeposit, p.Currency, p.MinStay,
		p.MaxStay, nullableDate(p.AvailableFrom), p.InstantBook, p.CancellationPolicy, p.IsActive,
		now, p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update property: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("property %d: %w", p.ID, domain.ErrNotFound)
	}
	p.UpdatedAt = now
	return nil
}

func (db *DB) GetProperty(ctx context.Context, id int64) (*models.Property, error) {
	query := `SELECT ` + propertyColumns + ` FROM properties WHERE id = ?`
	p, err := scanProperty(db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "property", id)
	}
	return p, nil
}

func (db *DB) ListProperties(ctx context.Context, activeOnly bool) ([]*models.Property, error) {
	query := `SELECT ` + propertyColumns + ` FROM properties`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY id`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list properties: %w", err)
	}
	defer rows.Close()

	var properties []*models.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan property: %w", err)
		}
		properties = append(properties, p)
	}
	return properties, rows.Err()
}

// SyncProperties upserts a seed catalog by id.
func (db *DB) SyncProperties(ctx context.Context, properties []*models.Property) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `INSERT INTO properties (id, owner_id, agent_id, name, price_type, price, cleaning_fee, service_fee,
				security_deposit, currency, min_stay, max_stay, available_from, instant_book,
				cancellation_policy, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				owner_id = excluded.owner_id,
				agent_id = excluded.agent_id,
				name = excluded.name,
				price_type = excluded.price_type,
				price = excluded.price,
				cleaning_fee = excluded.cleaning_fee,
				service_fee = excluded.service_fee,
				security_deposit = excluded.security_deposit,
				currency = excluded.currency,
				min_stay = excluded.min_stay,
				max_stay = excluded.max_stay,
				available_from = excluded.available_from,
				instant_book = excluded.instant_book,
				cancellation_policy = excluded.cancellation_policy,
				is_active = excluded.is_active,
				updated_at = excluded.updated_at`

	now := time.Now()
	for _, p := range properties {
		priceType := p.PriceType
		if priceType == "" {
			priceType = models.PriceNightly
		}
		_, err := tx.ExecContext(ctx, query,
			p.ID, p.OwnerID, p.AgentID, p.Name, priceType, p.Price, p.CleaningFee, p.ServiceFee,
			p.SecurityDeposit, p.Currency, p.MinStay, p.MaxStay, nullableDate(p.AvailableFrom), p.InstantBook,
			p.CancellationPolicy, p.IsActive, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to sync property %d: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit property sync: %w", err)
	}
	db.logger.Info().Int("count", len(properties)).Msg("Properties synced")
	return nil
}
