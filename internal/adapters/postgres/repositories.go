package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"devintel/internal/domain"
	"devintel/internal/ports"
)

var signalColumns = []string{"profile_id", "position", "model", "version", "score", "label", "attributes"}

// ProfileRepository

func (db *DB) Save(ctx context.Context, p domain.Profile, siteDomain string) error {
	return db.inTx(ctx, func(tx pgx.Tx) error {
		return saveProfile(ctx, tx, p, siteDomain)
	})
}

func (db *DB) SaveForScoring(ctx context.Context, p domain.Profile, siteDomain string) (jobID string, err error) {
	err = db.inTx(ctx, func(tx pgx.Tx) error {
		if err := saveProfile(ctx, tx, p, siteDomain); err != nil {
			return err
		}
		jobID, err = enqueueJob(ctx, tx, p.ID)
		return err
	})
	if err != nil {
		return "", err
	}
	return jobID, nil
}

// inTx runs fn in a transaction, committing only when fn succeeds.
func (db *DB) inTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()
	return fn(tx)
}

func saveProfile(ctx context.Context, tx pgx.Tx, p domain.Profile, siteDomain string) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO profiles (id, site_id, site_domain, funnel, client_id, interaction_attributes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			site_id = EXCLUDED.site_id,
			site_domain = EXCLUDED.site_domain,
			funnel = EXCLUDED.funnel,
			client_id = EXCLUDED.client_id,
			interaction_attributes = EXCLUDED.interaction_attributes,
			updated_at = now()
	`, p.ID, p.SiteID, siteDomain, p.Funnel, p.ClientID, p.InteractionAttributes); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM profile_signals WHERE profile_id = $1`, p.ID); err != nil {
		return err
	}
	if len(p.Signals) == 0 {
		return nil
	}
	_, err := tx.CopyFrom(ctx, pgx.Identifier{"profile_signals"}, signalColumns,
		pgx.CopyFromSlice(len(p.Signals), func(i int) ([]any, error) {
			s := p.Signals[i]
			return []any{p.ID, i, s.Model, s.Version, s.Score, s.Label, s.Attributes}, nil
		}))
	return err
}

func (db *DB) Get(ctx context.Context, id string) (domain.Profile, error) {
	var p domain.Profile
	err := db.Pool.QueryRow(ctx, `
		SELECT id, site_id, funnel, client_id, interaction_attributes
		FROM profiles WHERE id = $1
	`, id).Scan(&p.ID, &p.SiteID, &p.Funnel, &p.ClientID, &p.InteractionAttributes)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, ports.ErrNotFound
	}
	if err != nil {
		return p, err
	}
	signals, err := db.signalsFor(ctx, []string{id})
	if err != nil {
		return p, err
	}
	p.Signals = signals[id]
	return p, nil
}

func (db *DB) ListBySite(ctx context.Context, siteDomain string, limit, offset int) ([]domain.Profile, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, site_id, funnel, client_id, interaction_attributes
		FROM profiles
		WHERE site_domain = $1
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3
	`, siteDomain, limit, offset)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Profile, error) {
		var p domain.Profile
		err := row.Scan(&p.ID, &p.SiteID, &p.Funnel, &p.ClientID, &p.InteractionAttributes)
		return p, err
	})
	if err != nil || len(out) == 0 {
		return out, err
	}
	ids := make([]string, len(out))
	for i, p := range out {
		ids[i] = p.ID
	}
	signals, err := db.signalsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Signals = signals[out[i].ID]
	}
	return out, nil
}

func (db *DB) signalsFor(ctx context.Context, ids []string) (map[string][]domain.Signal, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT profile_id, model, version, score, label, attributes
		FROM profile_signals
		WHERE profile_id = ANY($1)
		ORDER BY profile_id, position
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]domain.Signal, len(ids))
	for rows.Next() {
		var profileID string
		var s domain.Signal
		if err := rows.Scan(&profileID, &s.Model, &s.Version, &s.Score, &s.Label, &s.Attributes); err != nil {
			return nil, err
		}
		out[profileID] = append(out[profileID], s)
	}
	return out, rows.Err()
}

func (db *DB) ReplaceSignal(ctx context.Context, profileID string, s domain.Signal) (err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	var exists int
	err = tx.QueryRow(ctx, `SELECT 1 FROM profiles WHERE id = $1 FOR UPDATE`, profileID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return ports.ErrNotFound
	}
	if err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `DELETE FROM profile_signals WHERE profile_id = $1 AND model = $2`, profileID, s.Model); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO profile_signals (profile_id, position, model, version, score, label, attributes)
		SELECT $1::text, COALESCE(MAX(position), -1) + 1, $2::text, $3::text, $4::float8, $5::text, $6::text
		FROM profile_signals WHERE profile_id = $1
	`, profileID, s.Model, s.Version, s.Score, s.Label, s.Attributes)
	return err
}

// KeyRepository

func (db *DB) Insert(ctx context.Context, key, clientID string) error {
	_, err := db.Pool.Exec(ctx, `INSERT INTO api_keys (key, client_id) VALUES ($1, $2)`, key, clientID)
	return err
}

func (db *DB) Lookup(ctx context.Context, key string) (ports.APIKey, error) {
	var k ports.APIKey
	err := db.Pool.QueryRow(ctx, `
		SELECT key, client_id, created_at, revoked_at FROM api_keys WHERE key = $1
	`, key).Scan(&k.Key, &k.ClientID, &k.CreatedAt, &k.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return k, ports.ErrNotFound
	}
	return k, err
}

func (db *DB) Revoke(ctx context.Context, key string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE api_keys SET revoked_at = COALESCE(revoked_at, now()) WHERE key = $1
	`, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}
