package repository

import (
	"context"

	"pulse-dm/internal/domain/user"
)

type PostgresUserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) UserRepository {
	return &PostgresUserRepository{db: db}
}

// Upsert mirrors identity-provider profile fields into the users table.
func (r *PostgresUserRepository) Upsert(ctx context.Context, p user.Profile) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (id, username, first_name, last_name, avatar_url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			avatar_url = EXCLUDED.avatar_url,
			updated_at = NOW()
		WHERE (users.username, users.first_name, users.last_name, users.avatar_url)
			IS DISTINCT FROM (EXCLUDED.username, EXCLUDED.first_name, EXCLUDED.last_name, EXCLUDED.avatar_url)`,
		p.ID, p.Username, p.FirstName, p.LastName, p.AvatarURL)
	return err
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id string) (user.Profile, error) {
	var p user.Profile
	err := r.db.QueryRow(ctx,
		`SELECT id, username, first_name, last_name, avatar_url FROM users WHERE id = $1`, id).
		Scan(&p.ID, &p.Username, &p.FirstName, &p.LastName, &p.AvatarURL)
	if err != nil {
		return user.Profile{}, mapNoRows(err)
	}
	return p, nil
}

func (r *PostgresUserRepository) GetByIDs(ctx context.Context, ids []string) (map[string]user.Profile, error) {
	out := make(map[string]user.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, username, first_name, last_name, avatar_url FROM users WHERE id = ANY($1::text[])`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p user.Profile
		if err := rows.Scan(&p.ID, &p.Username, &p.FirstName, &p.LastName, &p.AvatarURL); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}
