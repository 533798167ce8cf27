package repository

import "context"

type PostgresFollowRepository struct {
	db DBTX
}

func NewFollowRepository(db DBTX) FollowRepository {
	return &PostgresFollowRepository{db: db}
}

func (r *PostgresFollowRepository) Follow(ctx context.Context, followerID, followeeID string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO follows (follower_id, followee_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		followerID, followeeID)
	return err
}

func (r *PostgresFollowRepository) Unfollow(ctx context.Context, followerID, followeeID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM follows WHERE follower_id = $1 AND followee_id = $2`, followerID, followeeID)
	return err
}

// IsMutual reports whether a follows b and b follows a.
func (r *PostgresFollowRepository) IsMutual(ctx context.Context, a, b string) (bool, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM follows
		WHERE (follower_id = $1 AND followee_id = $2)
		   OR (follower_id = $2 AND followee_id = $1)`, a, b).Scan(&n)
	if err != nil {
		return false, err
	}
	return n == 2, nil
}
