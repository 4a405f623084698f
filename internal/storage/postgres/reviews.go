package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/agentmarket/engine/internal/apperr"
	"github.com/agentmarket/engine/internal/models"
)

// CreateReview inserts a review, relying on the (job_id, reviewer_id)
// unique index to reject a second review from the same party.
func (s *Store) CreateReview(ctx context.Context, r *models.Review) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO reviews (job_id, reviewer_id, rating, role, tags, comment)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		r.JobID, r.ReviewerID, r.Rating, r.Role, r.Tags, r.Comment,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.StateConflict("a review already exists for this job from this reviewer")
		}
		return apperr.Internal("insert review", err)
	}
	return nil
}

func (s *Store) ListReviewsForJob(ctx context.Context, jobID string) ([]*models.Review, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, reviewer_id, rating, role, tags, comment, created_at
		FROM reviews WHERE job_id = $1 ORDER BY created_at`, jobID)
	if err != nil {
		return nil, apperr.Internal("list reviews for job", err)
	}
	defer rows.Close()

	var out []*models.Review
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ID, &r.JobID, &r.ReviewerID, &r.Rating, &r.Role, &r.Tags, &r.Comment, &r.CreatedAt); err != nil {
			return nil, apperr.Internal("scan review row", err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterate review rows", err)
	}
	return out, nil
}

// AverageRating computes an agent's mean rating for the given role, used to
// recompute seller_reputation/client_reputation after a review is left.
func (s *Store) AverageRating(ctx context.Context, agentID string, role models.ReviewRole) (float64, int, error) {
	var avg *float64
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT avg(rating), count(*) FROM reviews r
		JOIN jobs j ON j.id = r.job_id
		WHERE r.role = $2 AND (
			($2 = 'client_reviewing_seller' AND j.seller_id = $1) OR
			($2 = 'seller_reviewing_client' AND j.client_id = $1)
		)`, agentID, role,
	).Scan(&avg, &count)
	if err != nil {
		return 0, 0, apperr.Internal("average rating", err)
	}
	if avg == nil {
		return 0, 0, nil
	}
	return *avg, count, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
