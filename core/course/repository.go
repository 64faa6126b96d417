package course

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sikshyalaya/api/api/weberr"
)

func Fetch(ctx context.Context, db sqlx.ExtContext, id string) (Course, error) {
	const q = `SELECT * FROM courses WHERE course_id = $1`

	var c Course
	if err := sqlx.GetContext(ctx, db, &c, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Course{}, weberr.NotFound(err)
		}
		return Course{}, fmt.Errorf("selecting course[%s]: %w", id, err)
	}

	return c, nil
}

func ListPublished(ctx context.Context, db sqlx.ExtContext) ([]Course, error) {
	const q = `SELECT * FROM courses WHERE published ORDER BY created_at DESC`

	var cs []Course
	if err := sqlx.SelectContext(ctx, db, &cs, q); err != nil {
		return nil, fmt.Errorf("selecting published courses: %w", err)
	}

	return cs, nil
}

func Create(ctx context.Context, db sqlx.ExtContext, c Course) error {
	const q = `
	INSERT INTO courses
		(course_id, educator_id, title, description, image_url, price, discount, published, created_at, updated_at, version)
	VALUES
		(:course_id, :educator_id, :title, :description, :image_url, :price, :discount, :published, :created_at, :updated_at, 1)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, c); err != nil {
		return fmt.Errorf("inserting course: %w", err)
	}

	return nil
}

// ListEnrolled returns the courses a user is enrolled in.
func ListEnrolled(ctx context.Context, db sqlx.ExtContext, userID string) ([]Course, error) {
	const q = `
	SELECT c.* FROM courses AS c
	JOIN enrollments AS e ON e.course_id = c.course_id
	WHERE e.user_id = $1
	ORDER BY e.created_at`

	var cs []Course
	if err := sqlx.SelectContext(ctx, db, &cs, q, userID); err != nil {
		return nil, fmt.Errorf("selecting enrolled courses: %w", err)
	}

	return cs, nil
}

// UpsertRating records or replaces the caller's rating for a course.
func UpsertRating(ctx context.Context, db sqlx.ExtContext, rt Rating) error {
	const q = `
	INSERT INTO course_ratings (course_id, user_id, rating, created_at, updated_at)
	VALUES (:course_id, :user_id, :rating, :created_at, :updated_at)
	ON CONFLICT (course_id, user_id)
	DO UPDATE SET rating = EXCLUDED.rating, updated_at = EXCLUDED.updated_at`

	if _, err := sqlx.NamedExecContext(ctx, db, q, rt); err != nil {
		return fmt.Errorf("upserting rating: %w", err)
	}

	return nil
}
