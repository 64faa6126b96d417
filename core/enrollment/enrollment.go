// Package enrollment grants and queries course access. Grant is the
// only write path: it is invoked by payment reconciliation once a
// purchase settles and must stay idempotent, since the same settlement
// can be delivered more than once.
package enrollment

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sikshyalaya/api/database"
)

type Enrollment struct {
	CourseID  string    `json:"courseId" db:"course_id"`
	UserID    string    `json:"userId" db:"user_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Grant enrolls a user into a course and creates the empty progress
// row. Both inserts are set-inserts: re-running a partially applied or
// duplicated grant completes it without side effects.
func Grant(ctx context.Context, db *sqlx.DB, userID string, courseID string) error {
	err := database.Transaction(db, func(tx sqlx.ExtContext) error {
		now := time.Now().UTC()

		if err := insert(ctx, tx, userID, courseID, now); err != nil {
			return fmt.Errorf("inserting enrollment: %w", err)
		}

		if err := initProgress(ctx, tx, userID, courseID, now); err != nil {
			return fmt.Errorf("initializing progress: %w", err)
		}

		return nil
	})

	if err != nil {
		return fmt.Errorf("granting course[%s] to user[%s]: %w", courseID, userID, err)
	}
	return nil
}

func insert(ctx context.Context, db sqlx.ExtContext, userID, courseID string, now time.Time) error {
	const q = `
	INSERT INTO enrollments (course_id, user_id, created_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (course_id, user_id) DO NOTHING`

	_, err := db.ExecContext(ctx, q, courseID, userID, now)
	return err
}

func initProgress(ctx context.Context, db sqlx.ExtContext, userID, courseID string, now time.Time) error {
	const q = `
	INSERT INTO course_progress (user_id, course_id, completed_lectures, created_at, updated_at)
	VALUES ($1, $2, '{}', $3, $3)
	ON CONFLICT (user_id, course_id) DO NOTHING`

	_, err := db.ExecContext(ctx, q, userID, courseID, now)
	return err
}

// Exists reports whether the user is enrolled in the course.
func Exists(ctx context.Context, db sqlx.ExtContext, userID string, courseID string) (bool, error) {
	const q = `SELECT COUNT(*) FROM enrollments WHERE user_id = $1 AND course_id = $2`

	var n int
	if err := sqlx.GetContext(ctx, db, &n, q, userID, courseID); err != nil {
		return false, fmt.Errorf("counting enrollments: %w", err)
	}

	return n > 0, nil
}

// Students returns the ids of every user enrolled in a course.
func Students(ctx context.Context, db sqlx.ExtContext, courseID string) ([]string, error) {
	const q = `SELECT user_id FROM enrollments WHERE course_id = $1 ORDER BY created_at`

	var ids []string
	if err := sqlx.SelectContext(ctx, db, &ids, q, courseID); err != nil {
		return nil, fmt.Errorf("selecting enrolled students: %w", err)
	}

	return ids, nil
}
