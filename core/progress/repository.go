package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sikshyalaya/api/api/weberr"
)

func Fetch(ctx context.Context, db sqlx.ExtContext, userID, courseID string) (Progress, error) {
	const q = `SELECT * FROM course_progress WHERE user_id = $1 AND course_id = $2`

	var p Progress
	if err := sqlx.GetContext(ctx, db, &p, q, userID, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Progress{}, weberr.NotFound(err)
		}
		return Progress{}, fmt.Errorf("selecting progress of user[%s] course[%s]: %w", userID, courseID, err)
	}

	return p, nil
}

// CompleteLecture appends a lecture to the completed set. Appending an
// already completed lecture changes nothing.
func CompleteLecture(ctx context.Context, db sqlx.ExtContext, userID, courseID, lectureID string, now time.Time) error {
	const q = `
	UPDATE course_progress
	SET completed_lectures = array_append(completed_lectures, $3), updated_at = $4
	WHERE user_id = $1 AND course_id = $2 AND NOT ($3 = ANY (completed_lectures))`

	if _, err := db.ExecContext(ctx, q, userID, courseID, lectureID, now); err != nil {
		return fmt.Errorf("appending completed lecture: %w", err)
	}

	return nil
}
