package lecture

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

func ListByCourse(ctx context.Context, db sqlx.ExtContext, courseID string) ([]Lecture, error) {
	const q = `SELECT * FROM lectures WHERE course_id = $1 ORDER BY index`

	var ls []Lecture
	if err := sqlx.SelectContext(ctx, db, &ls, q, courseID); err != nil {
		return nil, fmt.Errorf("selecting lectures of course[%s]: %w", courseID, err)
	}

	return ls, nil
}

func Create(ctx context.Context, db sqlx.ExtContext, l Lecture) error {
	const q = `
	INSERT INTO lectures (lecture_id, course_id, index, title, url, preview, duration_s, created_at, updated_at)
	VALUES (:lecture_id, :course_id, :index, :title, :url, :preview, :duration_s, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, l); err != nil {
		return fmt.Errorf("inserting lecture: %w", err)
	}

	return nil
}
