package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sikshyalaya/api/api/weberr"
)

func Fetch(ctx context.Context, db sqlx.ExtContext, id string) (User, error) {
	const q = `SELECT * FROM users WHERE user_id = $1`

	var u User
	if err := sqlx.GetContext(ctx, db, &u, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, weberr.NotFound(err)
		}
		return User{}, fmt.Errorf("selecting user[%s]: %w", id, err)
	}

	return u, nil
}

func Create(ctx context.Context, db sqlx.ExtContext, u User) error {
	const q = `
	INSERT INTO users (user_id, name, email, phone, image_url, role, created_at, updated_at)
	VALUES (:user_id, :name, :email, :phone, :image_url, :role, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, u); err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}

	return nil
}
