package progress

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sikshyalaya/api/api/web"
	"github.com/sikshyalaya/api/api/weberr"
	"github.com/sikshyalaya/api/core/claims"
	"github.com/sikshyalaya/api/validate"
)

func HandleShow(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		courseID := web.Param(r, "course_id")
		if err := validate.CheckID(courseID); err != nil {
			return weberr.BadRequest(err)
		}

		p, err := Fetch(ctx, db, clm.UserID, courseID)
		if err != nil {
			return fmt.Errorf("fetching progress: %w", err)
		}

		return web.Respond(ctx, w, p, http.StatusOK)
	}
}

func HandleCompleteLecture(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		courseID := web.Param(r, "course_id")
		if err := validate.CheckID(courseID); err != nil {
			return weberr.BadRequest(err)
		}

		var ld LectureDone
		if err := web.Decode(w, r, &ld); err != nil {
			return weberr.BadRequest(fmt.Errorf("decoding lecture completion: %w", err))
		}

		if err := validate.Check(ld); err != nil {
			return weberr.Validation(err)
		}

		// The progress row exists only for enrolled users, so a missing
		// row falls out of the fetch below as a 404.
		if _, err := Fetch(ctx, db, clm.UserID, courseID); err != nil {
			return fmt.Errorf("fetching progress: %w", err)
		}

		if err := CompleteLecture(ctx, db, clm.UserID, courseID, ld.LectureID, time.Now().UTC()); err != nil {
			return fmt.Errorf("completing lecture[%s]: %w", ld.LectureID, err)
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}
