package course

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
	"github.com/sikshyalaya/api/core/enrollment"
	"github.com/sikshyalaya/api/validate"
)

func HandleList(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		cs, err := ListPublished(ctx, db)
		if err != nil {
			return fmt.Errorf("listing courses: %w", err)
		}

		if cs == nil {
			cs = []Course{}
		}

		return web.Respond(ctx, w, cs, http.StatusOK)
	}
}

func HandleShow(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.BadRequest(err)
		}

		c, err := Fetch(ctx, db, id)
		if err != nil {
			return fmt.Errorf("fetching course[%s]: %w", id, err)
		}

		return web.Respond(ctx, w, c, http.StatusOK)
	}
}

// HandleCreateRating records the caller's rating. Only enrolled
// students may rate a course.
func HandleCreateRating(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		courseID := web.Param(r, "id")
		if err := validate.CheckID(courseID); err != nil {
			return weberr.BadRequest(err)
		}

		var rn RatingNew
		if err := web.Decode(w, r, &rn); err != nil {
			return weberr.BadRequest(fmt.Errorf("decoding rating: %w", err))
		}

		if err := validate.Check(rn); err != nil {
			return weberr.Validation(err)
		}

		enrolled, err := enrollment.Exists(ctx, db, clm.UserID, courseID)
		if err != nil {
			return fmt.Errorf("checking enrollment: %w", err)
		}
		if !enrolled {
			err := errors.New("user has not purchased this course")
			return weberr.NewError(err, err.Error(), http.StatusForbidden)
		}

		now := time.Now().UTC()
		rt := Rating{
			CourseID:  courseID,
			UserID:    clm.UserID,
			Rating:    rn.Rating,
			CreatedAt: now,
			UpdatedAt: now,
		}

		if err := UpsertRating(ctx, db, rt); err != nil {
			return fmt.Errorf("rating course[%s]: %w", courseID, err)
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}
