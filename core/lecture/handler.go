package lecture

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/sikshyalaya/api/api/web"
	"github.com/sikshyalaya/api/api/weberr"
	"github.com/sikshyalaya/api/core/claims"
	"github.com/sikshyalaya/api/core/enrollment"
	"github.com/sikshyalaya/api/validate"
)

// HandleListByCourse lists a course's lectures. Video URLs are blanked
// unless the lecture is a free preview or the caller is enrolled.
func HandleListByCourse(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		courseID := web.Param(r, "course_id")
		if err := validate.CheckID(courseID); err != nil {
			return weberr.BadRequest(err)
		}

		ls, err := ListByCourse(ctx, db, courseID)
		if err != nil {
			return fmt.Errorf("listing lectures: %w", err)
		}

		enrolled := false
		if clm, err := claims.Get(ctx); err == nil {
			enrolled, err = enrollment.Exists(ctx, db, clm.UserID, courseID)
			if err != nil {
				return fmt.Errorf("checking enrollment: %w", err)
			}
		}

		if !enrolled {
			for i := range ls {
				if !ls[i].Preview {
					ls[i].URL = ""
				}
			}
		}

		if ls == nil {
			ls = []Lecture{}
		}

		return web.Respond(ctx, w, ls, http.StatusOK)
	}
}
