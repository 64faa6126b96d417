package progress

import (
	"time"

	"github.com/lib/pq"
)

// Progress tracks which lectures of a course a user has completed. The
// row is created empty when enrollment is granted.
type Progress struct {
	UserID            string         `json:"userId" db:"user_id"`
	CourseID          string         `json:"courseId" db:"course_id"`
	CompletedLectures pq.StringArray `json:"completedLectures" db:"completed_lectures"`
	CreatedAt         time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time      `json:"updatedAt" db:"updated_at"`
}

type LectureDone struct {
	LectureID string `json:"lectureId" validate:"required,uuid"`
}
