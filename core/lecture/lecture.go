package lecture

import "time"

type Lecture struct {
	ID        string    `json:"id" db:"lecture_id"`
	CourseID  string    `json:"courseId" db:"course_id"`
	Index     int       `json:"index" db:"index"`
	Title     string    `json:"title" db:"title"`
	URL       string    `json:"url" db:"url"`
	Preview   bool      `json:"preview" db:"preview"`
	DurationS int       `json:"durationS" db:"duration_s"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
