package course

import "time"

type Course struct {
	ID          string    `json:"id" db:"course_id"`
	EducatorID  string    `json:"educatorId" db:"educator_id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`
	ImageURL    string    `json:"imageUrl" db:"image_url"`
	Price       float64   `json:"price" db:"price"`
	Discount    float64   `json:"discount" db:"discount"`
	Published   bool      `json:"published" db:"published"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
	Version     int       `json:"-" db:"version"`
}

type Rating struct {
	CourseID  string    `json:"courseId" db:"course_id"`
	UserID    string    `json:"userId" db:"user_id"`
	Rating    int       `json:"rating" db:"rating"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

type RatingNew struct {
	Rating int `json:"rating" validate:"required,gte=1,lte=5"`
}
