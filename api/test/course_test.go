package test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sikshyalaya/api/core/enrollment"
	"github.com/sikshyalaya/api/core/lecture"
	"github.com/sikshyalaya/api/validate"
)

func (e *TestEnv) seedLectures(t *testing.T) []lecture.Lecture {
	t.Helper()

	now := time.Now().UTC()
	ls := []lecture.Lecture{
		{
			ID:        validate.GenerateID(),
			CourseID:  e.Course.ID,
			Index:     1,
			Title:     "Welcome",
			URL:       "https://videos.test/welcome.mp4",
			Preview:   true,
			DurationS: 120,
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:        validate.GenerateID(),
			CourseID:  e.Course.ID,
			Index:     2,
			Title:     "Goroutines",
			URL:       "https://videos.test/goroutines.mp4",
			DurationS: 840,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}

	for _, l := range ls {
		if err := lecture.Create(context.Background(), e.DB, l); err != nil {
			t.Fatalf("seeding lecture: %v", err)
		}
	}
	return ls
}

func TestLectureURLsGatedByEnrollment(t *testing.T) {
	env, err := NewTestEnv(t, "lecture_gating")
	if err != nil {
		t.Fatal(err)
	}

	env.seedLectures(t)

	list := func(token string) []lecture.Lecture {
		resp, raw := env.request(t, http.MethodGet, "/courses/"+env.Course.ID+"/lectures", token, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("listing lectures status = %d, body %s", resp.StatusCode, raw)
		}

		var ls []lecture.Lecture
		if err := json.Unmarshal(raw, &ls); err != nil {
			t.Fatal(err)
		}
		return ls
	}

	// Anonymous callers see the outline but only preview URLs.
	got := list("")
	if len(got) != 2 {
		t.Fatalf("lectures = %d, want 2", len(got))
	}
	if got[0].URL == "" {
		t.Fatal("preview lecture must keep its url")
	}
	if got[1].URL != "" {
		t.Fatalf("non-preview url leaked to anonymous caller: %q", got[1].URL)
	}

	// Same for authenticated but not enrolled.
	got = list(env.Token(t, env.Student))
	if got[1].URL != "" {
		t.Fatalf("non-preview url leaked to unenrolled caller: %q", got[1].URL)
	}

	if err := enrollment.Grant(context.Background(), env.DB, env.Student.ID, env.Course.ID); err != nil {
		t.Fatalf("granting enrollment: %v", err)
	}

	got = list(env.Token(t, env.Student))
	if got[1].URL == "" {
		t.Fatal("enrolled caller must see all lecture urls")
	}
}

func TestProgressFlow(t *testing.T) {
	env, err := NewTestEnv(t, "progress_flow")
	if err != nil {
		t.Fatal(err)
	}

	ls := env.seedLectures(t)
	token := env.Token(t, env.Student)
	path := "/courses/" + env.Course.ID + "/progress"

	// No enrollment means no progress row.
	resp, _ := env.request(t, http.MethodGet, path, token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("progress before enrollment status = %d, want 404", resp.StatusCode)
	}

	if err := enrollment.Grant(context.Background(), env.DB, env.Student.ID, env.Course.ID); err != nil {
		t.Fatalf("granting enrollment: %v", err)
	}

	fetch := func() []string {
		resp, raw := env.request(t, http.MethodGet, path, token, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("fetching progress status = %d, body %s", resp.StatusCode, raw)
		}

		var p struct {
			CompletedLectures []string `json:"completedLectures"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			t.Fatal(err)
		}
		return p.CompletedLectures
	}

	if done := fetch(); len(done) != 0 {
		t.Fatalf("fresh progress = %v, want empty", done)
	}

	complete := func(lectureID string) {
		resp, raw := env.request(t, http.MethodPut, path, token, map[string]string{"lectureId": lectureID})
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("completing lecture status = %d, body %s", resp.StatusCode, raw)
		}
	}

	complete(ls[0].ID)
	complete(ls[1].ID)

	// Re-completing an already completed lecture must not duplicate it.
	complete(ls[0].ID)

	want := []string{ls[0].ID, ls[1].ID}
	if diff := cmp.Diff(want, fetch()); diff != "" {
		t.Fatalf("completed lectures mismatch (-want +got):\n%s", diff)
	}
}

func TestRatingRequiresEnrollment(t *testing.T) {
	env, err := NewTestEnv(t, "rating_enrollment")
	if err != nil {
		t.Fatal(err)
	}

	token := env.Token(t, env.Student)
	path := "/courses/" + env.Course.ID + "/ratings"

	resp, raw := env.request(t, http.MethodPost, path, token, map[string]int{"rating": 5})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("rating without enrollment status = %d, want 403, body %s", resp.StatusCode, raw)
	}

	if err := enrollment.Grant(context.Background(), env.DB, env.Student.ID, env.Course.ID); err != nil {
		t.Fatalf("granting enrollment: %v", err)
	}

	resp, raw = env.request(t, http.MethodPost, path, token, map[string]int{"rating": 5})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("rating status = %d, want 204, body %s", resp.StatusCode, raw)
	}

	// Rating again revises instead of duplicating.
	resp, raw = env.request(t, http.MethodPost, path, token, map[string]int{"rating": 3})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("revised rating status = %d, want 204, body %s", resp.StatusCode, raw)
	}

	var n int
	const q = `SELECT COUNT(*) FROM course_ratings WHERE course_id = $1 AND user_id = $2`
	if err := env.DB.Get(&n, q, env.Course.ID, env.Student.ID); err != nil {
		t.Fatalf("counting ratings: %v", err)
	}
	if n != 1 {
		t.Fatalf("ratings = %d, want 1", n)
	}

	var stored int
	const q2 = `SELECT rating FROM course_ratings WHERE course_id = $1 AND user_id = $2`
	if err := env.DB.Get(&stored, q2, env.Course.ID, env.Student.ID); err != nil {
		t.Fatalf("fetching rating: %v", err)
	}
	if stored != 3 {
		t.Fatalf("stored rating = %d, want the revised value 3", stored)
	}
}
