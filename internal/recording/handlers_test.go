package recording

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
)

func TestRecordingHandlers(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT id, started_at, ended_at`).
		WithArgs("session-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "started_at", "ended_at", "dist", "points"}).
			AddRow("session-1", now.Add(-time.Minute), now, 50.0, 3))
	mock.ExpectQuery(`SELECT lat, lng`).
		WithArgs("session-1").
		WillReturnRows(pgxmock.NewRows([]string{"lat", "lng", "accuracy_m", "captured_at"}).AddRow(40.0, -74.0, 5.0, now))
	mock.ExpectQuery(`SELECT id, started_at, ended_at`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT lat, lng`).
		WithArgs("broken").
		WillReturnError(errRecord)

	app := fiber.New()
	RegisterRoutes(app.Group("/sessions"), NewService(mock))

	cases := []struct {
		path string
		want int
	}{
		{"/sessions/session-1/summary", http.StatusOK},
		{"/sessions/session-1/points", http.StatusOK},
		{"/sessions/missing/summary", http.StatusNotFound},
		{"/sessions/broken/points", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, tc.path, nil))
		if err != nil {
			t.Fatalf("%s: %v", tc.path, err)
		}
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: status %d, want %d", tc.path, resp.StatusCode, tc.want)
		}
	}
}
