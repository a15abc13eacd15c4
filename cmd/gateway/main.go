package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	api "github.com/examdesk/examdesk/internal/api/http"
	auth "github.com/examdesk/examdesk/internal/auth/middleware"
	"github.com/examdesk/examdesk/internal/config"
	"github.com/examdesk/examdesk/internal/db"
	"github.com/examdesk/examdesk/internal/exam"
	"github.com/examdesk/examdesk/internal/grading"
	"github.com/examdesk/examdesk/internal/journal"
	"github.com/examdesk/examdesk/internal/lifecycle"
	"github.com/examdesk/examdesk/internal/rbac"
	"github.com/examdesk/examdesk/internal/workflow"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func main() {
	cfg := config.FromEnv()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}

	if err := seedAdmin(ctx, dbh, cfg.AdminUser, cfg.AdminPassHash); err != nil {
		log.Fatalf("seed admin: %v", err)
	}

	grader := grading.NewDefaultGrader()
	store := exam.NewSQLStore(dbh, cfg.DBDriver, grader)
	rec := journal.NewRepo(dbh)
	svc := workflow.NewService(store, grader, rec)

	authSvc := auth.NewAuthService(cfg.AuthSecret)

	// --- Lifecycle sweeps: exam open/close and attempt expiry ---
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go lifecycle.NewSweeper(store, rec).Run(sweepCtx, cfg.ExamSweepEvery, cfg.AttemptSweepEvery)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", auth.LoginHandler(authSvc, dbh))

	// Protected API (JWT → subject+role in context → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))

		// Exams
		pr.With(rbac.Require("exam:list")).
			Get("/exams", api.ListExamsHandler(store))
		pr.With(rbac.Require("exam:create")).
			Post("/exams", api.CreateExamHandler(svc))
		pr.With(rbac.Require("exam:list")).
			Get("/exams/{examID}", api.GetExamHandler(store))
		pr.With(rbac.Require("exam:edit")).
			Put("/exams/{examID}", api.UpdateExamHandler(svc))
		pr.With(rbac.Require("exam:delete")).
			Delete("/exams/{examID}", api.DeleteExamHandler(svc))

		// Authoring
		pr.With(rbac.Require("question:edit")).
			Post("/exams/{examID}/questions", api.AddQuestionHandler(svc))
		pr.With(rbac.Require("question:edit")).
			Delete("/exams/{examID}/questions/{questionID}", api.RemoveQuestionHandler(svc))
		pr.With(rbac.Require("exam:edit")).
			Post("/exams/{examID}/ready", api.MarkReadyHandler(svc))
		pr.With(rbac.Require("exam:edit")).
			Post("/exams/{examID}/schedule", api.ScheduleExamHandler(svc))

		// Enrollment
		pr.With(rbac.Require("exam:enroll")).
			Post("/exams/{examID}/enrollments", api.EnrollStudentHandler(svc))
		pr.With(rbac.Require("exam:enroll")).
			Get("/exams/{examID}/enrollments", api.ListEnrollmentsHandler(store))

		// Student flow
		pr.With(rbac.Require("attempt:start")).
			Post("/attempts", api.StartAttemptHandler(store))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts/{attemptID}", api.GetAttemptHandler(store))
		pr.With(rbac.Require("attempt:view-own")).
			Get("/attempts/{attemptID}/session", api.SessionViewHandler(store))
		pr.With(rbac.Require("attempt:save")).
			Post("/attempts/{attemptID}/answers", api.SaveAnswerHandler(store))
		pr.With(rbac.Require("attempt:view-own")).
			Get("/attempts/{attemptID}/remaining", api.RemainingTimeHandler(store))
		pr.With(rbac.Require("attempt:submit")).
			Post("/attempts/{attemptID}/submit", api.SubmitAttemptHandler(store))

		// Grading and publication
		pr.With(rbac.Require("attempt:view-all")).
			Get("/exams/{examID}/attempts", api.ListAttemptsHandler(store))
		pr.With(rbac.Require("attempt:grade")).
			Get("/exams/{examID}/grading", api.NeedsGradingHandler(svc))
		pr.With(rbac.Require("attempt:grade")).
			Post("/attempts/{attemptID}/grades", api.GradeEssayHandler(svc))
		pr.With(rbac.Require("attempt:grade")).
			Delete("/attempts/{attemptID}/grades/{questionID}", api.UndoGradeHandler(svc))
		pr.With(rbac.Require("attempt:grade")).
			Post("/exams/{examID}/autograde", api.AutoGradeHandler(svc))
		pr.With(rbac.Require("attempt:grade")).
			Post("/exams/{examID}/finalize", api.ComputeFinalHandler(svc))
		pr.With(rbac.Require("scores:publish")).
			Post("/exams/{examID}/publish", api.PublishScoresHandler(svc))
		pr.With(rbac.Require("scores:publish")).
			Post("/exams/{examID}/hide", api.HideScoresHandler(svc))

		// Results (student-facing, gated on publication)
		pr.With(rbac.Require("result:view-own")).
			Get("/exams/{examID}/result", api.StudentResultHandler(svc))

		// Users and admin surfaces
		pr.With(rbac.Require("user:change_password")).
			Post("/users/password", api.ChangePasswordHandler(dbh))
		pr.With(rbac.Require("user:admin")).
			Post("/admin/users", api.CreateUserHandler(dbh))
		pr.With(rbac.Require("user:admin")).
			Get("/admin/users", api.ListUsersHandler(dbh))
		pr.With(rbac.Require("journal:view")).
			Get("/admin/journal", api.JournalHandler(rec))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	log.Printf("listening on %s (db=%s)", cfg.HTTPAddr, cfg.DBDriver)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}

// seedAdmin makes sure the bootstrap admin account exists so a fresh
// deployment can log in and create teachers.
func seedAdmin(ctx context.Context, dbh *sql.DB, username, passHash string) error {
	var n int
	if err := dbh.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM users WHERE username=$1`, username).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err := dbh.ExecContext(ctx,
		`INSERT INTO users (id, username, pass_hash, role, created_at) VALUES ($1,$2,$3,$4,$5)`,
		"admin-"+username, username, passHash, "admin", time.Now().Unix())
	return err
}
