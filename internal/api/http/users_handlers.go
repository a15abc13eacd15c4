package http

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/examdesk/examdesk/internal/rbac"
)

var validRoles = map[string]bool{"student": true, "teacher": true, "admin": true}

// POST /admin/users  { "username": ..., "password": ..., "role": ... }
func CreateUserHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
			Role     string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Username == "" || req.Password == "" || !validRoles[req.Role] {
			http.Error(w, "username, password and a valid role are required", http.StatusBadRequest)
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			http.Error(w, "hash password", http.StatusInternalServerError)
			return
		}
		id := uuid.NewString()
		_, err = db.ExecContext(r.Context(),
			`INSERT INTO users (id, username, pass_hash, role, created_at) VALUES ($1,$2,$3,$4,$5)`,
			id, req.Username, string(hash), req.Role, time.Now().Unix())
		if err != nil {
			http.Error(w, "username already taken", http.StatusConflict)
			return
		}
		writeJSON(w, map[string]string{"id": id, "username": req.Username, "role": req.Role})
	}
}

// GET /admin/users
func ListUsersHandler(db *sql.DB) http.HandlerFunc {
	type user struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Role     string `json:"role"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := db.QueryContext(r.Context(),
			`SELECT id, username, role FROM users ORDER BY username`)
		if err != nil {
			http.Error(w, "list users", http.StatusInternalServerError)
			return
		}
		defer rows.Close()
		out := []user{}
		for rows.Next() {
			var u user
			if err := rows.Scan(&u.ID, &u.Username, &u.Role); err != nil {
				http.Error(w, "list users", http.StatusInternalServerError)
				return
			}
			out = append(out, u)
		}
		writeJSON(w, out)
	}
}

// POST /users/password  { "old_password": ..., "new_password": ... }
// Any authenticated user may rotate their own password.
func ChangePasswordHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			OldPassword string `json:"old_password"`
			NewPassword string `json:"new_password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if len(req.NewPassword) < 8 {
			http.Error(w, "new password too short", http.StatusBadRequest)
			return
		}
		sub := rbac.SubjectFromContext(r.Context())
		var hash string
		err := db.QueryRowContext(r.Context(),
			`SELECT pass_hash FROM users WHERE id=$1`, sub).Scan(&hash)
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "unknown user", http.StatusUnauthorized)
			return
		}
		if err != nil {
			http.Error(w, "change password", http.StatusInternalServerError)
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.OldPassword)) != nil {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
		if err != nil {
			http.Error(w, "hash password", http.StatusInternalServerError)
			return
		}
		if _, err := db.ExecContext(r.Context(),
			`UPDATE users SET pass_hash=$1 WHERE id=$2`, string(newHash), sub); err != nil {
			http.Error(w, "change password", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	}
}
