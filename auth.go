package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/dgrijalva/jwt-go"
	"github.com/go-chi/render"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var JWT_LIFESPAN time.Duration = time.Hour

type contextKey string

const JWT_CONTEXT_KEY contextKey = "jwt"

//---
// Structs
//

// Represents a local operator
type User struct {
	ID       int    `storm:"increment"` // pk
	Email    string `storm:"unique"`
	Name     string
	Password string
	Admin    bool
}

// Sets the User.Password to the hashed value for the provided plain text
func (u *User) SetPassword(pass []byte) error {
	hash, err := bcrypt.GenerateFromPassword(pass, bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.Password = string(hash)
	return nil
}

// Compares User.Password with the provided plain text.
// Returns values directly as provided by the bcrypt library for downstream processing.
func (u *User) VerifyPassword(pass []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(u.Password), pass)
}

// CreateSuperuser stores an admin user, replacing any user with the same email.
func CreateSuperuser(db *storm.DB, email, password string) (*User, error) {
	user := &User{
		Email: email,
		Name:  email,
		Admin: true,
	}

	var existing User
	if err := db.One("Email", email, &existing); err == nil {
		user.ID = existing.ID
	} else if !errors.Is(err, storm.ErrNotFound) {
		return nil, err
	}

	if err := user.SetPassword([]byte(password)); err != nil {
		return nil, err
	}
	if err := db.Save(user); err != nil {
		return nil, err
	}
	return user, nil
}

//---
// Generic payloads
//---

// Login payload
type LoginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (l *LoginPayload) Bind(r *http.Request) error {
	if l.Email == "" {
		return errors.New("email is required")
	}
	return nil
}

type JWTPayload struct {
	SignedToken string `json:"token"`
}

//---
// Helper functions
//

// Produce a standard format JWT token
func (s *Server) newJWT(sub string) (ts string, err error) {
	now := time.Now().UTC()
	claims := jwt.StandardClaims{
		Issuer:    s.env.JWT_ISSUER,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(JWT_LIFESPAN).Unix(),
		Subject:   sub,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	return token.SignedString(s.secret)
}

//---
// Views
//---

// Login looks up a user, verifies password and returns response
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	data := &LoginPayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	var user User
	if err := s.db.One("Email", data.Email, &user); err != nil {
		if errors.Is(err, storm.ErrNotFound) {
			render.Render(w, r, ErrNotFound)
			return
		}
		render.Render(w, r, ErrRender(err))
		return
	}

	err := user.VerifyPassword([]byte(data.Password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			s.log.Info("login rejected", zap.String("email", data.Email))
			render.Render(w, r, ErrPermissionDenied(errors.New("Invalid password")))
			return
		}
		render.Render(w, r, ErrRender(err))
		return
	}

	tokenString, err := s.newJWT(user.Email)
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}

	render.JSON(w, r, JWTPayload{tokenString})
}

// Provides a new token to the client
func (s *Server) JWTRefresh(w http.ResponseWriter, r *http.Request) {
	token := r.Context().Value(JWT_CONTEXT_KEY).(*jwt.Token)
	claims := token.Claims.(*jwt.StandardClaims)

	tokenString, err := s.newJWT(claims.Subject)
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}

	render.JSON(w, r, JWTPayload{tokenString})
}

//---
// Authentication middleware
//---

var (
	JWTEmpty = errors.New("Bearer token not provided")
)

func (s *Server) ValidateJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Get token from query params
		tokenStr := r.URL.Query().Get("jwt")

		// Get token from authorization header
		if tokenStr == "" {
			bearer := r.Header.Get("Authorization")
			if len(bearer) > 7 && strings.ToUpper(bearer[0:6]) == "BEARER" {
				tokenStr = bearer[7:]
			}
		}

		// Get token from cookie
		if tokenStr == "" {
			cookie, err := r.Cookie("jwt")
			if err == nil {
				tokenStr = cookie.Value
			}
		}

		// Token is required
		if tokenStr == "" {
			render.Render(w, r, ErrUnauthorized(JWTEmpty))
			return
		}

		token, err := jwt.ParseWithClaims(tokenStr,
			&jwt.StandardClaims{},
			func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.New("unexpected signing method")
				}
				return s.secret, nil
			})

		if err != nil || !token.Valid {
			msg := "Invalid token"
			var jwterr *jwt.ValidationError
			if errors.As(err, &jwterr) && jwterr.Errors&jwt.ValidationErrorExpired != 0 {
				msg = "Token has expired"
			}

			render.Render(w, r, ErrUnauthorized(errors.New(msg)))
			return
		}

		ctx := context.WithValue(r.Context(), JWT_CONTEXT_KEY, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
