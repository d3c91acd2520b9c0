package main

import (
	"net/http"

	"github.com/go-chi/render"
)

// ErrResponse renders an error as {"status": ..., "error": ...}.
type ErrResponse struct {
	Err            error `json:"-"`
	HTTPStatusCode int   `json:"-"`

	StatusText string `json:"status"`
	ErrorText  string `json:"error,omitempty"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func newErrResponse(status int, text string, err error) *ErrResponse {
	e := &ErrResponse{Err: err, HTTPStatusCode: status, StatusText: text}
	if err != nil {
		e.ErrorText = err.Error()
	}
	return e
}

func ErrInvalidRequest(err error) render.Renderer {
	return newErrResponse(http.StatusBadRequest, "Invalid request.", err)
}

func ErrUnauthorized(err error) render.Renderer {
	return newErrResponse(http.StatusUnauthorized, "Unauthorized.", err)
}

func ErrPermissionDenied(err error) render.Renderer {
	return newErrResponse(http.StatusForbidden, "Permission denied.", err)
}

func ErrConflict(err error) render.Renderer {
	return newErrResponse(http.StatusConflict, "Conflict.", err)
}

func ErrRender(err error) render.Renderer {
	return newErrResponse(http.StatusInternalServerError, "Error rendering response.", err)
}

var ErrNotFound = &ErrResponse{HTTPStatusCode: http.StatusNotFound, StatusText: "Resource not found."}
