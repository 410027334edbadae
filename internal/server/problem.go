package server

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	perrors "github.com/cinnamon-msft/tangled/internal/errors"
)

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	c.Set(fiber.HeaderContentType, "application/problem+json")
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}

// errorResponse maps a domain error onto its status and problem type.
func errorResponse(c *fiber.Ctx, err error) error {
	status := perrors.HTTPStatus(err)
	detail := err.Error()
	switch {
	case errors.Is(err, perrors.ErrAuthRejected):
		detail = perrors.ErrAuthRejected.Error()
	case status == fiber.StatusInternalServerError:
		detail = "An internal error occurred"
	}
	return problemResponse(c, status, perrors.Kind(err), http.StatusText(status), detail)
}
