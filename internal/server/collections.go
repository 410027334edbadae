package server

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/cinnamon-msft/tangled/internal/collection"
	perrors "github.com/cinnamon-msft/tangled/internal/errors"
)

// registerCollection mounts the CRUD routes for one collection on r. A nil
// list handler serves the whole collection.
func registerCollection[T any, P collection.Entity[T]](r fiber.Router, coll *collection.Collection[T, P], list fiber.Handler) {
	if list == nil {
		list = func(c *fiber.Ctx) error {
			items, err := coll.GetAll(c.UserContext())
			if err != nil {
				return errorResponse(c, err)
			}
			return c.JSON(items)
		}
	}
	r.Get("/", list)

	r.Get("/:id", func(c *fiber.Ctx) error {
		id, err := pathID(c, "id")
		if err != nil {
			return errorResponse(c, err)
		}
		item, err := coll.GetByID(c.UserContext(), id)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(item)
	})

	r.Post("/", func(c *fiber.Ctx) error {
		var input T
		if err := json.Unmarshal(c.Body(), &input); err != nil {
			return errorResponse(c, fmt.Errorf("invalid request body: %v: %w", err, perrors.ErrInvalidInput))
		}
		created, err := coll.Create(c.UserContext(), input)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(created)
	})

	r.Put("/:id", func(c *fiber.Ctx) error {
		id, err := pathID(c, "id")
		if err != nil {
			return errorResponse(c, err)
		}
		patch, err := parsePatch(c.Body(), id)
		if err != nil {
			return errorResponse(c, err)
		}
		if err := coll.Update(c.UserContext(), id, patch); err != nil {
			return errorResponse(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Delete("/:id", func(c *fiber.Ctx) error {
		id, err := pathID(c, "id")
		if err != nil {
			return errorResponse(c, err)
		}
		if err := coll.Delete(c.UserContext(), id); err != nil {
			return errorResponse(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func pathID(c *fiber.Ctx, name string) (int, error) {
	id, err := strconv.Atoi(c.Params(name))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer: %w", name, perrors.ErrInvalidInput)
	}
	return id, nil
}

// parsePatch decodes a partial entity. A body id that disagrees with the path is rejected.
func parsePatch(body []byte, id int) (collection.Patch, error) {
	var patch collection.Patch
	if err := json.Unmarshal(body, &patch); err != nil || patch == nil {
		return nil, fmt.Errorf("request body must be a JSON object: %w", perrors.ErrInvalidInput)
	}
	if raw, ok := patch["id"]; ok {
		var bodyID int
		if err := json.Unmarshal(raw, &bodyID); err != nil || bodyID != id {
			return nil, fmt.Errorf("body id does not match path id %d: %w", id, perrors.ErrInvalidInput)
		}
	}
	return patch, nil
}
