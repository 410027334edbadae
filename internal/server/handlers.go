package server

import (
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/cinnamon-msft/tangled/internal/auth"
	perrors "github.com/cinnamon-msft/tangled/internal/errors"
	"github.com/cinnamon-msft/tangled/pkg/tokenstore"
)

type assignMaterialRequest struct {
	MaterialID int  `json:"materialId"`
	YardsUsed  *int `json:"yardsUsed"`
}

type orderRequest struct {
	ProjectIDs []int `json:"projectIds"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type callbackRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// sessionView never exposes the token.
type sessionView struct {
	Authenticated bool             `json:"authenticated"`
	Strategy      auth.Strategy    `json:"strategy"`
	User          *tokenstore.User `json:"user,omitempty"`
	AuthorizeURL  string           `json:"authorizeUrl,omitempty"`
}

func parseBody(c *fiber.Ctx, v any) error {
	if err := json.Unmarshal(c.Body(), v); err != nil {
		return fmt.Errorf("invalid request body: %v: %w", err, perrors.ErrInvalidInput)
	}
	return nil
}

// listProjects supports ?section= to filter and apply the saved order.
func (s *Server) listProjects(c *fiber.Ctx) error {
	projects, err := s.deps.Crafts.Projects.GetAll(c.UserContext())
	if err != nil {
		return errorResponse(c, err)
	}
	section := c.Query("section")
	if section == "" || s.deps.Order == nil {
		return c.JSON(projects)
	}
	arranged, err := s.deps.Order.Arrange(c.UserContext(), projects, section)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(arranged)
}

func (s *Server) assignMaterial(c *fiber.Ctx) error {
	projectID, err := pathID(c, "id")
	if err != nil {
		return errorResponse(c, err)
	}
	var req assignMaterialRequest
	if err := parseBody(c, &req); err != nil {
		return errorResponse(c, err)
	}
	link, err := s.deps.Crafts.AssignMaterial(c.UserContext(), projectID, req.MaterialID, req.YardsUsed)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(link)
}

func (s *Server) removeMaterial(c *fiber.Ctx) error {
	projectID, err := pathID(c, "id")
	if err != nil {
		return errorResponse(c, err)
	}
	linkID, err := pathID(c, "linkId")
	if err != nil {
		return errorResponse(c, err)
	}
	if err := s.deps.Crafts.RemoveMaterial(c.UserContext(), projectID, linkID); err != nil {
		return errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) materialUsage(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return errorResponse(c, err)
	}
	projects, err := s.deps.Crafts.MaterialUsage(c.UserContext(), id)
	if err != nil {
		return errorResponse(c, err)
	}
	if projects == nil {
		return c.JSON([]any{})
	}
	return c.JSON(projects)
}

func (s *Server) getOrder(c *fiber.Ctx) error {
	ids, err := s.deps.Order.Order(c.UserContext(), c.Params("section"))
	if err != nil {
		return errorResponse(c, err)
	}
	if ids == nil {
		ids = []int{}
	}
	return c.JSON(orderRequest{ProjectIDs: ids})
}

func (s *Server) setOrder(c *fiber.Ctx) error {
	var req orderRequest
	if err := parseBody(c, &req); err != nil {
		return errorResponse(c, err)
	}
	if err := s.deps.Order.SetOrder(c.UserContext(), c.Params("section"), req.ProjectIDs); err != nil {
		return errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) syncStatus(c *fiber.Ctx) error {
	return c.JSON(s.deps.Tracker.Snapshot())
}

func (s *Server) session(c *fiber.Ctx) error {
	view := sessionView{Strategy: s.deps.Strategy}
	if sess := s.deps.Auth.Session(); sess.Valid() {
		view.Authenticated = true
		view.User = &sess.User
	}
	if s.deps.Proxy != nil {
		view.AuthorizeURL = s.deps.Proxy.AuthorizeURL()
	}
	return c.JSON(view)
}

func (s *Server) logout(c *fiber.Ctx) error {
	if s.deps.Device != nil {
		s.deps.Device.Cancel()
	}
	if err := s.deps.Auth.Logout(c.UserContext()); err != nil {
		return errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) loginWithToken(c *fiber.Ctx) error {
	if s.deps.Strategy != auth.StrategyToken {
		return strategyDisabled(c, "token")
	}
	var req tokenRequest
	if err := parseBody(c, &req); err != nil {
		return errorResponse(c, err)
	}
	if _, err := s.deps.Auth.CompleteLogin(c.UserContext(), req.Token); err != nil {
		return errorResponse(c, err)
	}
	return s.session(c)
}

func (s *Server) startDevice(c *fiber.Ctx) error {
	if s.deps.Device == nil {
		return strategyDisabled(c, "device")
	}
	st, err := s.deps.Device.Start(c.UserContext())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(st)
}

func (s *Server) deviceStatus(c *fiber.Ctx) error {
	if s.deps.Device == nil {
		return strategyDisabled(c, "device")
	}
	return c.JSON(s.deps.Device.Status())
}

func (s *Server) cancelDevice(c *fiber.Ctx) error {
	if s.deps.Device == nil {
		return strategyDisabled(c, "device")
	}
	s.deps.Device.Cancel()
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) authorize(c *fiber.Ctx) error {
	if s.deps.Proxy == nil {
		return strategyDisabled(c, "proxy")
	}
	return c.Redirect(s.deps.Proxy.AuthorizeURL(), fiber.StatusFound)
}

func (s *Server) callback(c *fiber.Ctx) error {
	if s.deps.Proxy == nil {
		return strategyDisabled(c, "proxy")
	}
	var req callbackRequest
	if err := parseBody(c, &req); err != nil {
		return errorResponse(c, err)
	}
	if _, err := s.deps.Proxy.Exchange(c.UserContext(), req.Code, req.State); err != nil {
		return errorResponse(c, err)
	}
	return s.session(c)
}

func strategyDisabled(c *fiber.Ctx, strategy string) error {
	return problemResponse(c, fiber.StatusBadRequest,
		"strategy_disabled", "Bad Request",
		fmt.Sprintf("the %s sign-in strategy is not enabled", strategy))
}
