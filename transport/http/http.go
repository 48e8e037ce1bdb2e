// Package http is a thin reference REST+SSE adapter implementing spec.md
// §6's external interface over the Run Controller. Grounded on
// evalgo.org/eve's echo-based service texture; contains no business logic
// beyond request decoding, X-Version-Lock header plumbing, and SSE framing.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	blueprintpkg "github.com/iceos/core/blueprint"
	bpstore "github.com/iceos/core/blueprint/store"
	"github.com/iceos/core/compiler"
	"github.com/iceos/core/ice"
	"github.com/iceos/core/runner"
	"github.com/labstack/echo/v4"
)

// Server wires the Run Controller, Blueprint store, and Compiler behind
// echo routes.
type Server struct {
	Echo       *echo.Echo
	Partials   bpstore.PartialStore
	Blueprints bpstore.BlueprintStore
	Compiler   *compiler.Compiler
	Runner     *runner.Controller
}

func New(partials bpstore.PartialStore, blueprints bpstore.BlueprintStore, c *compiler.Compiler, r *runner.Controller) *Server {
	e := echo.New()
	s := &Server{Echo: e, Partials: partials, Blueprints: blueprints, Compiler: c, Runner: r}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.POST("/partials", s.createPartial)
	s.Echo.PATCH("/partials/:id", s.patchPartial)
	s.Echo.POST("/partials/:id/finalize", s.finalize)
	s.Echo.POST("/blueprints/:id/runs", s.submitRun)
	s.Echo.GET("/runs/:id", s.runStatus)
	s.Echo.POST("/runs/:id/cancel", s.cancelRun)
	s.Echo.GET("/runs/:id/events", s.runEvents)
}

func (s *Server) createPartial(c echo.Context) error {
	var pb blueprintpkg.PartialBlueprint
	if err := c.Bind(&pb); err != nil {
		return c.JSON(http.StatusBadRequest, errBody(err))
	}
	created, err := s.Partials.Create(c.Request().Context(), pb)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(err))
	}
	c.Response().Header().Set("X-Version-Lock", created.VersionLock)
	return c.JSON(http.StatusCreated, created)
}

func (s *Server) patchPartial(c echo.Context) error {
	id := ice.PartialID(c.Param("id"))
	expectedLock := c.Request().Header.Get("X-Version-Lock")
	if expectedLock == "" {
		expectedLock = bpstore.NewSentinel
	}
	var patch blueprintpkg.Patch
	if err := c.Bind(&patch); err != nil {
		return c.JSON(http.StatusBadRequest, errBody(err))
	}
	updated, err := s.Partials.Patch(c.Request().Context(), id, expectedLock, patch)
	if err != nil {
		return mapErr(c, err)
	}
	c.Response().Header().Set("X-Version-Lock", updated.VersionLock)
	return c.JSON(http.StatusOK, updated)
}

func (s *Server) finalize(c echo.Context) error {
	id := ice.PartialID(c.Param("id"))
	pb, err := s.Partials.Get(c.Request().Context(), id)
	if err != nil {
		return mapErr(c, err)
	}

	bp := blueprintpkg.Blueprint{
		ID:          ice.NewBlueprintID(),
		Name:        pb.Name,
		Metadata:    pb.Metadata,
		Nodes:       pb.Nodes,
		VersionLock: pb.VersionLock,
	}
	report := s.Compiler.Validate(c.Request().Context(), bp)
	if !report.OK() {
		return c.JSON(http.StatusBadRequest, report)
	}
	if err := s.Blueprints.Put(c.Request().Context(), bp); err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(err))
	}
	return c.JSON(http.StatusCreated, bp)
}

func (s *Server) submitRun(c echo.Context) error {
	id := ice.BlueprintID(c.Param("id"))
	bp, err := s.Blueprints.Get(c.Request().Context(), id)
	if err != nil {
		return mapErr(c, err)
	}
	var body struct {
		Input map[string]any `json:"input"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errBody(err))
	}
	rec, err := s.Runner.Submit(c.Request().Context(), bp, body.Input, nil)
	if err != nil {
		return mapErr(c, err)
	}
	return c.JSON(http.StatusAccepted, rec)
}

func (s *Server) runStatus(c echo.Context) error {
	id := ice.RunID(c.Param("id"))
	rec, err := s.Runner.Status(c.Request().Context(), id)
	if err != nil {
		return mapErr(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) cancelRun(c echo.Context) error {
	id := ice.RunID(c.Param("id"))
	if err := s.Runner.Cancel(id); err != nil {
		return mapErr(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) runEvents(c echo.Context) error {
	id := ice.RunID(c.Param("id"))
	sinceSeq, _ := strconv.ParseUint(c.QueryParam("since_seq"), 10, 64)

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for _, rec := range s.Runner.Events(id, sinceSeq) {
		fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", rec.Kind, rec.Seq, mustJSON(rec))
	}
	w.Flush()
	return nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func errBody(err error) map[string]any {
	return map[string]any{"error": err.Error()}
}

// mapErr translates a failure into the right HTTP status. It checks the
// blueprint store's sentinel errors directly as well as ice.KindOf because
// store.BlueprintStore/PartialStore return plain fmt.Errorf-wrapped
// sentinels (errors.Is-compatible), not *ice.Error.
func mapErr(c echo.Context, err error) error {
	switch {
	case errors.Is(err, bpstore.ErrNotFound):
		return c.JSON(http.StatusNotFound, errBody(err))
	case errors.Is(err, bpstore.ErrVersionMismatch):
		return c.JSON(http.StatusConflict, errBody(err))
	}
	switch ice.KindOf(err) {
	case ice.KindNotFound:
		return c.JSON(http.StatusNotFound, errBody(err))
	case ice.KindVersionMismatch:
		return c.JSON(http.StatusConflict, errBody(err))
	case ice.KindValidation:
		return c.JSON(http.StatusBadRequest, errBody(err))
	default:
		return c.JSON(http.StatusInternalServerError, errBody(err))
	}
}
