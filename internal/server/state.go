package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kfir-abbou/Dapr/internal/state"
	"github.com/kfir-abbou/Dapr/pkg/api"
)

type transitionFunc func(
	*gin.Context, string,
) (*api.StateChangeResult, error)

func (s *Server) getState(c *gin.Context) {
	st, err := s.machine.GetCurrent(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError,
			fmt.Errorf("%w: %w", ErrGetState, err),
		)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) getTransitions(c *gin.Context) {
	res, err := s.machine.AllowedTransitions(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError,
			fmt.Errorf("%w: %w", ErrGetState, err),
		)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) changeState(c *gin.Context) {
	s.applyState(c,
		func(c *gin.Context, status string) (*api.StateChangeResult, error) {
			return s.machine.Transition(c.Request.Context(), status)
		},
	)
}

func (s *Server) forceState(c *gin.Context) {
	s.applyState(c,
		func(c *gin.Context, status string) (*api.StateChangeResult, error) {
			return s.machine.ForceTransition(c.Request.Context(), status)
		},
	)
}

func (s *Server) applyState(c *gin.Context, apply transitionFunc) {
	var req api.SetStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	res, err := apply(c, req.Status)
	switch {
	case errors.Is(err, state.ErrInvalidStatus),
		errors.Is(err, state.ErrIllegalTransition):
		c.JSON(http.StatusBadRequest, res)
	case err != nil:
		writeError(c, http.StatusInternalServerError, err)
	default:
		c.JSON(http.StatusOK, res)
	}
}
