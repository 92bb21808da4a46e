package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/haolipeng/audisp_filter/pkg/config"
)

// Server is the optional admin HTTP server.
type Server struct {
	echo *echo.Echo
	addr string
}

func NewServer(settings *config.Settings) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	addr := fmt.Sprintf("%s:%s", settings.API.Host, settings.API.Port)

	return &Server{
		echo: e,
		addr: addr,
	}
}

// Start serves until Stop is called. A shutdown through Stop is a clean
// return, not an error.
func (s *Server) Start() error {
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// RegisterFilterService wires the filter routes.
func (s *Server) RegisterFilterService(fs *FilterService) {
	s.echo.GET("/filter/status", fs.GetStatus)
	s.echo.GET("/filter/rules", fs.GetRules)
	s.echo.POST("/filter/rules/validate", fs.ValidateRule)
	s.echo.POST("/filter/reload", fs.Reload)
}
