package controller

import (
	"fmt"

	"peerlink-be/internal/dto"
	"peerlink-be/internal/pkg/serverutils"
	"peerlink-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IRtcController interface {
	RegisterRoutes(r fiber.Router)
	GetConfig(ctx *fiber.Ctx) error
}

type rtcController struct {
	ice *service.IceConfigService
}

func NewRtcController(ice *service.IceConfigService) IRtcController {
	return &rtcController{ice: ice}
}

func (c *rtcController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/rtc/v1")
	h.Use(serverutils.JwtMiddleware)
	h.Get("/config", c.GetConfig)
}

// GetConfig provisions the ICE server set for a client about to negotiate.
func (c *rtcController) GetConfig(ctx *fiber.Ctx) error {
	servers := c.ice.Servers(ctx.Context())

	res := dto.IceConfigResponse{IceServers: make([]dto.IceServer, 0, len(servers))}
	for _, s := range servers {
		entry := dto.IceServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != nil {
			entry.Credential = fmt.Sprint(s.Credential)
		}
		res.IceServers = append(res.IceServers, entry)
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get rtc config", res))
}
