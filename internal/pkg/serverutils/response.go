package serverutils

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

type ApiResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func SuccessResponse(message string, data interface{}) ApiResponse {
	return ApiResponse{Success: true, Message: message, Data: data}
}

func ErrorResponse(message string) ApiResponse {
	return ApiResponse{Success: false, Message: message}
}

// ErrorHandlerMiddleware converts errors escaping controllers into a JSON
// envelope instead of fiber's default text response.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		code := fiber.StatusInternalServerError
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code = fiberErr.Code
		}
		return ctx.Status(code).JSON(ErrorResponse(err.Error()))
	}
}
