package http

import "github.com/gofiber/fiber/v2"

// NewApp builds the fiber app. Bodies above bodyLimit are streamed instead
// of refused, so the webhook receiver still sees and logs them. The admin
// routes enforce the limit through limitBody.
func NewApp(name string, bodyLimit int) *fiber.App {
	return fiber.New(fiber.Config{
		AppName:           name,
		BodyLimit:         bodyLimit,
		StreamRequestBody: true,
	})
}

// limitBody refuses requests whose body is larger than limit.
func limitBody(limit int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if limit <= 0 {
			return c.Next()
		}
		size := c.Request().Header.ContentLength()
		if size < 0 {
			// Chunked bodies carry no length up front.
			size = len(c.Body())
		}
		if size > limit {
			c.Context().SetConnectionClose()
			return fiber.ErrRequestEntityTooLarge
		}
		return c.Next()
	}
}
