package http

import (
	"fmt"
	"log"
	"strconv"
	"time"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	websocket "github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/jonoton/go-memory"
	"github.com/jonoton/go-websockets"
	logrus "github.com/sirupsen/logrus"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jonoton/alprd/feed"
	"github.com/jonoton/alprd/monitor"
)

// Supervisor reports the running streams
type Supervisor interface {
	GetStreamNames() []string
	Status() []monitor.Status
	GetStatus(name string) (monitor.Status, bool)
}

// Http manages the http server
type Http struct {
	httpConfig   *Config
	fiber        *fiber.App
	supervisor   Supervisor
	feed         *feed.Feed
	accessLogger *log.Logger
}

// NewHttp returns a new Http
func NewHttp(conf *Config, supervisor Supervisor, events *feed.Feed) *Http {
	h := &Http{
		httpConfig: conf,
		fiber: fiber.New(fiber.Config{
			DisableStartupMessage: true,
		}),
		supervisor:   supervisor,
		feed:         events,
		accessLogger: &log.Logger{},
	}
	h.setup()
	return h
}

func (h *Http) setup() {
	h.accessLogger.SetOutput(&lumberjack.Logger{
		Filename:   h.httpConfig.AccessLog,
		MaxSize:    1,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   false,
	})
	cfg := limiter.Config{
		Expiration: 1 * time.Second,
		Max:        h.httpConfig.LimitPerSecond,
	}

	h.fiber.Use(limiter.New(cfg))

	h.fiber.Use(compress.New(compress.Config{Level: compress.LevelDefault}))

	h.fiber.Use(func(c *fiber.Ctx) error {
		err := c.Next()
		h.accessLogger.Printf("%s,%s,%s,%d,%s\r\n", getFormattedKitchenTimestamp(time.Now()),
			c.Method(), c.Path(), c.Response().StatusCode(), c.IP())
		return err
	})

	h.fiber.Get("/heartbeat", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	h.fiber.Get("/info/list", func(c *fiber.Ctx) error {
		type info struct {
			NameList []string
		}
		data := info{
			NameList: h.supervisor.GetStreamNames(),
		}
		return c.JSON(data)
	})

	h.fiber.Get("/info", func(c *fiber.Ctx) error {
		return c.JSON(h.supervisor.Status())
	})

	h.fiber.Get("/info/:name", func(c *fiber.Ctx) error {
		status, found := h.supervisor.GetStatus(c.Params("name"))
		if !found {
			return c.SendStatus(fiber.StatusNotFound)
		}
		return c.JSON(status)
	})

	h.fiber.Get("/memory", func(c *fiber.Ctx) error {
		mem := memory.NewMemory()
		type info struct {
			HeapAllocatedMB int
			HeapTotalMB     int
			RAMAppMB        int
			RAMSystemMB     int
		}
		data := info{
			HeapAllocatedMB: int(memory.BytesToMegaBytes(mem.HeapAllocatedBytes)),
			HeapTotalMB:     int(memory.BytesToMegaBytes(mem.HeapTotalBytes)),
			RAMAppMB:        int(memory.BytesToMegaBytes(mem.RAMAppBytes)),
			RAMSystemMB:     int(memory.BytesToMegaBytes(mem.RAMSystemBytes)),
		}
		return c.JSON(data)
	})

	h.fiber.Use("/live", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		cameraID, _ := strconv.Atoi(c.Query("camera"))
		c.Locals("cameraID", cameraID)
		return c.Next()
	})

	h.fiber.Get("/live", h.liveFeed())
}

// liveFeed streams detection events as JSON, optionally of one camera
func (h *Http) liveFeed() func(*fiber.Ctx) error {
	return websocket.New(func(c *websocket.Conn) {
		cameraID, _ := c.Locals("cameraID").(int)
		events, cancel, err := h.feed.Subscribe(16)
		if err != nil {
			logrus.WithError(err).Errorln("Could not subscribe to detections")
			return
		}
		id := uuid.New().String()
		logrus.Infoln("Websocket opened", id)
		socketClosed := make(chan bool)
		send := func(c *websocket.Conn) {
			for {
				select {
				case <-socketClosed:
					return
				case event, ok := <-events:
					if !ok {
						return
					}
					if cameraID > 0 && event.CameraID != cameraID {
						continue
					}
					if err := c.WriteJSON(event); err != nil {
						return
					}
				}
			}
		}
		cleanup := func() {
			cancel()
			logrus.Infoln("Websocket closed", id)
		}
		websockets.Run(c, socketClosed, nil, send, cleanup)
	})
}

// Listen on port until Stop
func (h *Http) Listen() error {
	port := fmt.Sprintf(":%d", h.httpConfig.Port)
	logrus.Infoln("Status server listening on", port)
	return h.fiber.Listen(port)
}

// Stop the server
func (h *Http) Stop() error {
	return h.fiber.Shutdown()
}

func getFormattedKitchenTimestamp(t time.Time) string {
	return t.Format("03:04:05 PM 01-02-2006")
}
