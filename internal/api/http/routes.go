package httpapi

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/webcam-capture/internal/pipeline"
	"github.com/i474232898/webcam-capture/internal/scheduler"
	"github.com/i474232898/webcam-capture/internal/store"
)

var validate = validator.New()

const defaultCycleLimit = 20

// SchedulerView is the part of the scheduler the API reads.
type SchedulerView interface {
	Snapshot() scheduler.Snapshot
}

// ReportStore is the part of the report history the API reads.
type ReportStore interface {
	Latest() (pipeline.Report, error)
	LatestCompleted() (pipeline.Report, error)
	Recent(limit int) []pipeline.Report
	Range(from, to time.Time) ([]pipeline.Report, error)
	Totals() map[pipeline.Outcome]int
}

// Deps are the handlers' data sources. Gatherer may be nil to omit /metrics.
type Deps struct {
	Location  string
	Scheduler SchedulerView
	Store     ReportStore
	Gatherer  prometheus.Gatherer
	StartedAt time.Time
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "webcam-capture",
			"uptime":  time.Since(deps.StartedAt).Truncate(time.Second).String(),
		})
	})

	if deps.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := app.Group("/api/v1")

	v1.Get("/status", func(c *fiber.Ctx) error {
		resp := fiber.Map{
			"location":  deps.Location,
			"scheduler": deps.Scheduler.Snapshot(),
			"totals":    deps.Store.Totals(),
		}
		if last, err := deps.Store.Latest(); err == nil {
			resp["lastCycle"] = last
		}
		if done, err := deps.Store.LatestCompleted(); err == nil {
			resp["lastCompleted"] = done
		}
		return c.JSON(resp)
	})

	v1.Get("/cycles", func(c *fiber.Ctx) error {
		var req cyclesQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if req.From.IsZero() {
			return c.JSON(fiber.Map{"cycles": deps.Store.Recent(req.Limit)})
		}

		reports, err := deps.Store.Range(req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no capture cycles in requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read capture history")
		}
		if len(reports) > req.Limit {
			reports = reports[len(reports)-req.Limit:]
		}
		return c.JSON(fiber.Map{
			"from":   req.From,
			"to":     req.To,
			"cycles": reports,
		})
	})
}

// cyclesQuery holds query parameters for the cycles endpoint. from and to are
// optional but must be given together.
type cyclesQuery struct {
	Limit int `validate:"min=1,max=100"`
	From  time.Time
	To    time.Time `validate:"omitempty,gtefield=From"`
}

func (q *cyclesQuery) bind(c *fiber.Ctx) error {
	q.Limit = defaultCycleLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return errors.New("limit must be an integer")
		}
		q.Limit = n
	}

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" && toStr == "" {
		return nil
	}
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters must be given together")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	q.From = from
	q.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
