package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/airq-calibration/internal/airq"
	"github.com/i474232898/airq-calibration/internal/airq/backend"
	"github.com/i474232898/airq-calibration/internal/chart"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *airq.Service, sessions *airq.Sessions) {
	v1 := app.Group("/api/v1")

	v1.Get("/devices", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"devices": service.Catalog().Devices(),
			"period":  service.Settings().Period,
		})
	})

	v1.Post("/align", func(c *fiber.Ctx) error {
		var req alignRequest
		if err := bindJSON(c, &req); err != nil {
			return respondError(c, err, nil)
		}

		tolerance := time.Duration(req.ToleranceMinutes * float64(time.Minute))
		aligner := airq.NewAligner(tolerance, service.Settings().Location)
		aligned := aligner.Align(req.DeviceRecords, req.ReferenceRecords)

		return c.JSON(fiber.Map{
			"count":   len(aligned),
			"records": aligned,
		})
	})

	v1.Post("/window", func(c *fiber.Ctx) error {
		var req windowRequest
		if err := bindJSON(c, &req); err != nil {
			return respondError(c, err, nil)
		}

		res, err := airq.ComputeWindow(req.StartDate, req.EndDate, req.Lowcost, req.Reference,
			airq.WithLabels(service.Catalog().Labels()),
			airq.WithLocation(service.Settings().Location),
		)
		if err != nil {
			return respondError(c, err, nil)
		}
		return c.JSON(res)
	})

	v1.Post("/calibrate", func(c *fiber.Ctx) error {
		res, err := service.CalibrateSensors(c.UserContext())
		if err != nil {
			return respondError(c, err, nil)
		}
		notice := airq.Notice{
			Level:   "success",
			Message: fmt.Sprintf("Calibration completed for %d/%d sensors.", res.DevicesCalibrated, res.TotalDevices),
		}
		if res.Partial {
			notice = airq.Notice{
				Level:   "warning",
				Message: fmt.Sprintf("Partial calibration: %d/%d sensors.", res.DevicesCalibrated, res.TotalDevices),
			}
		}
		return c.JSON(fiber.Map{"calibration": res, "notice": notice})
	})

	v1.Post("/predict", func(c *fiber.Ctx) error {
		var req predictRequest
		if err := bindJSON(c, &req); err != nil {
			return respondError(c, err, nil)
		}
		res, err := service.Predict(c.UserContext(), airq.PredictionInput{
			Device:     req.Device,
			Pollutant:  req.Pollutant,
			TargetDate: req.TargetDate,
			Manual:     req.Manual,
		})
		if err != nil {
			return respondError(c, err, nil)
		}
		return c.JSON(res)
	})

	v1.Post("/sessions", func(c *fiber.Ctx) error {
		sess := sessions.Create()
		return c.Status(fiber.StatusCreated).JSON(sessionBody(sess))
	})

	s := v1.Group("/sessions/:id")

	s.Get("/", withSession(sessions, func(c *fiber.Ctx, sess *airq.Session) error {
		return c.JSON(sessionBody(sess))
	}))

	s.Delete("/", func(c *fiber.Ctx) error {
		if err := sessions.Delete(c.Params("id")); err != nil {
			return respondError(c, err, nil)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	s.Post("/devices/:name", withSession(sessions, func(c *fiber.Ctx, sess *airq.Session) error {
		view, err := sess.ShowSingle(c.UserContext(), c.Params("name"), c.QueryBool("refresh", false))
		if err != nil {
			return respondError(c, err, nil)
		}
		return c.JSON(view)
	}))

	s.Post("/calibrate", withSession(sessions, func(c *fiber.Ctx, sess *airq.Session) error {
		var req deviceCalibrationRequest
		if len(c.Body()) > 0 {
			if err := bindJSON(c, &req); err != nil {
				return respondError(c, err, nil)
			}
		}
		res, err := sess.CalibrateDevice(c.UserContext(), req.Pollutant)
		if err != nil {
			return respondError(c, err, nil)
		}
		return c.JSON(fiber.Map{"calibration": res, "best_model": res.BestModel()})
	}))

	s.Post("/comparison", withSession(sessions, func(c *fiber.Ctx, sess *airq.Session) error {
		entries, err := sess.ShowComparison(c.UserContext())
		if err != nil {
			return respondError(c, err, nil)
		}
		return c.JSON(fiber.Map{"devices": entries})
	}))

	s.Get("/comparison/chart", withSession(sessions, func(c *fiber.Ctx, sess *airq.Session) error {
		entries, err := sess.Comparison()
		if err != nil {
			return respondError(c, err, nil)
		}
		return renderHTML(c, "Device comparison", chart.ComparisonCharts(entries))
	}))

	s.Post("/stage2", withSession(sessions, func(c *fiber.Ctx, sess *airq.Session) error {
		view, err := sess.ShowStage2(c.UserContext(), c.QueryBool("reload", false))
		if err != nil {
			return respondError(c, err, &view)
		}
		return c.JSON(view)
	}))

	s.Post("/stage2/window", withSession(sessions, func(c *fiber.Ctx, sess *airq.Session) error {
		var req manualWindowRequest
		if err := bindJSON(c, &req); err != nil {
			return respondError(c, err, nil)
		}
		view, err := sess.ApplyManualWindow(req.StartDate, req.EndDate)
		if err != nil {
			return respondError(c, err, &view)
		}
		return c.JSON(view)
	}))

	s.Post("/stage2/calibrate", withSession(sessions, func(c *fiber.Ctx, sess *airq.Session) error {
		res, err := sess.Calibrate(c.UserContext())
		if err != nil {
			return respondError(c, err, nil)
		}
		return c.JSON(res)
	}))

	s.Get("/stage2/download", withSession(sessions, func(c *fiber.Ctx, sess *airq.Session) error {
		exp, err := sess.Download(c.UserContext())
		if err != nil {
			return respondError(c, err, nil)
		}
		c.Set(fiber.HeaderContentType, exp.ContentType)
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, exp.Filename))
		return c.Send(exp.Body)
	}))

	s.Get("/stage2/chart", withSession(sessions, func(c *fiber.Ctx, sess *airq.Session) error {
		devices, reference := sess.Traces()
		if len(devices) == 0 {
			return respondError(c, airq.ErrNoWindowData, nil)
		}
		return renderHTML(c, "Stage 2 window", chart.DeviceCharts(devices, reference))
	}))
}

type alignRequest struct {
	DeviceRecords    []airq.Record `json:"lowcost"`
	ReferenceRecords []airq.Record `json:"rmcab"`
	ToleranceMinutes float64       `json:"tolerance_minutes" validate:"gte=0"`
}

type windowRequest struct {
	StartDate string        `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string        `json:"end_date" validate:"required,datetime=2006-01-02"`
	Lowcost   []airq.Record `json:"lowcost"`
	Reference []airq.Record `json:"rmcab"`
}

type deviceCalibrationRequest struct {
	Pollutant string `json:"pollutant" validate:"omitempty,oneof=pm25 pm10"`
}

type predictRequest struct {
	Device     string               `json:"device_name" validate:"required"`
	Pollutant  string               `json:"pollutant" validate:"required,oneof=pm25 pm10"`
	TargetDate string               `json:"target_date" validate:"required,datetime=2006-01-02"`
	Manual     *airq.ManualReadings `json:"manual_values"`
}

type manualWindowRequest struct {
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

func bindJSON(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fmt.Errorf("%w: invalid request body", airq.ErrInput)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("%w: %v", airq.ErrInput, err)
	}
	return nil
}

func withSession(sessions *airq.Sessions, h func(*fiber.Ctx, *airq.Session) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := sessions.Get(c.Params("id"))
		if err != nil {
			return respondError(c, err, nil)
		}
		return h(c, sess)
	}
}

func sessionBody(sess *airq.Session) fiber.Map {
	return fiber.Map{
		"id":         sess.ID,
		"created_at": sess.CreatedAt,
		"view":       sess.View(),
		"stage2":     sess.Stage2(),
	}
}

func renderHTML(c *fiber.Ctx, title string, lines []*charts.Line) error {
	page, err := chart.RenderPage(title, lines)
	if err != nil {
		log.Printf("ERROR: rendering %s: %v", title, err)
		return fiber.NewError(fiber.StatusInternalServerError, "failed to render chart")
	}
	c.Type("html")
	return c.Send(page)
}

// respondError maps domain errors to status codes. view, when set, is the
// state retained after the failure.
func respondError(c *fiber.Ctx, err error, view *airq.Stage2View) error {
	status := fiber.StatusBadGateway
	level := "danger"
	body := fiber.Map{"error": true, "message": err.Error()}

	var apiErr *backend.APIError
	switch {
	case errors.Is(err, airq.ErrSessionNotFound):
		status, level = fiber.StatusNotFound, "warning"
	case errors.Is(err, airq.ErrInput), errors.Is(err, airq.ErrInvalidWindow):
		status, level = fiber.StatusBadRequest, "warning"
	case errors.Is(err, airq.ErrNoWindowData):
		status, level = fiber.StatusUnprocessableEntity, "warning"
	case errors.Is(err, airq.ErrManualInputRequired):
		status, level = fiber.StatusUnprocessableEntity, "warning"
		body["suggestion"] = "use_manual_mode"
		if errors.As(err, &apiErr) {
			body["message"] = apiErr.Message
		}
	case errors.Is(err, airq.ErrSuperseded), errors.Is(err, airq.ErrIllegalTransition):
		status, level = fiber.StatusConflict, "info"
	case errors.Is(err, context.DeadlineExceeded):
		status = fiber.StatusGatewayTimeout
	case errors.As(err, &apiErr):
		body["message"] = apiErr.Message
		if apiErr.Query != "" {
			body["query"] = apiErr.Query
		}
	}

	if status >= 500 {
		log.Printf("ERROR: %s %s: %v", c.Method(), c.Path(), err)
	}
	body["level"] = level
	if view != nil {
		body["view"] = view
	}
	return c.Status(status).JSON(body)
}
