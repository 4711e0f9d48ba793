package scheduling

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/spreadsheet"
	"github.com/clinic/clinic/pkg/pagination"
)

const genericFailure = "something went wrong, please try again later"

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := auth.RequireRole(auth.RoleReceptionist, auth.RoleDoctor)
	desk := auth.RequireRole(auth.RoleReceptionist)
	admin := auth.RequireRole(auth.RoleAdmin)

	api.GET("/doctors/:id/slots", h.GetSlots, staff)
	api.GET("/appointments/check-availability", h.CheckAvailability, staff)
	api.GET("/appointments", h.ListAppointments, staff)
	api.GET("/appointments/:id", h.GetAppointment, staff)
	api.POST("/appointments", h.Book, desk)
	api.POST("/appointments/import", h.Import, desk)
	api.PUT("/appointments/:id", h.Reschedule, desk)
	api.PATCH("/appointments/:id/status", h.UpdateStatus, staff)
	api.DELETE("/appointments/:id", h.Cancel, desk)

	api.GET("/doctors/:id/schedules", h.ListSchedules, staff)
	api.POST("/doctors/:id/schedules", h.CreateSchedule, admin)
	api.DELETE("/doctors/:id/schedules/:scheduleId", h.DeleteSchedule, admin)
	api.GET("/doctors/:id/config", h.GetConfig, staff)
	api.PUT("/doctors/:id/config", h.UpdateConfig, admin)

	api.GET("/excluded-dates", h.ListExcludedDates, staff)
	api.POST("/excluded-dates", h.CreateExcludedDate, admin)
	api.DELETE("/excluded-dates/:id", h.DeleteExcludedDate, admin)
}

func isValidationError(err error) bool {
	for _, target := range []error{
		ErrMissingDate, ErrInvalidDateFormat, ErrPastDate, ErrInvalidClockFormat,
		ErrValidation, ErrInvalidStatus, ErrInvalidTransition, ErrNoAvailableSlots,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// fail maps service errors to responses. Unexpected errors are logged and
// answered with a generic message.
func (h *Handler) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrSlotConflict):
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
			"message": ErrSlotConflict.Error(),
			"errors":  map[string][]string{"time": {ErrSlotConflict.Error()}},
		})
	case isValidationError(err):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	h.logger.Error().Err(err).Str("method", c.Request().Method).Str("path", c.Path()).
		Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
		Msg("appointment request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, genericFailure)
}

func actor(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func requiredUUID(raw, field string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnprocessableEntity, field+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnprocessableEntity, field+" must be a valid id")
	}
	return id, nil
}

// -- Slots --

func (h *Handler) GetSlots(c echo.Context) error {
	doctorID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	res, err := h.svc.GetSlots(c.Request().Context(), doctorID, c.QueryParam("date"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) CheckAvailability(c echo.Context) error {
	doctorID, err := requiredUUID(c.QueryParam("doctor_id"), "doctor_id")
	if err != nil {
		return err
	}
	ok, err := h.svc.CheckAvailability(c.Request().Context(), doctorID, c.QueryParam("date"), c.QueryParam("time"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"available": ok})
}

// -- Appointments --

type bookingRequest struct {
	DoctorID    string  `json:"doctor_id"`
	PatientID   string  `json:"patient_id"`
	FirstName   string  `json:"first_name"`
	LastName    string  `json:"last_name"`
	Phone       string  `json:"phone"`
	DateOfBirth string  `json:"date_of_birth"`
	Email       *string `json:"email"`
	Date        string  `json:"appointment_date"`
	Time        string  `json:"appointment_time"`
	Notes       *string `json:"notes"`
	Status      *int    `json:"status"`
}

func (r bookingRequest) input(requireDoctor bool) (BookingInput, error) {
	in := BookingInput{
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Phone:     r.Phone,
		Email:     r.Email,
		Date:      r.Date,
		Time:      r.Time,
		Notes:     r.Notes,
		Status:    r.Status,
	}
	if requireDoctor || r.DoctorID != "" {
		id, err := requiredUUID(r.DoctorID, "doctor_id")
		if err != nil {
			return in, err
		}
		in.DoctorID = id
	}
	if r.PatientID != "" {
		id, err := requiredUUID(r.PatientID, "patient_id")
		if err != nil {
			return in, err
		}
		in.PatientID = &id
	}
	if r.DateOfBirth != "" {
		dob, err := time.Parse(dateLayout, r.DateOfBirth)
		if err != nil {
			return in, echo.NewHTTPError(http.StatusUnprocessableEntity, "date_of_birth must be YYYY-MM-DD")
		}
		in.DateOfBirth = &dob
	}
	return in, nil
}

func (h *Handler) Book(c echo.Context) error {
	var req bookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in, err := req.input(true)
	if err != nil {
		return err
	}
	if in.PatientID == nil && !in.hasIdentity() {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "patient_id or patient details are required")
	}
	view, err := h.svc.Book(c.Request().Context(), actor(c), in)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, view)
}

func (h *Handler) Reschedule(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req bookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in, err := req.input(false)
	if err != nil {
		return err
	}
	view, err := h.svc.Reschedule(c.Request().Context(), actor(c), id, in)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Cancel(c.Request().Context(), actor(c), id); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req struct {
		Status *int `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Status == nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "status is required")
	}
	view, err := h.svc.UpdateStatus(c.Request().Context(), actor(c), id, *req.Status)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	view, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := AppointmentFilter{Limit: pg.Limit, Offset: pg.Offset}
	if v := c.QueryParam("doctor_id"); v != "" {
		id, err := requiredUUID(v, "doctor_id")
		if err != nil {
			return err
		}
		f.DoctorID = &id
	}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := requiredUUID(v, "patient_id")
		if err != nil {
			return err
		}
		f.PatientID = &id
	}
	if v := c.QueryParam("date"); v != "" {
		d, err := ParseDate(v)
		if err != nil {
			return h.fail(c, err)
		}
		f.Date = &d
	}
	if v := c.QueryParam("status"); v != "" {
		code, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, "status must be an integer")
		}
		st, err := ParseStatus(code)
		if err != nil {
			return h.fail(c, err)
		}
		f.Status = &st
	}

	items, total, err := h.svc.ListAppointments(c.Request().Context(), f)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// Import accepts a multipart upload with a csv or xlsx "file" and a
// "doctor_id". File problems reject the whole request; row problems are
// listed in the result.
func (h *Handler) Import(c echo.Context) error {
	doctorID, err := requiredUUID(c.FormValue("doctor_id"), "doctor_id")
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "file is required")
	}
	if spreadsheet.Format(fh.Filename) == "" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, spreadsheet.ErrUnsupportedFormat.Error())
	}
	f, err := fh.Open()
	if err != nil {
		return h.fail(c, err)
	}
	defer f.Close()

	table, err := spreadsheet.Read(fh.Filename, f)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	rows, err := RowsFromTable(table.Header, table.Rows)
	if err != nil {
		return h.fail(c, err)
	}

	res, err := h.svc.Import(c.Request().Context(), actor(c), doctorID, rows)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// -- Schedules and config --

type scheduleRequest struct {
	DayOfWeek      *int        `json:"day_of_week"`
	SpecificDate   string      `json:"specific_date"`
	ShiftPeriod    ShiftPeriod `json:"shift_period"`
	StartTime      string      `json:"start_time"`
	EndTime        string      `json:"end_time"`
	PatientsPerDay int         `json:"number_of_patients_per_day"`
	IsActive       *bool       `json:"is_active"`
}

func (h *Handler) CreateSchedule(c echo.Context) error {
	doctorID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req scheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sch := &DoctorSchedule{
		DoctorID:       doctorID,
		DayOfWeek:      req.DayOfWeek,
		ShiftPeriod:    req.ShiftPeriod,
		PatientsPerDay: req.PatientsPerDay,
		IsActive:       req.IsActive == nil || *req.IsActive,
	}
	if req.SpecificDate != "" {
		d, err := ParseDate(req.SpecificDate)
		if err != nil {
			return h.fail(c, err)
		}
		sch.SpecificDate = &d
	}
	if sch.StartTime, err = ParseClock(req.StartTime); err != nil {
		return h.fail(c, err)
	}
	if sch.EndTime, err = ParseClock(req.EndTime); err != nil {
		return h.fail(c, err)
	}

	if err := h.svc.CreateSchedule(c.Request().Context(), actor(c), sch); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, sch)
}

func (h *Handler) ListSchedules(c echo.Context) error {
	doctorID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListSchedules(c.Request().Context(), doctorID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

func (h *Handler) DeleteSchedule(c echo.Context) error {
	doctorID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "scheduleId")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteSchedule(c.Request().Context(), doctorID, id); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetConfig(c echo.Context) error {
	doctorID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	cfg, err := h.svc.GetConfig(c.Request().Context(), doctorID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, cfg)
}

func (h *Handler) UpdateConfig(c echo.Context) error {
	doctorID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var cfg DoctorConfig
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cfg.DoctorID = doctorID
	if err := h.svc.UpdateConfig(c.Request().Context(), actor(c), &cfg); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, cfg)
}

// -- Excluded dates --

type excludedDateRequest struct {
	DoctorID        string  `json:"doctor_id"`
	StartDate       string  `json:"start_date"`
	EndDate         string  `json:"end_date"`
	RecurringYearly bool    `json:"recurring_yearly"`
	Reason          *string `json:"reason"`
}

func (h *Handler) CreateExcludedDate(c echo.Context) error {
	var req excludedDateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e := &ExcludedDate{RecurringYearly: req.RecurringYearly, Reason: req.Reason}
	if req.DoctorID != "" {
		id, err := requiredUUID(req.DoctorID, "doctor_id")
		if err != nil {
			return err
		}
		e.DoctorID = &id
	}
	var err error
	if e.StartDate, err = ParseDate(req.StartDate); err != nil {
		return h.fail(c, err)
	}
	if req.EndDate == "" {
		e.EndDate = e.StartDate
	} else if e.EndDate, err = ParseDate(req.EndDate); err != nil {
		return h.fail(c, err)
	}

	if err := h.svc.CreateExcludedDate(c.Request().Context(), actor(c), e); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) ListExcludedDates(c echo.Context) error {
	var doctorID *uuid.UUID
	if v := c.QueryParam("doctor_id"); v != "" {
		id, err := requiredUUID(v, "doctor_id")
		if err != nil {
			return err
		}
		doctorID = &id
	}
	items, err := h.svc.ListExcludedDates(c.Request().Context(), doctorID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

func (h *Handler) DeleteExcludedDate(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteExcludedDate(c.Request().Context(), id); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
