package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/domain/identity"
)

// Window is one shift's working interval, [Start, End).
type Window struct {
	Start Clock `json:"start"`
	End   Clock `json:"end"`
}

func (w Window) Contains(c Clock) bool {
	return c >= w.Start && c < w.End
}

// WorkingHours is the candidate slot set for one doctor on one date.
type WorkingHours struct {
	Slots        []Clock  `json:"slots"`
	LastSlotEnd  *Clock   `json:"last_slot_end"`
	SlotDuration int      `json:"slot_duration"`
	Windows      []Window `json:"windows"`
}

func emptyWorkingHours() *WorkingHours {
	return &WorkingHours{Slots: []Clock{}}
}

// DoctorDirectory resolves doctors for the calculator and the appointment
// views. *identity.Service satisfies it.
type DoctorDirectory interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*identity.Doctor, error)
}

// SlotCache stores JSON documents under string keys with a TTL.
type SlotCache interface {
	GetJSON(ctx context.Context, key string, dst interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
}

const slotCachePrefix = "slots:"

func slotCacheKey(doctorID uuid.UUID, date time.Time) string {
	return slotCachePrefix + doctorID.String() + ":" + DateOnly(date).Format(dateLayout)
}

func doctorCachePrefix(doctorID uuid.UUID) string {
	return slotCachePrefix + doctorID.String() + ":"
}

// HoursCalculator turns a doctor's schedule rows, config and exclusions into
// the candidate slots for a date.
type HoursCalculator struct {
	doctors   DoctorDirectory
	schedules ScheduleRepository
	configs   ConfigRepository
	excluded  ExcludedDateRepository
	logger    zerolog.Logger

	cache    SlotCache
	cacheTTL time.Duration
}

func NewHoursCalculator(doctors DoctorDirectory, schedules ScheduleRepository, configs ConfigRepository,
	excluded ExcludedDateRepository, logger zerolog.Logger) *HoursCalculator {
	return &HoursCalculator{
		doctors:   doctors,
		schedules: schedules,
		configs:   configs,
		excluded:  excluded,
		logger:    logger,
	}
}

// WithCache memoises Compute results. A nil cache disables memoisation.
func (h *HoursCalculator) WithCache(cache SlotCache, ttl time.Duration) *HoursCalculator {
	h.cache = cache
	h.cacheTTL = ttl
	return h
}

// Compute returns the working hours for doctorID on date. A missing or
// inactive doctor, a day without active schedule rows, or an excluded date
// yields no slots and a nil LastSlotEnd.
func (h *HoursCalculator) Compute(ctx context.Context, doctorID uuid.UUID, date time.Time) (*WorkingHours, error) {
	key := slotCacheKey(doctorID, date)
	if h.cache != nil {
		var cached WorkingHours
		found, err := h.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			h.logger.Warn().Err(err).Str("key", key).Msg("slot cache read failed")
		} else if found {
			return &cached, nil
		}
	}

	wh, err := h.compute(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}

	if h.cache != nil {
		if err := h.cache.SetJSON(ctx, key, wh, h.cacheTTL); err != nil {
			h.logger.Warn().Err(err).Str("key", key).Msg("slot cache write failed")
		}
	}
	return wh, nil
}

func (h *HoursCalculator) compute(ctx context.Context, doctorID uuid.UUID, date time.Time) (*WorkingHours, error) {
	doc, err := h.doctors.GetDoctor(ctx, doctorID)
	if errors.Is(err, identity.ErrNotFound) {
		return emptyWorkingHours(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	if !doc.Active {
		return emptyWorkingHours(), nil
	}

	if h.excluded != nil {
		exclusions, err := h.excluded.ForDoctor(ctx, doctorID)
		if err != nil {
			return nil, fmt.Errorf("list excluded dates: %w", err)
		}
		for _, e := range exclusions {
			if e.AppliesTo(doctorID) && e.Covers(date) {
				return emptyWorkingHours(), nil
			}
		}
	}

	rows, err := h.schedules.ActiveForDay(ctx, doctorID, date.Weekday(), date)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	if len(rows) == 0 {
		return emptyWorkingHours(), nil
	}

	cfg, err := h.configs.Get(ctx, doctorID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get doctor config: %w", err)
	}

	return computeWorkingHours(rows, cfg, h.logger.With().Str("doctor_id", doctorID.String()).Logger()), nil
}

// computeWorkingHours expands shifts morning first. A shift that cannot be
// expanded is logged and skipped without affecting the others.
func computeWorkingHours(rows []*DoctorSchedule, cfg *DoctorConfig, logger zerolog.Logger) *WorkingHours {
	wh := emptyWorkingHours()

	byShift := make(map[ShiftPeriod]*DoctorSchedule, len(shiftOrder))
	for _, s := range rows {
		if _, dup := byShift[s.ShiftPeriod]; !dup {
			byShift[s.ShiftPeriod] = s
		}
	}

	seen := make(map[Clock]bool)
	for _, period := range shiftOrder {
		s, ok := byShift[period]
		if !ok {
			continue
		}
		slots, step, err := shiftSlots(s, cfg.fixedSlotMinutes())
		if err != nil {
			logger.Warn().Err(err).Str("schedule_id", s.ID.String()).Str("shift", string(period)).
				Msg("skipping shift")
			continue
		}

		if wh.SlotDuration == 0 {
			wh.SlotDuration = step
		}
		wh.Windows = append(wh.Windows, Window{Start: s.StartTime, End: s.EndTime})
		for _, c := range slots {
			if !seen[c] {
				seen[c] = true
				wh.Slots = append(wh.Slots, c)
			}
		}
		end := s.EndTime
		if wh.LastSlotEnd == nil || end > *wh.LastSlotEnd {
			wh.LastSlotEnd = &end
		}
	}

	sort.Slice(wh.Slots, func(i, j int) bool { return wh.Slots[i] < wh.Slots[j] })
	return wh
}

// shiftSlots expands one shift. With fixedMinutes > 0 it steps by that
// duration; otherwise the shift carries ceil(patients/2) slots spread
// evenly. Every slot starts strictly before the shift end.
func shiftSlots(s *DoctorSchedule, fixedMinutes int) ([]Clock, int, error) {
	length := s.EndTime.Minutes() - s.StartTime.Minutes()
	if length <= 0 {
		return nil, 0, fmt.Errorf("shift %s-%s has no length", s.StartTime, s.EndTime)
	}

	if fixedMinutes > 0 {
		var out []Clock
		for c := s.StartTime; c < s.EndTime; c = c.Add(fixedMinutes) {
			out = append(out, c)
		}
		return out, fixedMinutes, nil
	}

	if s.PatientsPerDay <= 0 {
		return nil, 0, fmt.Errorf("shift %s-%s has no patient quota", s.StartTime, s.EndTime)
	}
	quota := ceilDiv(s.PatientsPerDay, 2)
	step := ceilDiv(length, quota)

	out := make([]Clock, 0, quota)
	for i := 0; i < quota; i++ {
		c := s.StartTime.Add(i * step)
		if c >= s.EndTime {
			break
		}
		out = append(out, c)
	}
	return out, step, nil
}
