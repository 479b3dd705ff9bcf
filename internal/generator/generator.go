package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/templeops/temple-tasks/internal/model"
	"github.com/templeops/temple-tasks/internal/policy"
	"github.com/templeops/temple-tasks/internal/store"
)

const (
	bookingStreamName     = "BOOKINGS"
	sevaScheduledSubject  = "booking.seva.scheduled"
	eventScheduledSubject = "booking.event.scheduled"
)

// SystemActor is the creator identity for generated tasks. It is distinct
// from any human user so audit trails separate automated from manual creation.
var SystemActor = model.Actor{
	ID:   "auto-generator",
	Name: "Auto Generator",
	Role: policy.SystemRole,
}

// BookingEvent is the inbound payload from the seva/event booking subsystem
type BookingEvent struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Date      string `json:"date"`       // YYYY-MM-DD
	StartTime string `json:"start_time"` // HH:MM
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// AutoGenerator produces routine tasks from templates once per day and
// ritual/event tasks when the booking subsystem schedules a seva or event
type AutoGenerator struct {
	logger    *zap.Logger
	js        nats.JetStreamContext
	store     *store.TaskStore
	templates []model.TaskTemplate
	cronSpec  string
	cron      *cron.Cron
	subs      []*nats.Subscription
}

// NewAutoGenerator creates an auto-generator. cronSpec uses the
// seconds-aware cron format and controls when the daily job fires.
func NewAutoGenerator(js nats.JetStreamContext, taskStore *store.TaskStore, templates []model.TaskTemplate, cronSpec string, logger *zap.Logger) *AutoGenerator {
	logger = logger.Named("auto-generator")
	cl := &cronLogger{logger: logger.Named("cron")}

	return &AutoGenerator{
		logger:    logger,
		js:        js,
		store:     taskStore,
		templates: templates,
		cronSpec:  cronSpec,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cl)),
		),
	}
}

// Start registers the daily cron job and subscribes to booking events
func (g *AutoGenerator) Start(ctx context.Context) error {
	if _, err := g.cron.AddFunc(g.cronSpec, func() {
		date := time.Now().Format(model.DateLayout)
		created := g.RunDaily(ctx, date)
		g.logger.Info("Daily generation run finished",
			zap.String("date", date),
			zap.Int("created", created))
	}); err != nil {
		return fmt.Errorf("invalid daily cron spec %q: %w", g.cronSpec, err)
	}
	g.cron.Start()

	if err := g.subscribeToBookings(ctx); err != nil {
		return err
	}

	g.logger.Info("Auto-generator started",
		zap.String("cron_spec", g.cronSpec),
		zap.Int("templates", len(g.templates)))

	return nil
}

// Stop stops the cron scheduler and drops the booking subscriptions
func (g *AutoGenerator) Stop() {
	stopped := g.cron.Stop()
	<-stopped.Done()
	for _, sub := range g.subs {
		sub.Unsubscribe()
	}
}

// RunDaily generates one task per daily template for the given date.
// Idempotent: a template that already produced a task for the date is
// skipped, so re-running the job is a no-op rather than a duplicate.
func (g *AutoGenerator) RunDaily(ctx context.Context, date string) int {
	created := 0
	for _, tpl := range g.templates {
		if tpl.Trigger != model.TriggerDaily {
			continue
		}

		tag := templateTag(tpl.ID)
		if existing := g.store.ListByDate(ctx, date, store.Filters{Tag: tag}); len(existing) > 0 {
			continue
		}

		draft := g.draftFromTemplate(tpl, date)
		task, err := g.store.Create(ctx, draft, SystemActor)
		if err != nil {
			g.logger.Error("Failed to generate daily task",
				zap.String("template_id", tpl.ID),
				zap.String("date", date),
				zap.Error(err))
			continue
		}
		created++

		g.logger.Info("Daily task generated",
			zap.String("task_id", task.ID),
			zap.String("template_id", tpl.ID),
			zap.String("date", date))
	}
	return created
}

// HandleSevaScheduled creates or updates the task linked to a seva.
// Repeated triggers for the same seva id apply delta updates instead of
// duplicating the task.
func (g *AutoGenerator) HandleSevaScheduled(ctx context.Context, evt BookingEvent) error {
	tpl := g.templateFor(model.TriggerSeva)
	return g.upsertLinkedTask(ctx, evt, tpl, func(draft *model.Task) {
		draft.LinkedSevaID = evt.ID
		if draft.Type == "" {
			draft.Type = model.TaskTypeRitualSeva
		}
		if draft.Function == "" {
			draft.Function = model.FunctionRitual
		}
	}, g.store.FindByLinkedSeva(ctx, evt.ID))
}

// HandleEventScheduled creates or updates the task linked to a festival event
func (g *AutoGenerator) HandleEventScheduled(ctx context.Context, evt BookingEvent) error {
	tpl := g.templateFor(model.TriggerEvent)
	return g.upsertLinkedTask(ctx, evt, tpl, func(draft *model.Task) {
		draft.LinkedEventID = evt.ID
		if draft.Type == "" {
			draft.Type = model.TaskTypeEventFestival
		}
		if draft.Function == "" {
			draft.Function = model.FunctionGeneral
		}
	}, g.store.FindByLinkedEvent(ctx, evt.ID))
}

func (g *AutoGenerator) upsertLinkedTask(ctx context.Context, evt BookingEvent, tpl *model.TaskTemplate, bind func(*model.Task), existing *model.Task) error {
	if evt.ID == "" || evt.Date == "" {
		return fmt.Errorf("booking event requires id and date")
	}

	if existing != nil {
		upd := store.ScheduleUpdate{}
		if evt.Date != existing.ScheduledDate {
			upd.ScheduledDate = &evt.Date
		}
		if evt.StartTime != "" && evt.StartTime != existing.ScheduledTime {
			upd.ScheduledTime = &evt.StartTime
			upd.DueTime = &evt.StartTime
		}
		if upd.ScheduledDate == nil && upd.ScheduledTime == nil {
			return nil
		}

		_, err := g.store.UpdateSchedule(ctx, existing.ID, existing.Version, upd, SystemActor)
		if err != nil {
			// A concurrent edit wins this round; the next trigger reapplies
			g.logger.Warn("Failed to apply booking delta",
				zap.String("task_id", existing.ID),
				zap.String("booking_id", evt.ID),
				zap.Error(err))
			return nil
		}

		g.logger.Info("Booking delta applied",
			zap.String("task_id", existing.ID),
			zap.String("booking_id", evt.ID),
			zap.String("date", evt.Date),
			zap.String("start_time", evt.StartTime))
		return nil
	}

	var draft *model.Task
	if tpl != nil {
		draft = g.draftFromTemplate(*tpl, evt.Date)
	} else {
		draft = &model.Task{Priority: model.TaskPriorityMedium}
		draft.ScheduledDate = evt.Date
	}
	if evt.Name != "" {
		draft.Title = evt.Name
	}
	if evt.StartTime != "" {
		draft.ScheduledTime = evt.StartTime
		draft.DueTime = evt.StartTime
		draft.TimeBlock = model.BlockForTime(evt.StartTime)
	}
	bind(draft)

	task, err := g.store.Create(ctx, draft, SystemActor)
	if err != nil {
		return fmt.Errorf("failed to generate task for booking %s: %w", evt.ID, err)
	}

	g.logger.Info("Booking task generated",
		zap.String("task_id", task.ID),
		zap.String("booking_id", evt.ID))
	return nil
}

// subscribeToBookings wires the inbound booking subjects to the handlers
func (g *AutoGenerator) subscribeToBookings(ctx context.Context) error {
	_, err := g.js.StreamInfo(bookingStreamName)
	if err != nil {
		if err != nats.ErrStreamNotFound {
			return fmt.Errorf("failed to get stream info: %w", err)
		}
		if _, err := g.js.AddStream(&nats.StreamConfig{
			Name:     bookingStreamName,
			Subjects: []string{"booking.*.*"},
			Storage:  nats.FileStorage,
		}); err != nil {
			return fmt.Errorf("failed to create booking stream: %w", err)
		}
	}

	handlers := map[string]func(context.Context, BookingEvent) error{
		sevaScheduledSubject:  g.HandleSevaScheduled,
		eventScheduledSubject: g.HandleEventScheduled,
	}
	durables := map[string]string{
		sevaScheduledSubject:  "generator-seva-consumer",
		eventScheduledSubject: "generator-event-consumer",
	}

	for subject, handle := range handlers {
		subject, handle := subject, handle
		sub, err := g.js.Subscribe(subject, func(msg *nats.Msg) {
			var evt BookingEvent
			if err := json.Unmarshal(msg.Data, &evt); err != nil {
				g.logger.Error("Failed to unmarshal booking event",
					zap.String("subject", subject),
					zap.Error(err))
				return
			}

			if err := handle(ctx, evt); err != nil {
				g.logger.Error("Failed to handle booking event",
					zap.String("subject", subject),
					zap.String("booking_id", evt.ID),
					zap.Error(err))
				return
			}
			msg.Ack()
		}, nats.Durable(durables[subject]))
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		g.subs = append(g.subs, sub)
	}

	return nil
}

func (g *AutoGenerator) draftFromTemplate(tpl model.TaskTemplate, date string) *model.Task {
	return &model.Task{
		Title:             tpl.Name,
		Description:       tpl.Description,
		Type:              tpl.Type,
		Function:          tpl.Function,
		TimeBlock:         tpl.TimeBlock,
		Priority:          tpl.Priority,
		ScheduledDate:     date,
		ScheduledTime:     tpl.ScheduledTime,
		DueTime:           tpl.DueTime,
		EstimatedDuration: tpl.EstimatedDuration,
		SLAMinutes:        tpl.SLAMinutes,
		Tags:              append(append([]string(nil), tpl.Tags...), templateTag(tpl.ID)),
	}
}

func (g *AutoGenerator) templateFor(trigger model.TriggerKind) *model.TaskTemplate {
	for i := range g.templates {
		if g.templates[i].Trigger == trigger {
			return &g.templates[i]
		}
	}
	return nil
}

func templateTag(templateID string) string {
	return "template:" + templateID
}

func minutes(v int) *int {
	return &v
}

// DefaultTemplates returns the built-in template set used when the config
// file does not provide one
func DefaultTemplates() []model.TaskTemplate {
	return []model.TaskTemplate{
		{
			ID:            "daily-shrine-open",
			Name:          "Open shrine and light lamps",
			Type:          model.TaskTypeDailyRoutine,
			Function:      model.FunctionRitual,
			TimeBlock:     model.TimeBlockMorning,
			Priority:      model.TaskPriorityHigh,
			ScheduledTime: "05:30",
			DueTime:       "06:00",
			SLAMinutes:    minutes(15),
			Trigger:       model.TriggerDaily,
		},
		{
			ID:                "daily-kitchen-prep",
			Name:              "Prepare prasadam for morning offering",
			Type:              model.TaskTypeDailyRoutine,
			Function:          model.FunctionKitchen,
			TimeBlock:         model.TimeBlockMorning,
			Priority:          model.TaskPriorityMedium,
			ScheduledTime:     "07:00",
			DueTime:           "09:00",
			EstimatedDuration: 90,
			SLAMinutes:        minutes(30),
			Trigger:           model.TriggerDaily,
		},
		{
			ID:            "daily-safety-walkthrough",
			Name:          "Evening facility and safety walkthrough",
			Type:          model.TaskTypeFacilitySafety,
			Function:      model.FunctionSafety,
			TimeBlock:     model.TimeBlockEvening,
			Priority:      model.TaskPriorityHigh,
			ScheduledTime: "19:00",
			DueTime:       "20:00",
			SLAMinutes:    minutes(60),
			Trigger:       model.TriggerDaily,
		},
		{
			ID:         "seva-preparation",
			Name:       "Prepare for scheduled seva",
			Type:       model.TaskTypeRitualSeva,
			Function:   model.FunctionRitual,
			Priority:   model.TaskPriorityHigh,
			SLAMinutes: minutes(15),
			Trigger:    model.TriggerSeva,
		},
		{
			ID:         "event-preparation",
			Name:       "Prepare for scheduled festival event",
			Type:       model.TaskTypeEventFestival,
			Function:   model.FunctionGeneral,
			Priority:   model.TaskPriorityHigh,
			SLAMinutes: minutes(30),
			Trigger:    model.TriggerEvent,
		},
	}
}
