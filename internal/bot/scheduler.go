package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"scalper/pkg/utils"
)

// Task - именованная периодическая задача
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler - явный планировщик периодических задач
//
// Каждая задача крутится в своей горутине со своим тикером. Паника
// внутри задачи гасится и логируется: отказ одной задачи не роняет
// процесс и остальные задачи. Дневная задача срабатывает в
// фиксированный час UTC независимо от времени старта процесса.
type Scheduler struct {
	tasks []Task
	daily []dailyTask

	log *utils.Logger
	wg  sync.WaitGroup
	now func() time.Time
}

type dailyTask struct {
	name    string
	hourUTC int
	run     func(ctx context.Context) error
}

// NewScheduler создает планировщик
func NewScheduler(log *utils.Logger) *Scheduler {
	return &Scheduler{
		log: log.WithComponent("scheduler"),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Add регистрирует периодическую задачу (до Start)
func (s *Scheduler) Add(name string, interval time.Duration, run func(ctx context.Context) error) {
	s.tasks = append(s.tasks, Task{Name: name, Interval: interval, Run: run})
}

// AddDaily регистрирует задачу на фиксированный час UTC (до Start)
func (s *Scheduler) AddDaily(name string, hourUTC int, run func(ctx context.Context) error) {
	s.daily = append(s.daily, dailyTask{name: name, hourUTC: hourUTC, run: run})
}

// Start запускает все задачи; возврат после остановки контекста не ждёт
func (s *Scheduler) Start(ctx context.Context) {
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.runPeriodic(ctx, t)
	}
	for _, t := range s.daily {
		s.wg.Add(1)
		go s.runDaily(ctx, t)
	}

	s.log.Info("scheduler started",
		zap.Int("periodic_tasks", len(s.tasks)),
		zap.Int("daily_tasks", len(s.daily)))
}

// Wait блокируется до завершения всех задач (после отмены контекста)
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// runPeriodic крутит одну периодическую задачу
func (s *Scheduler) runPeriodic(ctx context.Context, t Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.execute(ctx, t.Name, t.Run)
		}
	}
}

// runDaily крутит задачу фиксированного часа UTC
func (s *Scheduler) runDaily(ctx context.Context, t dailyTask) {
	defer s.wg.Done()

	for {
		next := utils.NextDailyReset(s.now(), t.hourUTC)
		timer := time.NewTimer(next.Sub(s.now()))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.execute(ctx, t.name, t.run)
		}
	}
}

// execute выполняет задачу с метриками и защитой от паники
func (s *Scheduler) execute(ctx context.Context, name string, run func(ctx context.Context) error) {
	start := s.now()

	defer func() {
		if r := recover(); r != nil {
			TaskRuns.WithLabelValues(name, "panic").Inc()
			s.log.Error("task panicked",
				zap.String("task", name),
				zap.Any("panic", r))
		}
	}()

	err := run(ctx)

	TaskDuration.WithLabelValues(name).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		TaskRuns.WithLabelValues(name, "error").Inc()
		s.log.Error("task failed",
			zap.String("task", name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	TaskRuns.WithLabelValues(name, "ok").Inc()
}

// TaskNames возвращает имена зарегистрированных задач (для health API)
func (s *Scheduler) TaskNames() []string {
	names := make([]string, 0, len(s.tasks)+len(s.daily))
	for _, t := range s.tasks {
		names = append(names, t.Name)
	}
	for _, t := range s.daily {
		names = append(names, fmt.Sprintf("%s@%02d:00UTC", t.name, t.hourUTC))
	}
	return names
}
