package server

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	core "github.com/zeroloop/zeroloop/internal/agent/core"
	"github.com/zeroloop/zeroloop/internal/store"
)

// Scheduler fires due recurring queries through the plan engine. A Redis
// lock per schedule keeps multiple API nodes from firing the same one.
type Scheduler struct {
	Store    *store.Store
	Engine   PlanEngine
	Rdb      *redis.Client
	Logger   *log.Logger
	Interval time.Duration

	stop chan struct{}
}

func (s *Scheduler) Start() {
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	if s.Interval <= 0 {
		s.Interval = time.Minute
	}
	s.stop = make(chan struct{})
	ticker := time.NewTicker(s.Interval)
	go func() {
		for {
			select {
			case <-s.stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	if s.stop != nil {
		close(s.stop)
	}
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	now := time.Now()
	due, err := s.Store.ListDueSchedules(ctx, now)
	if err != nil {
		s.Logger.Printf("list due schedules: %v", err)
		return
	}
	for _, sched := range due {
		expr, err := cronexpr.Parse(sched.Cron)
		if err != nil {
			s.Logger.Printf("schedule %s: bad cron %q, disabling: %v", sched.ID, sched.Cron, err)
			_ = s.Store.SetScheduleEnabled(ctx, sched.ID, sched.UserID, false)
			continue
		}
		if s.Rdb != nil {
			lockKey := "sched:lock:" + sched.ID
			ok, _ := s.Rdb.SetNX(ctx, lockKey, "1", 2*time.Minute).Result()
			if !ok {
				continue
			}
		}
		if err := s.Store.MarkScheduleRun(ctx, sched.ID, now, expr.Next(now)); err != nil {
			s.Logger.Printf("schedule %s: mark run: %v", sched.ID, err)
			continue
		}
		go s.fire(sched)
	}
}

func (s *Scheduler) fire(sched store.ScheduleRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := s.Engine.HandleMessage(ctx, sched.ConversationID, sched.Query, nil, nil)
	if err != nil {
		s.Logger.Printf("schedule %s: run failed: %v", sched.ID, err)
		if result != nil && result.Plan != nil {
			s.persistPlanRun(ctx, sched, result.Plan)
		}
		return
	}
	if result.Plan != nil {
		s.persistPlanRun(ctx, sched, result.Plan)
	}
	if _, err := s.Store.AddMessage(ctx, sched.ConversationID, "assistant", result.Text); err != nil {
		s.Logger.Printf("schedule %s: persist result: %v", sched.ID, err)
	}
}

func (s *Scheduler) persistPlanRun(ctx context.Context, sched store.ScheduleRecord, plan *core.ExecutionPlan) {
	steps, err := json.Marshal(plan.Steps)
	if err != nil {
		steps = []byte("[]")
	}
	rec := store.PlanRunRecord{
		ID:             plan.ID,
		ConversationID: sched.ConversationID,
		PlanType:       plan.PlanType,
		Status:         string(plan.Status),
		UserRequest:    sched.Query,
		Steps:          steps,
		FinalResult:    plan.FinalResult,
	}
	for _, step := range plan.Steps {
		if step.StartTime != nil && rec.StartedAt == nil {
			rec.StartedAt = step.StartTime
		}
		if step.EndTime != nil {
			rec.FinishedAt = step.EndTime
		}
		if step.Error != "" && rec.Error == "" {
			rec.Error = step.Error
		}
	}
	if err := s.Store.InsertPlanRun(ctx, rec); err != nil {
		s.Logger.Printf("schedule %s: persist plan run: %v", sched.ID, err)
	}
}
