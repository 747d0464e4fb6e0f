// Package notify persists per-user notifications and pushes them to the
// user's open server-push channels.
package notify

import (
	"context"
	"sync"
	"time"

	"PPLive/logger"
	"PPLive/module/live/model"
	"PPLive/module/live/repo"
	"PPLive/tools/errs"
	"PPLive/tools/safe"

	"go.uber.org/zap"
)

// NotifyResult is the outcome for one recipient.
type NotifyResult struct {
	UserID         string `json:"userId"`
	NotificationID string `json:"notificationId,omitempty"`
	Delivered      int    `json:"delivered"`
	Dropped        int    `json:"dropped"`
	Err            error  `json:"-"`
	Error          string `json:"error,omitempty"`
}

type Options struct {
	Workers      int
	Queue        int
	StoreTimeout time.Duration
	Clock        func() time.Time
}

type job struct {
	ctx    context.Context
	userID string
	in     model.NotificationInput
	out    *NotifyResult
	wg     *sync.WaitGroup
}

// Publisher handles each recipient as an independent job on a fixed worker
// pool; a failure for one user never touches the others.
type Publisher struct {
	store repo.NotificationStore
	hub   *PushHub
	opts  Options

	jobs      chan job
	quit      chan struct{}
	closeOnce sync.Once
	workers   sync.WaitGroup
}

func New(store repo.NotificationStore, hub *PushHub, opts Options) *Publisher {
	safe.MustNotNil(store, "store")
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.Queue <= 0 {
		opts.Queue = 256
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = repo.DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	p := &Publisher{
		store: repo.BoundedNotifications(store, opts.StoreTimeout),
		hub:   hub,
		opts:  opts,
		jobs:  make(chan job, opts.Queue),
		quit:  make(chan struct{}),
	}
	for i := 0; i < opts.Workers; i++ {
		p.workers.Add(1)
		safe.SafeGo(func() {
			defer p.workers.Done()
			for {
				select {
				case <-p.quit:
					return
				case j := <-p.jobs:
					p.run(j)
				}
			}
		})
	}
	return p
}

func (p *Publisher) Hub() *PushHub { return p.hub }

// Publish stores and pushes n for every user id. Results come back in the
// order of the de-duplicated user list. The error is only for invalid input.
func (p *Publisher) Publish(ctx context.Context, userIDs []string, in model.NotificationInput) ([]NotifyResult, error) {
	if in.Type == "" || in.Title == "" {
		return nil, errs.ErrArgs.WrapMsg("notification needs type and title")
	}
	users := uniq(userIDs)
	if len(users) == 0 {
		return nil, errs.ErrArgs.WrapMsg("no recipients")
	}

	results := make([]NotifyResult, len(users))
	var wg sync.WaitGroup
	for i, u := range users {
		results[i].UserID = u
		wg.Add(1)
		j := job{ctx: ctx, userID: u, in: in, out: &results[i], wg: &wg}
		select {
		case p.jobs <- j:
		case <-ctx.Done():
			results[i].Err = errs.ErrTimeout.WrapMsg("publish cancelled", "user", u)
			wg.Done()
		case <-p.quit:
			results[i].Err = errs.ErrInternalServer.WrapMsg("publisher closed")
			wg.Done()
		}
	}
	wg.Wait()

	failed := 0
	for i := range results {
		if results[i].Err != nil {
			results[i].Error = results[i].Err.Error()
			failed++
		}
	}
	logger.Info("notification published", zap.String("type", in.Type), zap.Int("users", len(users)), zap.Int("failed", failed))
	return results, nil
}

func (p *Publisher) run(j job) {
	defer j.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			j.out.Err = errs.ErrPanic(r)
			logger.Error("notify worker panic", zap.String("user", j.userID), zap.Any("panic", r))
		}
	}()

	id, err := p.store.CreateNotification(j.ctx, j.userID, j.in.Type, j.in.Title, j.in.Content, j.in.URL, j.in.ActorID)
	if err != nil {
		j.out.Err = err
		logger.Warn("notification not stored", zap.String("user", j.userID), zap.Error(err))
		return
	}
	j.out.NotificationID = id
	if p.hub == nil {
		return
	}
	j.out.Delivered, j.out.Dropped = p.hub.Push(&model.Notification{
		ID:        id,
		UserID:    j.userID,
		Type:      j.in.Type,
		Title:     j.in.Title,
		Content:   j.in.Content,
		URL:       j.in.URL,
		ActorID:   j.in.ActorID,
		CreatedAt: p.opts.Clock(),
	})
}

// Close stops the workers. Call it after the last Publish; queued jobs that
// have not started report an error.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		close(p.quit)
		p.workers.Wait()
		for {
			select {
			case j := <-p.jobs:
				j.out.Err = errs.ErrInternalServer.WrapMsg("publisher closed")
				j.wg.Done()
			default:
				return
			}
		}
	})
}

func uniq(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
