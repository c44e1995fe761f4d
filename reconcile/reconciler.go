// Package reconcile pulls authoritative state from REST and merges it into
// the conversation list. It covers pushes missed while disconnected.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/mqy/minichat/chatstore"
)

const (
	DefaultInterval    = 30 * time.Second
	DefaultParallelism = 16
)

// Reconciler refreshes groups, users and previews. Each kind runs at most once
// at a time; a call arriving while one is in flight is skipped, not queued.
type Reconciler struct {
	api         IRestClient
	list        *chatstore.ListStore
	self        string
	interval    time.Duration
	parallelism int

	groupsBusy   int32
	previewsBusy int32
	usersBusy    int32

	trigger chan struct{}

	sync.RWMutex
	users []chatstore.User
}

func NewReconciler(api IRestClient, list *chatstore.ListStore, self string, interval time.Duration, parallelism int) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	return &Reconciler{
		api:         api,
		list:        list,
		self:        self,
		interval:    interval,
		parallelism: parallelism,
		trigger:     make(chan struct{}, 1),
	}
}

// Run refreshes everything now and then every interval, and previews on
// Trigger, until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.refreshAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshAll(ctx)
		case <-r.trigger:
			if err := r.RefreshPreviews(ctx, r.list.Snapshot()); err != nil {
				glog.Warningf("reconcile: triggered preview refresh: %v", err)
			}
		}
	}
}

// Trigger asks Run for a preview refresh. Requests coalesce.
func (r *Reconciler) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

func (r *Reconciler) refreshAll(ctx context.Context) {
	if err := r.RefreshUsers(ctx); err != nil {
		glog.Warningf("reconcile: %v", err)
	}
	if err := r.RefreshGroups(ctx, r.self); err != nil {
		glog.Warningf("reconcile: %v", err)
	}
}

// RefreshGroups merges the groups of username, then refreshes the previews
// of the whole list.
func (r *Reconciler) RefreshGroups(ctx context.Context, username string) error {
	if !atomic.CompareAndSwapInt32(&r.groupsBusy, 0, 1) {
		refreshSkipped.WithLabelValues("groups").Inc()
		glog.V(5).Infof("reconcile: groups refresh in flight, skip")
		return nil
	}
	defer atomic.StoreInt32(&r.groupsBusy, 0)

	groups, err := r.api.Groups(ctx, username)
	if err != nil {
		refreshErrors.WithLabelValues("groups").Inc()
		return fmt.Errorf("refresh groups: %w", err)
	}

	convs := make([]chatstore.Conversation, 0, len(groups))
	for i := range groups {
		convs = append(convs, groups[i].Conversation())
	}
	if r.list.Merge(convs) {
		glog.V(5).Infof("reconcile: merged %d groups", len(convs))
	}
	return r.RefreshPreviews(ctx, r.list.Snapshot())
}

type previewResult struct {
	id string
	p  *chatstore.Preview
}

// RefreshPreviews fetches the last message of every conversation. A failed
// fetch keeps the prior preview of that conversation only.
func (r *Reconciler) RefreshPreviews(ctx context.Context, convs []chatstore.Conversation) error {
	if !atomic.CompareAndSwapInt32(&r.previewsBusy, 0, 1) {
		refreshSkipped.WithLabelValues("previews").Inc()
		glog.V(5).Infof("reconcile: previews refresh in flight, skip")
		return nil
	}
	defer atomic.StoreInt32(&r.previewsBusy, 0)

	var (
		mu      sync.Mutex
		results []previewResult
		failed  int
	)
	g := errgroup.Group{}
	g.SetLimit(r.parallelism)
	for _, c := range convs {
		id := c.ID
		g.Go(func() error {
			p, err := r.api.LastMessage(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				refreshErrors.WithLabelValues("previews").Inc()
				glog.Errorf("reconcile: last message of `%s` error: %v", id, err)
				return nil
			}
			if p != nil {
				results = append(results, previewResult{id: id, p: p})
			}
			return nil
		})
	}
	_ = g.Wait()

	updates := make([]chatstore.Conversation, 0, len(results))
	for _, res := range results {
		content := res.p.Content
		c := chatstore.Conversation{ID: res.id, LastMessagePreview: &content}
		if res.p.At != nil {
			at := *res.p.At
			c.LastMessageAt = &at
		}
		updates = append(updates, c)
	}
	r.list.Update(updates)

	if failed > 0 {
		return fmt.Errorf("refresh previews: %d of %d failed", failed, len(convs))
	}
	return nil
}

// RefreshUsers reloads the user directory and overlays presence onto the
// private conversations with each user.
func (r *Reconciler) RefreshUsers(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&r.usersBusy, 0, 1) {
		refreshSkipped.WithLabelValues("users").Inc()
		return nil
	}
	defer atomic.StoreInt32(&r.usersBusy, 0)

	all, err := r.api.Users(ctx)
	if err != nil {
		refreshErrors.WithLabelValues("users").Inc()
		return fmt.Errorf("refresh users: %w", err)
	}

	users := make([]chatstore.User, 0, len(all))
	var presence []chatstore.Conversation
	for _, u := range all {
		if u.Username == r.self {
			continue
		}
		users = append(users, u)
		if u.Online != nil {
			online := *u.Online
			presence = append(presence, chatstore.Conversation{
				ID:       chatstore.PrivateID(r.self, u.Username),
				Presence: &online,
			})
		}
	}

	r.Lock()
	r.users = users
	r.Unlock()

	r.list.Update(presence)
	return nil
}

// Users returns the last fetched directory, without the local user.
func (r *Reconciler) Users() []chatstore.User {
	r.RLock()
	defer r.RUnlock()
	return append([]chatstore.User(nil), r.users...)
}
