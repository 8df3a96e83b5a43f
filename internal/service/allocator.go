package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/metrics"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/model"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/registry"
)

// assignAttempts is the initial selection plus one retry against fresh data.
const assignAttempts = 2

// maxSelectRounds bounds selection rounds lost to concurrent callers taking
// every seat of a freshly created group.
const maxSelectRounds = 10

// ledgerIdleTTL is how long the ledger trusts its own count over the Registry's.
const ledgerIdleTTL = 10 * time.Minute

var errNoSeat = errors.New("no seat available in newly created group")

// CapacityAllocator places students into groups without exceeding
// model.MaxGroupSize.
type CapacityAllocator struct {
	registry Registry
	notifier Notifier
	ledger   *SeatLedger
	creating singleflight.Group
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewCapacityAllocator constructs a CapacityAllocator with its own SeatLedger.
func NewCapacityAllocator(registry Registry, notifier Notifier, m *metrics.Metrics, log *zap.Logger) *CapacityAllocator {
	return &CapacityAllocator{
		registry: registry,
		notifier: notifier,
		ledger:   NewSeatLedger(model.MaxGroupSize, ledgerIdleTTL),
		metrics:  m,
		log:      log,
	}
}

// Ledger exposes the allocator's seat ledger.
func (a *CapacityAllocator) Ledger() *SeatLedger {
	return a.ledger
}

// Assign reserves a seat for personID in the first open group of courseID
// that has one, opening a new group when none does.
//
// If the add-member call fails (typically because the group filled between
// selection and reservation) the selection is repeated once against fresh
// group data. A second failure yields ErrAssignmentFailed.
func (a *CapacityAllocator) Assign(ctx context.Context, personID, courseID string) (*model.Group, error) {
	log := a.log.With(zap.String("person_id", personID), zap.String("course_id", courseID))
	log.Info("looking for a group")

	var lastErr error
	for attempt, round := 1, 0; attempt <= assignAttempts && round < maxSelectRounds; round++ {
		group, err := a.tryAssign(ctx, personID, courseID, log)
		if err == nil {
			a.metrics.Assignments.WithLabelValues("assigned").Inc()
			log.Info("student assigned", zap.String("group_id", group.ID), zap.Int("members", group.MembersCount))
			return group, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if errors.Is(err, errNoSeat) {
			// Others filled the group opened for this round; select again.
			continue
		}
		log.Warn("assignment attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		attempt++
	}

	a.metrics.Assignments.WithLabelValues("failed").Inc()
	return nil, fmt.Errorf("%w: person %s, course %s: %w", ErrAssignmentFailed, personID, courseID, lastErr)
}

func (a *CapacityAllocator) tryAssign(ctx context.Context, personID, courseID string, log *zap.Logger) (*model.Group, error) {
	groups, err := a.registry.ListOpenGroups(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("list open groups: %w", err)
	}
	sortGroups(groups)

	var (
		target *model.Group
		seat   int
	)
	for i := range groups {
		g := &groups[i]
		if !eligible(g, courseID) {
			continue
		}
		if s, ok := a.ledger.Reserve(g.ID, g.MembersCount); ok {
			target, seat = g, s
			break
		}
	}

	if target == nil {
		log.Info("no group with free seats, opening a new one")
		created, err := a.createGroup(ctx, courseID)
		if err != nil {
			return nil, err
		}
		s, ok := a.ledger.Reserve(created.ID, created.MembersCount)
		if !ok {
			return nil, errNoSeat
		}
		target, seat = created, s
	}

	if err := a.registry.AddMember(ctx, target.ID, personID); err != nil {
		a.ledger.Release(target.ID)
		if errors.Is(err, registry.ErrRejected) {
			a.checkRejected(ctx, target.ID, log)
		}
		return nil, fmt.Errorf("add member to group %s: %w", target.ID, err)
	}
	return a.settle(ctx, target, seat, log), nil
}

// createGroup opens a group for courseID. Concurrent callers for the same
// course share one creation.
func (a *CapacityAllocator) createGroup(ctx context.Context, courseID string) (*model.Group, error) {
	v, err, _ := a.creating.Do(courseID, func() (any, error) {
		g, err := a.registry.CreateGroup(ctx, courseID)
		if err != nil {
			return nil, err
		}
		a.metrics.GroupsCreated.Inc()
		a.notifier.Notify(ctx, fmt.Sprintf("New group %s created for course %s", g.ID, courseID))
		return g, nil
	})
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	g := *v.(*model.Group)
	return &g, nil
}

// settle reads the group back after an add, reconciles the ledger and raises
// the one-time "group full" notice when this seat filled it. The seat number
// handed out by the ledger is a lower bound on the member count, so a
// Registry read that lags behind the add cannot reopen the group.
func (a *CapacityAllocator) settle(ctx context.Context, target *model.Group, seat int, log *zap.Logger) *model.Group {
	fresh, err := a.registry.GetGroup(ctx, target.ID)
	if err != nil {
		log.Warn("could not re-read group after add", zap.String("group_id", target.ID), zap.Error(err))
		estimate := *target
		fresh = &estimate
		fresh.MembersCount = target.MembersCount + 1
	}
	fresh.MembersCount = max(fresh.MembersCount, seat)
	a.ledger.Commit(target.ID, fresh.MembersCount)

	if fresh.IsFull() {
		fresh.Status = model.GroupFull
		a.markFull(ctx, fresh.ID, fresh.MembersCount)
	}
	return fresh
}

// checkRejected re-reads a group whose add-member call the Registry refused.
// The group is only taken out of selection when the Registry confirms it is
// full; other rejections leave it open for the next attempt.
func (a *CapacityAllocator) checkRejected(ctx context.Context, groupID string, log *zap.Logger) {
	fresh, err := a.registry.GetGroup(ctx, groupID)
	if err != nil {
		log.Warn("could not re-read group after rejected add", zap.String("group_id", groupID), zap.Error(err))
		return
	}
	if fresh.IsFull() {
		a.markFull(ctx, groupID, fresh.MembersCount)
		return
	}
	log.Info("registry rejected add to a group with free seats", zap.String("group_id", groupID), zap.Int("members", fresh.MembersCount))
}

// Sweep drops idle ledger entries.
func (a *CapacityAllocator) Sweep() int {
	return a.ledger.Sweep()
}

// MarkFull records that a group reached capacity, from either the allocator
// or a Registry group.full event. Only the first call per group notifies the
// administrator.
func (a *CapacityAllocator) MarkFull(ctx context.Context, groupID string, members int) bool {
	return a.markFull(ctx, groupID, members)
}

func (a *CapacityAllocator) markFull(ctx context.Context, groupID string, members int) bool {
	if !a.ledger.MarkFull(groupID) {
		return false
	}
	if members <= 0 {
		members = model.MaxGroupSize
	}
	a.metrics.GroupsFull.Inc()
	a.log.Info("group is full", zap.String("group_id", groupID), zap.Int("members", members))
	a.notifier.Notify(ctx, fmt.Sprintf("Group %s is full! Members: %d/%d", groupID, members, model.MaxGroupSize))
	return true
}

// Slots reports free seats per open group of a course.
func (a *CapacityAllocator) Slots(ctx context.Context, courseID string) (*model.Slots, error) {
	groups, err := a.registry.ListOpenGroups(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("list open groups: %w", err)
	}
	sortGroups(groups)

	out := &model.Slots{Groups: []model.GroupSlots{}}
	for i := range groups {
		g := &groups[i]
		if !eligible(g, courseID) {
			continue
		}
		available := max(model.MaxGroupSize-a.ledger.Taken(g.ID, g.MembersCount), 0)
		out.Groups = append(out.Groups, model.GroupSlots{
			GroupID:   g.ID,
			CourseID:  courseID,
			Available: available,
			Total:     model.MaxGroupSize,
			StartDate: g.StartDate,
			Schedule:  g.Schedule,
		})
		out.TotalAvailable += available
	}
	return out, nil
}

func eligible(g *model.Group, courseID string) bool {
	if g.CourseID != "" && g.CourseID != courseID {
		return false
	}
	return g.Status == "" || g.Status == model.GroupOpen
}

// sortGroups orders groups by identifier, numerically when both ids are numbers.
func sortGroups(groups []model.Group) {
	sort.SliceStable(groups, func(i, j int) bool {
		return lessID(groups[i].ID, groups[j].ID)
	})
}

func lessID(a, b string) bool {
	ai, errA := strconv.ParseInt(a, 10, 64)
	bi, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		return ai < bi
	}
	return a < b
}
