package worker

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"krushilink/internal/lifecycle"
	"krushilink/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeReminders struct {
	due     []*models.Booking
	listErr error
	results map[string]error
	sent    []string
	actors  []lifecycle.Actor
	asOf    time.Time
}

func (f *fakeReminders) ListDuePayments(_ context.Context, now time.Time) ([]*models.Booking, error) {
	f.asOf = now
	return f.due, f.listErr
}

func (f *fakeReminders) SendReminder(_ context.Context, bookingID string, actor lifecycle.Actor) (*models.Booking, error) {
	f.sent = append(f.sent, bookingID)
	f.actors = append(f.actors, actor)
	if err := f.results[bookingID]; err != nil {
		return nil, err
	}
	return &models.Booking{ID: bookingID}, nil
}

func newScheduler(f *fakeReminders, now time.Time) *ReminderScheduler {
	logger := zerolog.New(io.Discard)
	s := NewReminderScheduler(f, 9, &logger)
	s.now = func() time.Time { return now }
	return s
}

func TestReminderRunOnce(t *testing.T) {
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	f := &fakeReminders{
		due: []*models.Booking{{ID: "b-1"}, {ID: "b-2"}, {ID: "b-3"}, {ID: "b-4"}, {ID: "b-5"}},
		results: map[string]error{
			"b-2": lifecycle.ErrReminderLimit,
			"b-3": lifecycle.ErrReminderTooSoon,
			"b-4": errors.New("database is locked"),
			"b-5": lifecycle.ErrPreconditionFailed,
		},
	}

	sent, skipped := newScheduler(f, now).RunOnce(context.Background())

	assert.Equal(t, 1, sent)
	assert.Equal(t, 3, skipped)
	assert.Equal(t, now, f.asOf)
	assert.Equal(t, []string{"b-1", "b-2", "b-3", "b-4", "b-5"}, f.sent)
	for _, a := range f.actors {
		assert.Equal(t, models.RoleSystem, a.Role)
	}
}

func TestReminderRunOnceListError(t *testing.T) {
	f := &fakeReminders{listErr: errors.New("boom")}
	sent, skipped := newScheduler(f, time.Now()).RunOnce(context.Background())
	assert.Zero(t, sent)
	assert.Zero(t, skipped)
	assert.Empty(t, f.sent)
}

func TestReminderRunOnceCanceled(t *testing.T) {
	f := &fakeReminders{due: []*models.Booking{{ID: "b-1"}, {ID: "b-2"}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sent, _ := newScheduler(f, time.Now()).RunOnce(ctx)
	assert.Zero(t, sent)
	assert.Empty(t, f.sent)
}

func TestTimeUntilNextHour(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	cases := []struct {
		now  time.Time
		hour int
		want time.Duration
	}{
		{time.Date(2025, 6, 10, 7, 30, 0, 0, loc), 9, 90 * time.Minute},
		{time.Date(2025, 6, 10, 9, 0, 0, 0, loc), 9, 24 * time.Hour},
		{time.Date(2025, 6, 10, 22, 0, 0, 0, loc), 9, 11 * time.Hour},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, timeUntilNextHour(tc.now, tc.hour), tc.now.String())
	}
}

func TestReminderRunsInIndiaTime(t *testing.T) {
	// 02:00 UTC is 07:30 in Kolkata, whatever zone the host runs in.
	s := newScheduler(&fakeReminders{}, time.Date(2025, 6, 10, 2, 0, 0, 0, time.UTC))
	assert.Equal(t, 90*time.Minute, s.untilNextRun())

	_, offset := s.now().In(s.loc).Zone()
	assert.Equal(t, 5*3600+30*60, offset)
}

func TestReminderStartStops(t *testing.T) {
	f := &fakeReminders{}
	s := newScheduler(f, time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
