package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDisplayID_UsesBusinessCalendar(t *testing.T) {
	require.NoError(t, SetBusinessTimezone("America/Sao_Paulo"))

	// 01:30 UTC on Jan 16 is still Jan 15 in São Paulo (UTC-3).
	created := time.Date(2025, time.January, 16, 1, 30, 0, 0, time.UTC)

	assert.Equal(t, "2025/01/15/007", FormatDisplayID(7, created))
	assert.Equal(t, "20250115007", FormatRoutingID(7, created))
	assert.Equal(t, "2025/01/15/1234", FormatDisplayID(1234, created))
	assert.Equal(t, "202501151234", FormatRoutingID(1234, created))
}

func TestTicket_DisplayIDIsStable(t *testing.T) {
	ticket := &Ticket{TicketNumber: 42, CreatedAt: time.Date(2025, time.March, 3, 15, 0, 0, 0, time.UTC)}
	first := ticket.DisplayID()

	ticket.Status = TicketStatusClosed
	ticket.UpdatedAt = ticket.CreatedAt.Add(72 * time.Hour)

	assert.Equal(t, first, ticket.DisplayID())
	assert.Equal(t, "2025/03/03/042", first)
	assert.Equal(t, "20250303042", ticket.RoutingID())
}

func TestBusinessDay(t *testing.T) {
	require.NoError(t, SetBusinessTimezone("America/Sao_Paulo"))
	day := BusinessDay(time.Date(2025, time.June, 1, 2, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, time.May, 31, 0, 0, 0, 0, time.UTC), day)
}

func TestSetBusinessTimezone_Invalid(t *testing.T) {
	assert.Error(t, SetBusinessTimezone("Mars/Olympus"))
	assert.Equal(t, "America/Sao_Paulo", BusinessLocation().String())
}

func TestTicket_Elapsed(t *testing.T) {
	t0 := time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)
	pausedAt := t0.Add(30 * time.Minute)
	closedAt := t0.Add(2 * time.Hour)

	tests := []struct {
		name   string
		ticket Ticket
		now    time.Time
		want   time.Duration
	}{
		{
			name:   "running",
			ticket: Ticket{CreatedAt: t0},
			now:    t0.Add(time.Hour),
			want:   time.Hour,
		},
		{
			name:   "accumulated pause",
			ticket: Ticket{CreatedAt: t0, PausedDuration: 10 * time.Minute},
			now:    t0.Add(time.Hour),
			want:   50 * time.Minute,
		},
		{
			name:   "open pause",
			ticket: Ticket{CreatedAt: t0, IsPaused: true, PausedAt: &pausedAt, PausedDuration: 5 * time.Minute},
			now:    t0.Add(time.Hour),
			want:   25 * time.Minute,
		},
		{
			name:   "closed stops the clock",
			ticket: Ticket{CreatedAt: t0, ClosedAt: &closedAt, PausedDuration: 20 * time.Minute},
			now:    t0.Add(10 * time.Hour),
			want:   100 * time.Minute,
		},
		{
			name:   "clamped at zero",
			ticket: Ticket{CreatedAt: t0, PausedDuration: 3 * time.Hour},
			now:    t0.Add(time.Hour),
			want:   0,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.ticket.Elapsed(tc.now))
		})
	}
}

func TestTicket_ElapsedSecondsFloors(t *testing.T) {
	t0 := time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)
	ticket := Ticket{CreatedAt: t0}
	assert.Equal(t, int64(90), ticket.ElapsedSeconds(t0.Add(90*time.Second+999*time.Millisecond)))
}

func TestTicket_PauseScenario(t *testing.T) {
	t0 := time.Date(2025, time.January, 1, 9, 0, 0, 0, time.UTC)
	ticket := Ticket{CreatedAt: t0, Status: TicketStatusInProgress}

	p := t0.Add(time.Hour)
	ticket.IsPaused = true
	ticket.PausedAt = &p

	closed := ticket.ClosePauseInterval(t0.Add(90 * time.Minute))
	assert.Equal(t, 30*time.Minute, closed)
	assert.False(t, ticket.IsPaused)
	assert.Nil(t, ticket.PausedAt)
	assert.Equal(t, 30*time.Minute, ticket.PausedDuration)
	assert.Equal(t, 90*time.Minute, ticket.Elapsed(t0.Add(2*time.Hour)))

	assert.Zero(t, ticket.ClosePauseInterval(t0.Add(3*time.Hour)))
	assert.Equal(t, 30*time.Minute, ticket.PausedDuration)
}

func TestTicket_CloneIsDeep(t *testing.T) {
	assignee := "agent-1"
	at := time.Now()
	orig := &Ticket{ID: "t1", AssigneeID: &assignee, ScheduledAt: &at}

	c := orig.Clone()
	*c.AssigneeID = "agent-2"
	*c.ScheduledAt = at.Add(time.Hour)

	assert.Equal(t, "agent-1", *orig.AssigneeID)
	assert.Equal(t, at, *orig.ScheduledAt)
	assert.Nil(t, (*Ticket)(nil).Clone())
}

func TestStatusAndPriorityValid(t *testing.T) {
	assert.True(t, TicketStatusPendingApproval.Valid())
	assert.False(t, TicketStatus("waiting").Valid())
	assert.True(t, TicketStatusRejected.Terminal())
	assert.False(t, TicketStatusResolved.Terminal())
	assert.True(t, TicketPriorityUrgent.Valid())
	assert.False(t, TicketPriority("critical").Valid())
}
