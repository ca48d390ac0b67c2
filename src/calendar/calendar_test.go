package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func defaultSearch() searchParams {
	return searchParams{meeting: 15 * time.Minute, step: 30 * time.Minute, daysAhead: 5, startHour: 9, endHour: 17}
}

func noBusy(_, _ time.Time) ([]Interval, error) { return nil, nil }

func TestFindSlotStartsAtNextHour(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2026, 10, 12, 10, 20, 0, 0, loc) // Monday

	slot, err := findSlot(now, defaultSearch(), noBusy)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 12, 11, 0, 0, 0, loc), slot)
	assert.Equal(t, "Today at 11:00 AM", describeSlot(now, slot))
}

func TestFindSlotSkipsBusyAndWeekend(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2026, 10, 16, 16, 50, 0, 0, loc) // Friday, after the last slot

	slot, err := findSlot(now, defaultSearch(), noBusy)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 19, 9, 0, 0, 0, loc), slot)
	assert.Equal(t, "Monday at 9:00 AM", describeSlot(now, slot))

	busy := func(from, _ time.Time) ([]Interval, error) {
		return []Interval{{Start: from, End: from.Add(45 * time.Minute)}}, nil
	}
	slot, err = findSlot(now, defaultSearch(), busy)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 19, 10, 0, 0, 0, loc), slot)
}

func TestFindSlotMorningUsesWorkStart(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2026, 10, 13, 6, 5, 0, 0, loc) // Tuesday

	slot, err := findSlot(now, defaultSearch(), noBusy)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 13, 9, 0, 0, 0, loc), slot)

	tomorrow := time.Date(2026, 10, 12, 18, 0, 0, 0, loc)
	assert.Equal(t, "Tomorrow at 9:00 AM", describeSlot(tomorrow, slot))
}

func TestFindSlotNothingFree(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2026, 10, 12, 8, 0, 0, 0, loc)
	allDay := func(from, to time.Time) ([]Interval, error) {
		return []Interval{{Start: from, End: to}}, nil
	}

	slot, err := findSlot(now, defaultSearch(), allDay)
	require.NoError(t, err)
	assert.True(t, slot.IsZero())
}

func TestFindSlotPropagatesError(t *testing.T) {
	boom := errors.New("quota")
	_, err := findSlot(time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC), defaultSearch(), func(_, _ time.Time) ([]Interval, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

type fakeCalendar struct {
	listed   []*gcal.Event
	inserted []*gcal.Event
}

func (f *fakeCalendar) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/calendars/primary/events"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "true", r.URL.Query().Get("singleEvents"))
			_ = json.NewEncoder(w).Encode(&gcal.Events{Items: f.listed})
		case http.MethodPost:
			var ev gcal.Event
			require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
			assert.Equal(t, "none", r.URL.Query().Get("sendUpdates"))
			f.inserted = append(f.inserted, &ev)
			ev.Id = "evt1"
			_ = json.NewEncoder(w).Encode(&ev)
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	}
}

func newTestClient(t *testing.T, fake *fakeCalendar, now time.Time) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), Config{
		Endpoint:   srv.URL + "/",
		HTTPClient: option.WithHTTPClient(srv.Client()),
		Now:        func() time.Time { return now },
	})
	require.NoError(t, err)
	return c
}

func TestCurrentEventDescription(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2026, 10, 12, 11, 10, 0, 0, loc)

	fake := &fakeCalendar{listed: []*gcal.Event{{
		Summary: "Standup",
		Start:   &gcal.EventDateTime{DateTime: "2026-10-12T11:00:00-04:00"},
		End:     &gcal.EventDateTime{DateTime: "2026-10-12T11:30:00-04:00"},
	}}}
	c := newTestClient(t, fake, now)

	desc, err := c.CurrentEventDescription(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Standup (until 11:30 AM)", desc)

	fake.listed = []*gcal.Event{{Summary: "Offsite", Start: &gcal.EventDateTime{Date: "2026-10-12"}, End: &gcal.EventDateTime{Date: "2026-10-13"}}}
	desc, err = c.CurrentEventDescription(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Offsite (all day event)", desc)

	fake.listed = nil
	desc, err = c.CurrentEventDescription(context.Background())
	require.NoError(t, err)
	assert.Empty(t, desc)
}

func TestBookNextAvailableInsertsEvent(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2026, 10, 12, 10, 20, 0, 0, loc)

	fake := &fakeCalendar{listed: []*gcal.Event{{
		Summary: "Review",
		Start:   &gcal.EventDateTime{DateTime: "2026-10-12T11:00:00-04:00"},
		End:     &gcal.EventDateTime{DateTime: "2026-10-12T11:45:00-04:00"},
	}}}
	c := newTestClient(t, fake, now)

	msg, err := c.BookNextAvailable(context.Background(), "Ann", "+15551234567")
	require.NoError(t, err)
	assert.Equal(t, "Booked for Today at 12:00 PM", msg)

	require.Len(t, fake.inserted, 1)
	ev := fake.inserted[0]
	assert.Equal(t, "Meeting with Ann", ev.Summary)
	assert.Contains(t, ev.Description, "+15551234567")
	assert.Equal(t, "America/New_York", ev.Start.TimeZone)

	start, err := time.Parse(time.RFC3339, ev.Start.DateTime)
	require.NoError(t, err)
	assert.True(t, start.Equal(time.Date(2026, 10, 12, 12, 0, 0, 0, loc)))
}

func TestBookNextAvailableReportsNoSlot(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2026, 10, 12, 10, 20, 0, 0, loc)

	fake := &fakeCalendar{listed: []*gcal.Event{{
		Summary: "Conference",
		Start:   &gcal.EventDateTime{DateTime: "2026-10-12T00:00:00-04:00"},
		End:     &gcal.EventDateTime{DateTime: "2026-10-31T00:00:00-04:00"},
	}}}
	c := newTestClient(t, fake, now)

	msg, err := c.BookNextAvailable(context.Background(), "Ann", "+15551234567")
	assert.ErrorIs(t, err, ErrNoSlot)
	assert.Empty(t, msg)
	assert.Empty(t, fake.inserted)
}
