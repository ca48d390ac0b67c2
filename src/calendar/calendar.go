// Package calendar checks the owner's Google Calendar and books follow-up
// meetings in the first free business-hours slot.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/square-key-labs/strawgo-screener/src/logger"
)

// ErrNoSlot is returned by BookNextAvailable when every slot in the search
// window is taken.
var ErrNoSlot = errors.New("calendar: no available slot")

// Config controls the slot search and how the client authenticates.
type Config struct {
	CalendarID      string // default "primary"
	CredentialsFile string // service account key; empty uses application default credentials
	TimeZone        string // default "America/New_York"
	MeetingMinutes  int    // default 15
	StepMinutes     int    // default 30
	DaysAhead       int    // default 5
	WorkStartHour   int    // default 9
	WorkEndHour     int    // default 17

	// Endpoint and HTTPClient override the API endpoint, mostly for tests.
	Endpoint   string
	HTTPClient option.ClientOption
	Now        func() time.Time
}

func (c *Config) applyDefaults() {
	if c.CalendarID == "" {
		c.CalendarID = "primary"
	}
	if c.TimeZone == "" {
		c.TimeZone = "America/New_York"
	}
	if c.MeetingMinutes <= 0 {
		c.MeetingMinutes = 15
	}
	if c.StepMinutes <= 0 {
		c.StepMinutes = 30
	}
	if c.DaysAhead <= 0 {
		c.DaysAhead = 5
	}
	if c.WorkStartHour <= 0 {
		c.WorkStartHour = 9
	}
	if c.WorkEndHour <= c.WorkStartHour {
		c.WorkEndHour = 17
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Client implements conversation.Calendar.
type Client struct {
	cfg Config
	svc *gcal.Service
	loc *time.Location
	log *logger.Logger
}

// New authenticates and returns a Client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	cfg.applyDefaults()
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("calendar: load time zone: %w", err)
	}

	var opts []option.ClientOption
	switch {
	case cfg.HTTPClient != nil:
		opts = append(opts, cfg.HTTPClient)
	case cfg.CredentialsFile != "":
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("calendar: read credentials: %w", err)
		}
		jwt, err := google.JWTConfigFromJSON(data, gcal.CalendarScope)
		if err != nil {
			return nil, fmt.Errorf("calendar: parse service account key: %w", err)
		}
		opts = append(opts, option.WithHTTPClient(jwt.Client(ctx)))
	default:
		httpClient, err := google.DefaultClient(ctx, gcal.CalendarScope)
		if err != nil {
			return nil, fmt.Errorf("calendar: default credentials: %w", err)
		}
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: create service: %w", err)
	}
	return &Client{cfg: cfg, svc: svc, loc: loc, log: logger.WithPrefix("Calendar")}, nil
}

// CurrentEventDescription returns "Title (until 3:30 PM)" for the event
// happening now, "Title (all day event)" for an all-day event, or "" when
// nothing is scheduled.
func (c *Client) CurrentEventDescription(ctx context.Context) (string, error) {
	now := c.cfg.Now().In(c.loc)
	events, err := c.svc.Events.List(c.cfg.CalendarID).
		TimeMin(now.Format(time.RFC3339)).
		TimeMax(now.Add(time.Minute).Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("calendar: list current events: %w", err)
	}
	if len(events.Items) == 0 {
		return "", nil
	}

	ev := events.Items[0]
	title := ev.Summary
	if title == "" {
		title = "Busy"
	}
	if ev.End == nil || ev.End.DateTime == "" {
		return title + " (all day event)", nil
	}
	end, err := time.Parse(time.RFC3339, ev.End.DateTime)
	if err != nil {
		return title, nil
	}
	return fmt.Sprintf("%s (until %s)", title, end.In(c.loc).Format(clockFormat)), nil
}

// BookNextAvailable inserts a meeting in the first free slot and returns
// "Booked for Tomorrow at 2:00 PM". If no slot is free it returns
// ErrNoSlot and books nothing.
func (c *Client) BookNextAvailable(ctx context.Context, callerName, callerPhone string) (string, error) {
	now := c.cfg.Now().In(c.loc)
	slot, err := findSlot(now, c.searchParams(), func(from, to time.Time) ([]Interval, error) {
		return c.busy(ctx, from, to)
	})
	if err != nil {
		return "", err
	}
	if slot.IsZero() {
		return "", fmt.Errorf("%w in the next %d days", ErrNoSlot, c.cfg.DaysAhead)
	}

	if callerName == "" {
		callerName = "caller"
	}
	end := slot.Add(time.Duration(c.cfg.MeetingMinutes) * time.Minute)
	event := &gcal.Event{
		Summary:     "Meeting with " + callerName,
		Description: fmt.Sprintf("Phone: %s\nScheduled by the call screener", callerPhone),
		Start:       &gcal.EventDateTime{DateTime: slot.Format(time.RFC3339), TimeZone: c.cfg.TimeZone},
		End:         &gcal.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: c.cfg.TimeZone},
	}
	if _, err := c.svc.Events.Insert(c.cfg.CalendarID, event).SendUpdates("none").Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("calendar: insert event: %w", err)
	}

	c.log.Info("Booked %s at %s", callerName, slot.Format(time.RFC3339))
	return "Booked for " + describeSlot(now, slot), nil
}

func (c *Client) busy(ctx context.Context, from, to time.Time) ([]Interval, error) {
	events, err := c.svc.Events.List(c.cfg.CalendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("calendar: list events: %w", err)
	}

	var out []Interval
	for _, ev := range events.Items {
		// all-day events do not block slots
		if ev.Start == nil || ev.End == nil || ev.Start.DateTime == "" {
			continue
		}
		start, err1 := time.Parse(time.RFC3339, ev.Start.DateTime)
		end, err2 := time.Parse(time.RFC3339, ev.End.DateTime)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, Interval{Start: start, End: end})
	}
	return out, nil
}

func (c *Client) searchParams() searchParams {
	return searchParams{
		meeting:   time.Duration(c.cfg.MeetingMinutes) * time.Minute,
		step:      time.Duration(c.cfg.StepMinutes) * time.Minute,
		daysAhead: c.cfg.DaysAhead,
		startHour: c.cfg.WorkStartHour,
		endHour:   c.cfg.WorkEndHour,
	}
}
