package interview

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"formation-review/internal/common/config"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// EventRequest describes a calendar event for one interview.
type EventRequest struct {
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	Attendees   []string
	Location    string
	// Online asks the provider to attach a video conference.
	Online bool
}

// Event is what the provider created.
type Event struct {
	ID       string
	JoinURL  string
	HTMLLink string
}

// CalendarProvider is the external calendar. Calls are best-effort from the
// scheduler's point of view.
type CalendarProvider interface {
	CreateEvent(ctx context.Context, req EventRequest) (*Event, error)
	CancelEvent(ctx context.Context, eventID string) error
	UpdateEvent(ctx context.Context, eventID string, start, end time.Time) error
	HealthCheck(ctx context.Context) error
}

// GoogleCalendar creates Google Calendar events with Meet conferences.
type GoogleCalendar struct {
	service    *calendar.Service
	calendarID string
	timeZone   string
}

// NewGoogleCalendar authorizes with an OAuth client secret file and a token
// file produced by a prior consent flow. The server never prompts for consent.
func NewGoogleCalendar(ctx context.Context, cfg config.CalendarConfig) (*GoogleCalendar, error) {
	b, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	oauthCfg, err := google.ConfigFromJSON(b, calendar.CalendarEventsScope, calendar.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}

	tok, err := tokenFromFile(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read calendar token %s: %w", cfg.TokenFile, err)
	}

	service, err := calendar.NewService(ctx, option.WithHTTPClient(oauthCfg.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("unable to create calendar service: %w", err)
	}
	return NewGoogleCalendarWithService(service, cfg.CalendarID, cfg.TimeZone), nil
}

func NewGoogleCalendarWithService(service *calendar.Service, calendarID, timeZone string) *GoogleCalendar {
	if calendarID == "" {
		calendarID = "primary"
	}
	if timeZone == "" {
		timeZone = "UTC"
	}
	return &GoogleCalendar{service: service, calendarID: calendarID, timeZone: timeZone}
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

func (g *GoogleCalendar) dateTime(t time.Time) *calendar.EventDateTime {
	return &calendar.EventDateTime{DateTime: t.Format(time.RFC3339), TimeZone: g.timeZone}
}

func (g *GoogleCalendar) CreateEvent(ctx context.Context, req EventRequest) (*Event, error) {
	ev := &calendar.Event{
		Summary:     req.Title,
		Description: req.Description,
		Location:    req.Location,
		Start:       g.dateTime(req.Start),
		End:         g.dateTime(req.End),
	}
	for _, email := range req.Attendees {
		if email != "" {
			ev.Attendees = append(ev.Attendees, &calendar.EventAttendee{Email: email})
		}
	}

	if req.Online {
		ev.ConferenceData = &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId:             "meet-" + uuid.New().String(),
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		}
	}

	call := g.service.Events.Insert(g.calendarID, ev).SendUpdates("all")
	if req.Online {
		call = call.ConferenceDataVersion(1)
	}

	created, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("create calendar event: %w", err)
	}
	return &Event{ID: created.Id, JoinURL: joinURL(created), HTMLLink: created.HtmlLink}, nil
}

func joinURL(ev *calendar.Event) string {
	if ev.HangoutLink != "" {
		return ev.HangoutLink
	}
	if ev.ConferenceData != nil {
		for _, ep := range ev.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" {
				return ep.Uri
			}
		}
	}
	return ""
}

func (g *GoogleCalendar) CancelEvent(ctx context.Context, eventID string) error {
	if err := g.service.Events.Delete(g.calendarID, eventID).SendUpdates("all").Context(ctx).Do(); err != nil {
		return fmt.Errorf("cancel calendar event %s: %w", eventID, err)
	}
	return nil
}

func (g *GoogleCalendar) UpdateEvent(ctx context.Context, eventID string, start, end time.Time) error {
	patch := &calendar.Event{Start: g.dateTime(start), End: g.dateTime(end)}
	if _, err := g.service.Events.Patch(g.calendarID, eventID, patch).SendUpdates("all").Context(ctx).Do(); err != nil {
		return fmt.Errorf("update calendar event %s: %w", eventID, err)
	}
	return nil
}

// HealthCheck reads the target calendar's metadata.
func (g *GoogleCalendar) HealthCheck(ctx context.Context) error {
	if _, err := g.service.Calendars.Get(g.calendarID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("calendar health check: %w", err)
	}
	return nil
}
