package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ultratrader/internal/alert"
)

type fakeSender struct {
	name   string
	err    error
	events []alert.Event
}

func (f *fakeSender) Send(_ context.Context, ev alert.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierDeliversToAllSenders(t *testing.T) {
	s1 := &fakeSender{name: "telegram"}
	s2 := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{s1, s2}, nil, testLogger())

	ev := alert.Event{
		Level:   alert.LevelInfo,
		Type:    "fill",
		Title:   "Order filled",
		Message: "copy_trader buy 20 @ 0.41",
	}
	err := n.Consume(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, s1.events, 1)
	require.Len(t, s2.events, 1)
	assert.Equal(t, ev, s1.events[0])
	assert.Equal(t, ev, s2.events[0])
}

func TestNotifierFiltersByEventType(t *testing.T) {
	s := &fakeSender{name: "telegram"}
	n := NewNotifier([]Sender{s}, []string{"kill_switch", "fill"}, testLogger())

	require.NoError(t, n.Consume(context.Background(), alert.Event{Type: "admission_reject"}))
	assert.Empty(t, s.events)

	require.NoError(t, n.Consume(context.Background(), alert.Event{Type: "kill_switch", Title: "halt"}))
	assert.Len(t, s.events, 1)
}

func TestNotifierOneFailureDoesNotBlockOthers(t *testing.T) {
	bad := &fakeSender{name: "telegram", err: assert.AnError}
	good := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Consume(context.Background(), alert.Event{Type: "fill", Title: "t", Message: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")
	assert.Len(t, good.events, 1)
}

func TestEventTitleUppercasesSeverity(t *testing.T) {
	title := eventTitle(alert.Event{Level: alert.LevelError, Type: "kill_switch", Title: "Kill switch"})
	assert.Equal(t, "ERROR: Kill switch", title)

	title = eventTitle(alert.Event{Level: alert.LevelWarning, Title: "Slow feed"})
	assert.Equal(t, "WARNING: Slow feed", title)

	title = eventTitle(alert.Event{Level: alert.LevelInfo, Title: "Started"})
	assert.Equal(t, "Started", title)
}

func TestEventTitleFallsBackToType(t *testing.T) {
	title := eventTitle(alert.Event{Level: alert.LevelInfo, Type: "engine_start"})
	assert.Equal(t, "engine_start", title)
}

func TestTelegramTextCarriesLevelAndSortedFields(t *testing.T) {
	text := telegramText(alert.Event{
		Level:   alert.LevelWarning,
		Title:   "Order rejected",
		Message: "rejected",
		Fields: map[string]string{
			"reason": "position_limit",
			"market": "m1",
		},
	})
	assert.Equal(t, "⚠️ *WARNING: Order rejected*\nrejected\nmarket: m1\nreason: position_limit", text)
}

func TestDiscordSendPostsEmbed(t *testing.T) {
	var payload struct {
		Embeds []discordEmbed `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	err := d.Send(context.Background(), alert.Event{
		Level:     alert.LevelError,
		Title:     "Kill switch",
		Message:   "daily loss limit",
		Timestamp: time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC),
		Fields: map[string]string{
			"loss":  "-120.5",
			"limit": "100",
		},
	})
	require.NoError(t, err)

	require.Len(t, payload.Embeds, 1)
	embed := payload.Embeds[0]
	assert.Equal(t, "ERROR: Kill switch", embed.Title)
	assert.Equal(t, "daily loss limit", embed.Description)
	assert.Equal(t, 0xe74c3c, embed.Color)
	assert.Equal(t, "2026-08-01T12:30:00Z", embed.Timestamp)
	require.Len(t, embed.Fields, 2)
	assert.Equal(t, "limit", embed.Fields[0].Name)
	assert.Equal(t, "loss", embed.Fields[1].Name)
}
