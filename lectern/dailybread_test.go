package lectern

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()

	tod, err := ParseTimeOfDay("07:30")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 7, Minute: 30}, tod)
	assert.Equal(t, "07:30", tod.String())

	tod, err = ParseTimeOfDay("0:05")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 0, Minute: 5}, tod)

	tod, err = ParseTimeOfDay("23:59")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 23, Minute: 59}, tod)

	for _, bad := range []string{"24:00", "07:60", "7:5", "noon", ""} {
		_, err = ParseTimeOfDay(bad)
		var todErr TimeOfDayError
		require.ErrorAs(t, err, &todErr, "input %q", bad)
		assert.Equal(t, bad, todErr.Text)
	}
}

func TestLoadTimezone(t *testing.T) {
	t.Parallel()

	loc, err := LoadTimezone("America/New_York")
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())

	_, err = LoadTimezone("Not/AZone")
	var tzErr TimezoneError
	require.ErrorAs(t, err, &tzErr)
	assert.Equal(t, "Not/AZone", tzErr.Name)
}

func TestNextPostTimeDST(t *testing.T) {
	t.Parallel()

	eastern, err := LoadTimezone("America/New_York")
	require.NoError(t, err)
	berlin, err := LoadTimezone("Europe/Berlin")
	require.NoError(t, err)

	// 2022-03-13 02:00 does not exist in US Eastern (spring forward).
	// The target normalizes past the gap instead of landing in it.
	prev := time.Date(2022, 3, 12, 7, 0, 0, 0, time.UTC)
	next := NextPostTime(prev, TimeOfDay{Hour: 2, Minute: 0}, eastern)
	assert.Equal(t, time.Date(2022, 3, 13, 7, 0, 0, 0, time.UTC), next)

	// spring forward at an unaffected hour: the UTC gap shrinks to 23h
	// so the local wall-clock time holds
	prev = time.Date(2022, 3, 12, 12, 0, 0, 0, time.UTC)
	next = NextPostTime(prev, TimeOfDay{Hour: 7, Minute: 0}, eastern)
	assert.Equal(t, time.Date(2022, 3, 13, 11, 0, 0, 0, time.UTC), next)

	// fall back: the UTC gap stretches to 25h
	prev = time.Date(2022, 11, 5, 11, 0, 0, 0, time.UTC)
	next = NextPostTime(prev, TimeOfDay{Hour: 7, Minute: 0}, eastern)
	assert.Equal(t, time.Date(2022, 11, 6, 12, 0, 0, 0, time.UTC), next)

	// Europe/Berlin falls back 2022-10-30, CEST +2 to CET +1
	prev = time.Date(2022, 10, 29, 4, 30, 0, 0, time.UTC)
	next = NextPostTime(prev, TimeOfDay{Hour: 6, Minute: 30}, berlin)
	assert.Equal(t, time.Date(2022, 10, 30, 5, 30, 0, 0, time.UTC), next)

	// no transition: a flat 24 hours
	prev = time.Date(2022, 6, 10, 11, 0, 0, 0, time.UTC)
	next = NextPostTime(prev, TimeOfDay{Hour: 7, Minute: 0}, eastern)
	assert.Equal(t, time.Date(2022, 6, 11, 11, 0, 0, 0, time.UTC), next)
}

func TestFirstPostTime(t *testing.T) {
	t.Parallel()

	eastern, err := LoadTimezone("America/New_York")
	require.NoError(t, err)

	// 08:00 EDT is still ahead at 06:00 EDT: same day
	now := time.Date(2022, 6, 10, 10, 0, 0, 0, time.UTC)
	first := FirstPostTime(now, TimeOfDay{Hour: 8, Minute: 0}, eastern)
	assert.Equal(t, time.Date(2022, 6, 10, 12, 0, 0, 0, time.UTC), first)

	// 08:00 EDT already passed at 09:00 EDT: next day
	now = time.Date(2022, 6, 10, 13, 0, 0, 0, time.UTC)
	first = FirstPostTime(now, TimeOfDay{Hour: 8, Minute: 0}, eastern)
	assert.Equal(t, time.Date(2022, 6, 11, 12, 0, 0, 0, time.UTC), first)

	// exactly now rolls to the next day
	now = time.Date(2022, 6, 10, 12, 0, 0, 0, time.UTC)
	first = FirstPostTime(now, TimeOfDay{Hour: 8, Minute: 0}, eastern)
	assert.Equal(t, time.Date(2022, 6, 11, 12, 0, 0, 0, time.UTC), first)
}

type webhookCall struct {
	webhookID string
	token     string
	threadID  string
	params    *discordgo.WebhookParams
}

// fakeWebhookSender records webhook deliveries in place of a live
// discordgo session.
type fakeWebhookSender struct {
	mu     sync.Mutex
	calls  []webhookCall
	err    error
	errFor map[string]error
}

func (f *fakeWebhookSender) WebhookThreadExecute(
	webhookID string,
	token string,
	_ bool,
	threadID string,
	data *discordgo.WebhookParams,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if e, ok := f.errFor[webhookID]; ok {
		return nil, e
	}
	f.calls = append(
		f.calls,
		webhookCall{
			webhookID: webhookID,
			token:     token,
			threadID:  threadID,
			params:    data,
		},
	)
	return &discordgo.Message{ID: "delivered"}, nil
}

func (f *fakeWebhookSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

const testPassageBody = "**16.** For God so loved the world"

// dailyBreadFixture wires a DailyBread against a temp database, a fake
// webhook sender and stub HTTP endpoints for the verse of the day and
// the passage provider.
type dailyBreadFixture struct {
	db          *gorm.DB
	sender      *fakeWebhookSender
	bread       *DailyBread
	gatewayHits atomic.Int64
}

func newDailyBreadFixture(
	t testing.TB,
	votdStatus int,
	votdReference string,
	gatewayStatus int,
) *dailyBreadFixture {
	t.Helper()

	f := &dailyBreadFixture{sender: &fakeWebhookSender{}}

	votdSrv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				if votdStatus != http.StatusOK {
					w.WriteHeader(votdStatus)
					return
				}
				_, _ = fmt.Fprintf(
					w,
					`{"votd":{"reference":%q,"text":"For God so loved the world"}}`,
					votdReference,
				)
			},
		),
	)
	t.Cleanup(votdSrv.Close)

	gatewaySrv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				f.gatewayHits.Add(1)
				if gatewayStatus != http.StatusOK {
					w.WriteHeader(gatewayStatus)
					return
				}
				_, _ = fmt.Fprint(
					w,
					`<html><body><div class="passage-text"><p>`+
						`<sup class="versenum">16</sup>For God so loved the world`+
						`</p></div></body></html>`,
				)
			},
		),
	)
	t.Cleanup(gatewaySrv.Close)

	f.db = gormDB(t)
	writeDB := NewDatabase(f.db, nil, false)
	services := NewServiceManager(
		map[string]ProviderConfig{
			serviceBibleGateway: {BaseURL: gatewaySrv.URL},
		},
		http.DefaultClient,
		5*time.Second,
		100,
		nil,
	)
	resolver := NewVersionResolver(f.db, "esv")
	f.bread = NewDailyBread(
		f.db,
		writeDB,
		services,
		resolver,
		f.sender,
		http.DefaultClient,
		votdSrv.URL,
		5*time.Second,
		time.Minute,
		nil,
	)
	return f
}

func (f *dailyBreadFixture) seedConfig(
	t testing.TB,
	guildID string,
	nextPost time.Time,
) DailyPostConfig {
	t.Helper()
	cfg := DailyPostConfig{
		GuildID:      guildID,
		ChannelID:    "channel-" + guildID,
		WebhookID:    "webhook-" + guildID,
		WebhookToken: "token-" + guildID,
		NextPost:     nextPost.UnixMilli(),
		LocalTime:    "07:00",
		Timezone:     "UTC",
	}
	require.NoError(t, f.db.Create(&cfg).Error)
	return cfg
}

func (f *dailyBreadFixture) storedNextPost(t testing.TB, guildID string) int64 {
	t.Helper()
	var cfg DailyPostConfig
	require.NoError(
		t,
		f.db.Where("guild_id = ?", guildID).Take(&cfg).Error,
	)
	return cfg.NextPost
}

func TestDailyBreadRunBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newDailyBreadFixture(t, http.StatusOK, "John 3:16", http.StatusOK)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	due := now.Add(-time.Minute)
	f.seedConfig(t, "guild-a", due)
	f.seedConfig(t, "guild-b", due)

	require.NoError(t, f.bread.RunBatch(ctx, now))

	require.Equal(t, 2, f.sender.callCount())
	call := f.sender.calls[0]
	assert.Equal(t, "webhook-guild-a", call.webhookID)
	assert.Equal(t, "token-guild-a", call.token)
	require.Len(t, call.params.Embeds, 1)
	assert.Equal(t, "John 3:16 (ESV)", call.params.Embeds[0].Title)
	assert.Equal(t, testPassageBody, call.params.Embeds[0].Description)

	// both guilds resolve to the same version, so the passage is
	// fetched once per batch
	assert.Equal(t, int64(1), f.gatewayHits.Load())

	expected := NextPostTime(due, TimeOfDay{Hour: 7}, time.UTC).UnixMilli()
	assert.Equal(t, expected, f.storedNextPost(t, "guild-a"))
	assert.Equal(t, expected, f.storedNextPost(t, "guild-b"))
	assert.Equal(t, int64(1), f.bread.BatchesRun())
}

func TestDailyBreadRunBatchNothingDue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newDailyBreadFixture(t, http.StatusOK, "John 3:16", http.StatusOK)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.seedConfig(t, "guild-a", now.Add(time.Hour))

	require.NoError(t, f.bread.RunBatch(ctx, now))
	assert.Zero(t, f.sender.callCount())
	assert.Zero(t, f.bread.BatchesRun())
}

func TestDailyBreadRunBatchVotdFailureAborts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newDailyBreadFixture(
		t,
		http.StatusInternalServerError,
		"",
		http.StatusOK,
	)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	due := now.Add(-time.Minute)
	f.seedConfig(t, "guild-a", due)

	err := f.bread.RunBatch(ctx, now)
	require.Error(t, err)
	assert.ErrorContains(t, err, "verse of the day")

	// nothing advanced, nothing sent - the batch retries next tick
	assert.Zero(t, f.sender.callCount())
	assert.Zero(t, f.gatewayHits.Load())
	assert.Equal(t, due.UnixMilli(), f.storedNextPost(t, "guild-a"))
}

func TestDailyBreadRunBatchMissingBookAdvances(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	// Tobit is outside the protestant canon of every seeded version
	f := newDailyBreadFixture(t, http.StatusOK, "Tobit 4:5", http.StatusOK)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	due := now.Add(-time.Minute)
	f.seedConfig(t, "guild-a", due)

	require.NoError(t, f.bread.RunBatch(ctx, now))

	assert.Zero(t, f.sender.callCount())
	assert.Zero(t, f.gatewayHits.Load())
	expected := NextPostTime(due, TimeOfDay{Hour: 7}, time.UTC).UnixMilli()
	assert.Equal(t, expected, f.storedNextPost(t, "guild-a"))
}

func TestDailyBreadRunBatchProviderFailureAdvances(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newDailyBreadFixture(
		t,
		http.StatusOK,
		"John 3:16",
		http.StatusInternalServerError,
	)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	due := now.Add(-time.Minute)
	f.seedConfig(t, "guild-a", due)

	require.NoError(t, f.bread.RunBatch(ctx, now))

	assert.Zero(t, f.sender.callCount())
	expected := NextPostTime(due, TimeOfDay{Hour: 7}, time.UTC).UnixMilli()
	assert.Equal(t, expected, f.storedNextPost(t, "guild-a"))
}

func TestDailyBreadRunBatchDeliveryFailureLeavesSchedule(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newDailyBreadFixture(t, http.StatusOK, "John 3:16", http.StatusOK)
	f.sender.err = errors.New("webhook send failed")

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	due := now.Add(-time.Minute)
	f.seedConfig(t, "guild-a", due)

	require.NoError(t, f.bread.RunBatch(ctx, now))

	// the guild stays due so delivery retries next tick
	assert.Equal(t, due.UnixMilli(), f.storedNextPost(t, "guild-a"))
}

func TestDailyBreadRunBatchDeliveryFailureIsolated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newDailyBreadFixture(t, http.StatusOK, "John 3:16", http.StatusOK)
	f.sender.errFor = map[string]error{
		"webhook-guild-a": errors.New("webhook send failed"),
	}

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	due := now.Add(-time.Minute)
	f.seedConfig(t, "guild-a", due)
	f.seedConfig(t, "guild-b", due)

	require.NoError(t, f.bread.RunBatch(ctx, now))

	// guild-b still delivers and advances
	require.Equal(t, 1, f.sender.callCount())
	assert.Equal(t, "webhook-guild-b", f.sender.calls[0].webhookID)
	expected := NextPostTime(due, TimeOfDay{Hour: 7}, time.UTC).UnixMilli()
	assert.Equal(t, expected, f.storedNextPost(t, "guild-b"))

	// guild-a stays due for a retry next tick
	assert.Equal(t, due.UnixMilli(), f.storedNextPost(t, "guild-a"))
	assert.Equal(t, int64(1), f.bread.BatchesRun())
}

func TestDailyBreadNextPostForFallbacks(t *testing.T) {
	t.Parallel()

	d := NewDailyBread(
		nil, nil, nil, nil, nil, nil, "", time.Second, time.Minute, nil,
	)
	prev := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	next := d.nextPostFor(
		DailyPostConfig{
			NextPost:  prev.UnixMilli(),
			LocalTime: "07:00",
			Timezone:  "Not/AZone",
		},
	)
	assert.Equal(t, prev.Add(24*time.Hour), next)

	next = d.nextPostFor(
		DailyPostConfig{
			NextPost:  prev.UnixMilli(),
			LocalTime: "sevenish",
			Timezone:  "UTC",
		},
	)
	assert.Equal(t, prev.Add(24*time.Hour), next)
}
