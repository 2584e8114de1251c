package lectern

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

const (
	// DefaultDailyBreadInterval is the wall-clock cadence the daily
	// post loop evaluates due configurations at.
	DefaultDailyBreadInterval = 15 * time.Minute

	defaultVerseOfTheDayURL = "https://www.biblegateway.com/votd/get/?format=json&version=NIV"

	columnDailyPostNextPost = "next_post"
)

// DailyPostConfig is one guild's daily verse-of-the-day posting
// configuration: destination channel/thread, the webhook used for
// delivery, the next scheduled UTC instant, and the target local
// time-of-day plus timezone used to recompute it after each post.
type DailyPostConfig struct {
	ModelUintID
	ModelUnixTime

	GuildID   string `gorm:"uniqueIndex;not null" json:"guild_id"`
	ChannelID string `gorm:"not null" json:"channel_id"`
	ThreadID  string `json:"thread_id,omitempty"`

	WebhookID    string `gorm:"not null" json:"webhook_id"`
	WebhookToken string `gorm:"not null" json:"-" log:"[redacted]"`

	// NextPost is the next scheduled UTC instant, in unix
	// milliseconds. A configuration is due when NextPost <= now.
	NextPost int64 `gorm:"index;not null" json:"next_post"`

	// LocalTime is the target local time-of-day ("07:30"); Timezone is
	// the IANA zone name it's interpreted in.
	LocalTime string `gorm:"not null" json:"local_time"`
	Timezone  string `gorm:"not null" json:"timezone"`
}

func (c DailyPostConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("guild_id", c.GuildID),
		slog.String("channel_id", c.ChannelID),
		slog.Time("next_post", time.UnixMilli(c.NextPost).UTC()),
		slog.String("local_time", c.LocalTime),
		slog.String("timezone", c.Timezone),
	)
}

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// TimeOfDayError indicates unrecognized time-of-day input.
type TimeOfDayError struct {
	Text string
}

func (e TimeOfDayError) Error() string {
	return fmt.Sprintf("%q is not a valid time of day (use HH:MM)", e.Text)
}

// TimezoneError indicates an unrecognized IANA timezone name.
type TimezoneError struct {
	Name string
}

func (e TimezoneError) Error() string {
	return fmt.Sprintf("%q is not a recognized timezone", e.Name)
}

var timeOfDayPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// ParseTimeOfDay parses "HH:MM" (24h) input.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	m := timeOfDayPattern.FindStringSubmatch(s)
	if m == nil {
		return TimeOfDay{}, TimeOfDayError{Text: s}
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return TimeOfDay{}, TimeOfDayError{Text: s}
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

// LoadTimezone resolves an IANA zone name, translating failures into a
// [TimezoneError] the caller can quote back.
func LoadTimezone(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, TimezoneError{Name: name}
	}
	return loc, nil
}

// NextPostTime computes the next scheduled UTC instant after prev:
// the next calendar day at the target local time-of-day in the given
// zone. Across DST transitions the UTC instant shifts by the offset
// delta rather than a flat 24 hours, so the local wall-clock time is
// preserved (a time-of-day skipped by spring-forward normalizes past
// the gap).
func NextPostTime(prev time.Time, target TimeOfDay, loc *time.Location) time.Time {
	local := prev.In(loc)
	next := time.Date(
		local.Year(), local.Month(), local.Day()+1,
		target.Hour, target.Minute, 0, 0,
		loc,
	)
	return next.UTC()
}

// FirstPostTime computes the initial scheduled instant for a new
// configuration: the next occurrence of the target local time at or
// after now.
func FirstPostTime(now time.Time, target TimeOfDay, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(
		local.Year(), local.Month(), local.Day(),
		target.Hour, target.Minute, 0, 0,
		loc,
	)
	if !next.After(local) {
		next = time.Date(
			local.Year(), local.Month(), local.Day()+1,
			target.Hour, target.Minute, 0, 0,
			loc,
		)
	}
	return next.UTC()
}

// WebhookSender delivers a daily post to its destination. Implemented
// by *discordgo.Session; narrowed to an interface so batch tests can
// run without a live session.
type WebhookSender interface {
	WebhookThreadExecute(
		webhookID string,
		token string,
		wait bool,
		threadID string,
		data *discordgo.WebhookParams,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
}

type verseOfTheDayResponse struct {
	Votd struct {
		Reference string `json:"reference"`
		Text      string `json:"text"`
	} `json:"votd"`
}

// votdClient fetches the shared verse-of-the-day reference from the
// upstream content source.
type votdClient struct {
	url        string
	httpClient *http.Client
	timeout    time.Duration
}

// VerseOfTheDay fetches and parses today's shared verse reference.
func (c *votdClient) VerseOfTheDay(ctx context.Context) (VerseRange, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return VerseRange{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return VerseRange{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return VerseRange{}, fmt.Errorf(
			"%w: unexpected status %d",
			ErrDoNotUnderstand,
			resp.StatusCode,
		)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return VerseRange{}, err
	}
	var parsed verseOfTheDayResponse
	if err = json.Unmarshal(body, &parsed); err != nil {
		return VerseRange{}, fmt.Errorf("%w: %v", ErrDoNotUnderstand, err)
	}
	return ParseReference(parsed.Votd.Reference)
}

// DailyBread runs the recurring daily-post task: on a fixed cadence it
// finds guild configurations whose next scheduled instant has passed,
// fetches the shared verse of the day once per batch, posts the
// passage to each due destination, and recomputes each configuration's
// next instant.
type DailyBread struct {
	db       *gorm.DB
	writeDB  DBI
	services *ServiceManager
	resolver *VersionResolver
	sender   WebhookSender
	votd     *votdClient
	interval time.Duration
	logger   *slog.Logger

	batchesRun atomic.Int64
}

func NewDailyBread(
	db *gorm.DB,
	writeDB DBI,
	services *ServiceManager,
	resolver *VersionResolver,
	sender WebhookSender,
	httpClient *http.Client,
	votdURL string,
	votdTimeout time.Duration,
	interval time.Duration,
	logger *slog.Logger,
) *DailyBread {
	if logger == nil {
		logger = slog.Default()
	}
	if votdURL == "" {
		votdURL = defaultVerseOfTheDayURL
	}
	if interval <= 0 {
		interval = DefaultDailyBreadInterval
	}
	return &DailyBread{
		db:       db,
		writeDB:  writeDB,
		services: services,
		resolver: resolver,
		sender:   sender,
		votd: &votdClient{
			url:        votdURL,
			httpClient: httpClient,
			timeout:    votdTimeout,
		},
		interval: interval,
		logger:   logger.With(loggerNameKey, "daily_bread"),
	}
}

// Run evaluates due configurations on the fixed cadence until the
// context is canceled. Each evaluation is one batch; a batch error is
// logged and the next tick proceeds normally.
func (d *DailyBread) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.InfoContext(ctx, "daily bread task started", "interval", d.interval)
	for {
		select {
		case <-ctx.Done():
			d.logger.InfoContext(ctx, "daily bread task stopped")
			return
		case now := <-ticker.C:
			if err := d.RunBatch(ctx, now.UTC()); err != nil {
				d.logger.ErrorContext(ctx, "daily bread batch failed", tint.Err(err))
			}
		}
	}
}

// RunBatch evaluates every configuration due at now and posts to each.
//
// The shared verse of the day is fetched once per batch; if that fetch
// fails the batch aborts with no side effects, leaving every schedule
// untouched. Passages are memoized per Bible-version ID within the
// batch, since multiple guilds commonly share a version. One
// configuration's failure never aborts the rest of the batch; all
// schedule advances commit in a single transaction at the end.
func (d *DailyBread) RunBatch(ctx context.Context, now time.Time) error {
	var due []DailyPostConfig
	err := d.db.WithContext(ctx).
		Where("next_post <= ?", now.UnixMilli()).
		Order("guild_id asc").
		Find(&due).Error
	if err != nil {
		return fmt.Errorf("error loading due configurations: %w", err)
	}
	if len(due) == 0 {
		return nil
	}
	d.batchesRun.Add(1)

	d.logger.InfoContext(ctx, "due configurations", "count", len(due))

	votdRef, err := d.votd.VerseOfTheDay(ctx)
	if err != nil {
		// nothing advances - the whole batch retries next tick
		return fmt.Errorf("error fetching verse of the day: %w", err)
	}
	d.logger.InfoContext(ctx, "verse of the day", "reference", votdRef.String())

	// batch-scoped memoization, keyed by Bible version ID
	passages := map[uint]*Passage{}
	var advance []DailyPostConfig

	for i := range due {
		cfg := due[i]
		log := d.logger.With("guild_id", cfg.GuildID)

		version, resolveErr := d.resolver.Resolve(ctx, "", "", cfg.GuildID)
		if resolveErr != nil {
			log.ErrorContext(ctx, "error resolving version", tint.Err(resolveErr))
			continue
		}

		if !version.ContainsBook(votdRef) {
			// the schedule still advances so the guild isn't retried
			// every tick for a book its version will never have
			log.WarnContext(
				ctx,
				"version does not contain today's book, skipping post",
				"version", version.Command,
				"reference", votdRef.String(),
			)
			advance = append(advance, cfg)
			continue
		}

		passage, cached := passages[version.ID]
		if !cached {
			passage, err = d.services.GetPassage(ctx, version, votdRef)
			if err != nil {
				// advance anyway - retrying the provider on every tick
				// for 24 hours is worse than missing one day
				log.ErrorContext(ctx, "error fetching passage", tint.Err(err))
				advance = append(advance, cfg)
				continue
			}
			passages[version.ID] = passage
		}

		if deliverErr := d.deliver(ctx, cfg, passage); deliverErr != nil {
			// delivery failures leave next_post unchanged
			log.ErrorContext(ctx, "error delivering daily post", tint.Err(deliverErr))
			continue
		}
		advance = append(advance, cfg)
	}

	if len(advance) == 0 {
		return nil
	}

	txErr := d.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			for i := range advance {
				cfg := advance[i]
				next := d.nextPostFor(cfg)
				if err := tx.Model(&DailyPostConfig{}).
					Where("id = ?", cfg.ID).
					Update(columnDailyPostNextPost, next.UnixMilli()).Error; err != nil {
					return err
				}
			}
			return nil
		},
	)
	if txErr != nil {
		return fmt.Errorf("error committing schedule updates: %w", txErr)
	}
	return nil
}

// nextPostFor computes a configuration's next scheduled instant from
// its previous one. A configuration whose timezone no longer loads
// falls back to a flat 24-hour advance.
func (d *DailyBread) nextPostFor(cfg DailyPostConfig) time.Time {
	prev := time.UnixMilli(cfg.NextPost).UTC()

	target, err := ParseTimeOfDay(cfg.LocalTime)
	if err != nil {
		d.logger.Warn(
			"stored local time invalid, advancing 24h",
			"guild_id", cfg.GuildID,
			"local_time", cfg.LocalTime,
		)
		return prev.Add(24 * time.Hour)
	}
	loc, err := LoadTimezone(cfg.Timezone)
	if err != nil {
		d.logger.Warn(
			"stored timezone invalid, advancing 24h",
			"guild_id", cfg.GuildID,
			"timezone", cfg.Timezone,
		)
		return prev.Add(24 * time.Hour)
	}
	return NextPostTime(prev, target, loc)
}

func (d *DailyBread) deliver(
	ctx context.Context,
	cfg DailyPostConfig,
	passage *Passage,
) error {
	params := &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{
			{
				Title:       passage.Citation(),
				Description: truncatePassage(passage.Text, 4096),
			},
		},
	}
	_, err := d.sender.WebhookThreadExecute(
		cfg.WebhookID,
		cfg.WebhookToken,
		false,
		cfg.ThreadID,
		params,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		var restErr *discordgo.RESTError
		if errors.As(err, &restErr) && restErr.Response != nil &&
			restErr.Response.StatusCode == http.StatusNotFound {
			return fmt.Errorf("webhook destination no longer exists: %w", err)
		}
		return err
	}
	return nil
}

// BatchesRun reports how many non-empty batches have executed. Used by
// the status endpoint.
func (d *DailyBread) BatchesRun() int64 {
	return d.batchesRun.Load()
}
