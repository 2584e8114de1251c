package lectern

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func testLectern(t testing.TB) *Lectern {
	t.Helper()
	runtimeConfig := DefaultRuntimeConfig()
	return &Lectern{
		db:            gormDB(t),
		logger:        slog.Default(),
		runtimeConfig: &runtimeConfig,
	}
}

func TestUserErrorMessage(t *testing.T) {
	t.Parallel()

	lct := testLectern(t)

	// typed domain errors are shown to the user verbatim
	for _, err := range []error{
		BookNotUnderstoodError{Token: "Hezekiah"},
		VersionNotFoundError{Token: "nope"},
		BookNotInVersionError{Book: "Tobit", Version: "ESV"},
		ConfessionNotFoundError{Token: "nope"},
		SectionLocatorError{Text: "x", Type: ConfessionTypeQA},
		NoSectionError{Confession: "The Heidelberg Catechism", Locator: "999", Kind: "question"},
		TimeOfDayError{Text: "25:00"},
		TimezoneError{Name: "Not/AZone"},
	} {
		assert.Equal(t, err.Error(), lct.userErrorMessage(err))
	}

	assert.Equal(
		t,
		"I do not understand that reference.",
		lct.userErrorMessage(ErrReferenceNotUnderstood),
	)
	assert.Equal(
		t,
		"I do not understand that reference.",
		lct.userErrorMessage(ErrDoNotUnderstand),
	)

	// anything else gets the configured generic message
	assert.Equal(
		t,
		DefaultDiscordErrorMessage,
		lct.userErrorMessage(errors.New("database on fire")),
	)
}

func TestFindFocusedOption(t *testing.T) {
	t.Parallel()

	assert.Nil(t, findFocusedOption(nil))

	flat := []*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "reference"},
		{Name: "version", Focused: true},
	}
	found := findFocusedOption(flat)
	require.NotNil(t, found)
	assert.Equal(t, "version", found.Name)

	nested := []*discordgo.ApplicationCommandInteractionDataOption{
		{
			Name: "set",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: "version", Focused: true},
			},
		},
	}
	found = findFocusedOption(nested)
	require.NotNil(t, found)
	assert.Equal(t, "version", found.Name)

	unfocused := []*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "reference"},
	}
	assert.Nil(t, findFocusedOption(unfocused))
}

func TestPassageEmbed(t *testing.T) {
	t.Parallel()

	embed := passageEmbed(
		&Passage{
			Range:   mustParseReference(t, "John 3:16"),
			Text:    "**16.** For God so loved the world",
			Version: "ESV",
		},
	)
	assert.Equal(t, "John 3:16 (ESV)", embed.Title)
	assert.Equal(t, "**16.** For God so loved the world", embed.Description)

	long := &Passage{
		Range: mustParseReference(t, "Psalm 119:1"),
		Text:  strings.Repeat("x", discordMaxEmbedDescription+500),
	}
	embed = passageEmbed(long)
	assert.LessOrEqual(
		t, len([]rune(embed.Description)), discordMaxEmbedDescription,
	)
}

func TestConfessionEmbed(t *testing.T) {
	t.Parallel()

	hc := &Confession{
		Name:      "The Heidelberg Catechism",
		Type:      ConfessionTypeQA,
		Numbering: NumberingArabic,
	}
	embed := confessionEmbed(
		hc,
		&ConfessionSection{
			Number: 1,
			Title:  "What is thy only comfort in life and death?",
			Body:   "That I with body and soul...",
		},
	)
	assert.Equal(t, "The Heidelberg Catechism Q1", embed.Title)
	// question text is bolded ahead of the answer
	assert.Equal(
		t,
		"**What is thy only comfort in life and death?**\nThat I with body and soul...",
		embed.Description,
	)

	creed := &Confession{
		Name:      "The Apostles' Creed",
		Type:      ConfessionTypeSections,
		Numbering: NumberingArabic,
	}
	embed = confessionEmbed(
		creed,
		&ConfessionSection{Number: 1, Body: "I believe in God..."},
	)
	assert.Equal(t, "The Apostles' Creed 1", embed.Title)
	assert.Equal(t, "I believe in God...", embed.Description)
}

func TestConfessionChoices(t *testing.T) {
	t.Parallel()

	lct := testLectern(t)

	choices := lct.confessionChoices("")
	require.Len(t, choices, 3)
	assert.Equal(t, "The Apostles' Creed", choices[0].Name)
	assert.Equal(t, "creed", choices[0].Value)

	choices = lct.confessionChoices("heidelberg")
	require.Len(t, choices, 1)
	assert.Equal(t, "hc", choices[0].Value)

	choices = lct.confessionChoices("wcf")
	require.Len(t, choices, 1)
	assert.Equal(t, "wcf", choices[0].Value)

	assert.Empty(t, lct.confessionChoices("augsburg"))
}

func TestHandleSearchNoResults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				_, _ = fmt.Fprint(
					w,
					`<html><body><div class="search-total-results">`+
						`0 Bible results</div></body></html>`,
				)
			},
		),
	)
	t.Cleanup(srv.Close)

	lct := testLectern(t)
	lct.services = NewServiceManager(
		map[string]ProviderConfig{serviceBibleGateway: {BaseURL: srv.URL}},
		http.DefaultClient,
		5*time.Second,
		100,
		nil,
	)
	lct.resolver = NewVersionResolver(lct.db, "esv")

	i := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type: discordgo.InteractionApplicationCommand,
			User: &discordgo.User{ID: "user-1"},
			Data: discordgo.ApplicationCommandInteractionData{
				Name: DiscordSlashCommandSearch,
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{
						Name:  searchTermsOption,
						Type:  discordgo.ApplicationCommandOptionString,
						Value: "xyzzy",
					},
				},
			},
		},
	}

	msg, err := lct.handleSearch(context.Background(), i)
	require.NoError(t, err)
	assert.Equal(t, `No results found for "xyzzy".`, msg)
}

// dailyBreadSession stubs the channel and webhook calls the
// /dailybread handlers make.
type dailyBreadSession struct {
	DiscordSessionHandler

	mu           sync.Mutex
	hookSeq      int
	deletedHooks []string
}

func (s *dailyBreadSession) Channel(
	channelID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return &discordgo.Channel{
		ID:   channelID,
		Type: discordgo.ChannelTypeGuildText,
	}, nil
}

func (s *dailyBreadSession) WebhookCreate(
	channelID string,
	_ string,
	_ string,
	_ ...discordgo.RequestOption,
) (*discordgo.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hookSeq++
	return &discordgo.Webhook{
		ID:        fmt.Sprintf("hook-%d", s.hookSeq),
		Token:     "hook-token",
		ChannelID: channelID,
	}, nil
}

func (s *dailyBreadSession) WebhookDelete(
	webhookID string,
	_ ...discordgo.RequestOption,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletedHooks = append(s.deletedHooks, webhookID)
	return nil
}

func dailyBreadInteraction(
	sub *discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			GuildID: "guild-db",
			Type:    discordgo.InteractionApplicationCommand,
			Data: discordgo.ApplicationCommandInteractionData{
				Name:    DiscordSlashCommandDailyBread,
				Options: []*discordgo.ApplicationCommandInteractionDataOption{sub},
			},
		},
	}
}

func TestDailyBreadStopThenSet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	session := &dailyBreadSession{}
	lct := testLectern(t)
	lct.writeDB = NewDatabase(lct.db, nil, false)
	lct.discord = &Discord{session: session, logger: slog.Default()}

	setSub := &discordgo.ApplicationCommandInteractionDataOption{
		Name: dailyBreadSubSet,
		Type: discordgo.ApplicationCommandOptionSubCommand,
		Options: []*discordgo.ApplicationCommandInteractionDataOption{
			{
				Name:  dailyBreadTimeOption,
				Type:  discordgo.ApplicationCommandOptionString,
				Value: "07:00",
			},
			{
				Name:  dailyBreadChanOption,
				Type:  discordgo.ApplicationCommandOptionChannel,
				Value: "chan-1",
			},
		},
	}
	stopSub := &discordgo.ApplicationCommandInteractionDataOption{
		Name: dailyBreadSubStop,
		Type: discordgo.ApplicationCommandOptionSubCommand,
	}

	msg, err := lct.handleDailyBread(ctx, dailyBreadInteraction(setSub))
	require.NoError(t, err)
	assert.Contains(t, msg, "Daily verse will be posted")

	var cfg DailyPostConfig
	require.NoError(
		t,
		lct.db.Where("guild_id = ?", "guild-db").Take(&cfg).Error,
	)
	assert.Equal(t, "hook-1", cfg.WebhookID)

	msg, err = lct.handleDailyBread(ctx, dailyBreadInteraction(stopSub))
	require.NoError(t, err)
	assert.Equal(t, "Daily verse post stopped.", msg)
	assert.Contains(t, session.deletedHooks, "hook-1")

	err = lct.db.Where("guild_id = ?", "guild-db").Take(&cfg).Error
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	// a stopped guild can schedule again
	msg, err = lct.handleDailyBread(ctx, dailyBreadInteraction(setSub))
	require.NoError(t, err)
	assert.Contains(t, msg, "Daily verse will be posted")

	var configs []DailyPostConfig
	require.NoError(
		t,
		lct.db.Where("guild_id = ?", "guild-db").Find(&configs).Error,
	)
	require.Len(t, configs, 1)
	assert.Equal(t, "hook-2", configs[0].WebhookID)
}
