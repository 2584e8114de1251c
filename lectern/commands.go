package lectern

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	// discordMaxEmbedDescription is Discord's cap on embed description
	// length.
	discordMaxEmbedDescription = 4096

	// commandTimeout bounds end-to-end handling of one interaction,
	// within Discord's 15-minute interaction token lifespan.
	commandTimeout = 30 * time.Second

	// maxScannedReferences caps how many bracketed references a single
	// message is answered with.
	maxScannedReferences = 3

	// searchPageSize is the number of results shown for /search.
	searchPageSize = 5
)

// handlerInteractionCreate routes incoming interactions: autocomplete
// requests answer immediately from in-memory state, application
// commands are acknowledged and handled on a separate goroutine.
func (lct *Lectern) handlerInteractionCreate() func(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	return func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		switch i.Type {
		case discordgo.InteractionApplicationCommandAutocomplete:
			lct.handleAutocomplete(i)
		case discordgo.InteractionApplicationCommand:
			lct.handleApplicationCommand(i)
		default:
			lct.logger.Debug(
				"ignoring interaction",
				"type", i.Type.String(),
			)
		}
	}
}

func (lct *Lectern) handleApplicationCommand(i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	logger := lct.logger.With(
		"command", data.Name,
		"interaction_id", i.ID,
	)
	if u := getDiscordUser(i); u != nil {
		logger = logger.With(slog.Group("user", "id", u.ID, "username", u.Username))
	}
	ctx := WithLogger(context.Background(), logger)

	if err := lct.discord.session.InteractionRespond(
		i.Interaction,
		lct.discord.ackResponse(data.Name),
	); err != nil {
		logger.Error("error acknowledging interaction", tint.Err(err))
		return
	}

	if lct.RuntimeConfig().Paused {
		lct.editResponse(ctx, i, lct.RuntimeConfig().DiscordErrorMessage)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()

		var content string
		var embed *discordgo.MessageEmbed
		var err error

		switch data.Name {
		case DiscordSlashCommandVerse:
			embed, err = lct.handleVerse(ctx, i)
		case DiscordSlashCommandSearch:
			content, err = lct.handleSearch(ctx, i)
		case DiscordSlashCommandVersion:
			content, err = lct.handleVersion(ctx, i)
		case DiscordSlashCommandConfess:
			embed, err = lct.handleConfess(ctx, i)
		case DiscordSlashCommandDailyBread:
			content, err = lct.handleDailyBread(ctx, i)
		default:
			err = fmt.Errorf("unknown command: %s", data.Name)
		}

		if err != nil {
			logger.Warn("command failed", tint.Err(err))
			lct.editResponse(ctx, i, lct.userErrorMessage(err))
			return
		}
		if embed != nil {
			lct.editResponseEmbed(ctx, i, embed)
			return
		}
		lct.editResponse(ctx, i, content)
	}()
}

func (lct *Lectern) editResponse(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	content string,
) {
	_, err := lct.discord.session.InteractionResponseEdit(
		i.Interaction,
		&discordgo.WebhookEdit{Content: &content},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		lct.logger.Error("error editing interaction response", tint.Err(err))
	}
}

func (lct *Lectern) editResponseEmbed(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	embed *discordgo.MessageEmbed,
) {
	_, err := lct.discord.session.InteractionResponseEdit(
		i.Interaction,
		&discordgo.WebhookEdit{Embeds: &[]*discordgo.MessageEmbed{embed}},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		lct.logger.Error("error editing interaction response", tint.Err(err))
	}
}

// userErrorMessage translates application errors into messages safe
// and useful to show the invoking user. Anything unrecognized gets the
// configured generic error message.
func (lct *Lectern) userErrorMessage(err error) string {
	var bookErr BookNotUnderstoodError
	var versionErr VersionNotFoundError
	var notInVersionErr BookNotInVersionError
	var confessionErr ConfessionNotFoundError
	var locatorErr SectionLocatorError
	var noSectionErr NoSectionError
	var passageTimeout PassageTimeoutError
	var searchTimeout SearchTimeoutError
	var todErr TimeOfDayError
	var tzErr TimezoneError

	switch {
	case errors.As(err, &bookErr),
		errors.As(err, &versionErr),
		errors.As(err, &notInVersionErr),
		errors.As(err, &confessionErr),
		errors.As(err, &locatorErr),
		errors.As(err, &noSectionErr),
		errors.As(err, &passageTimeout),
		errors.As(err, &searchTimeout),
		errors.As(err, &todErr),
		errors.As(err, &tzErr):
		return err.Error()
	case errors.Is(err, ErrReferenceNotUnderstood),
		errors.Is(err, ErrDoNotUnderstand):
		return "I do not understand that reference."
	default:
		return lct.RuntimeConfig().DiscordErrorMessage
	}
}

func (lct *Lectern) handleAutocomplete(i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	focused := findFocusedOption(data.Options)
	if focused == nil {
		return
	}

	var choices []*discordgo.ApplicationCommandOptionChoice
	switch focused.Name {
	case verseVersionOption:
		choices = lct.versionIndex.Choices(focused.StringValue())
	case confessNameOption:
		choices = lct.confessionChoices(focused.StringValue())
	}

	err := lct.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionApplicationCommandAutocompleteResult,
			Data: &discordgo.InteractionResponseData{Choices: choices},
		},
	)
	if err != nil {
		lct.logger.Error("error sending autocomplete response", tint.Err(err))
	}
}

// findFocusedOption walks nested subcommand options for the one the
// user is currently typing in.
func findFocusedOption(
	options []*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.ApplicationCommandInteractionDataOption {
	for _, opt := range options {
		if opt.Focused {
			return opt
		}
		if found := findFocusedOption(opt.Options); found != nil {
			return found
		}
	}
	return nil
}

func (lct *Lectern) confessionChoices(
	partial string,
) []*discordgo.ApplicationCommandOptionChoice {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	confessions, err := ListConfessions(ctx, lct.db)
	if err != nil {
		lct.logger.Error("error listing confessions", tint.Err(err))
		return nil
	}
	partial = strings.ToLower(strings.TrimSpace(partial))
	out := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(confessions))
	for _, c := range confessions {
		if len(out) == discordMaxAutocompleteChoices {
			break
		}
		if partial != "" &&
			!strings.HasPrefix(c.Command, partial) &&
			!strings.Contains(strings.ToLower(c.Name), partial) {
			continue
		}
		out = append(
			out, &discordgo.ApplicationCommandOptionChoice{
				Name:  c.Name,
				Value: c.Command,
			},
		)
	}
	return out
}

// handleVerse looks up the requested passage in the resolved version
// and formats it as an embed.
func (lct *Lectern) handleVerse(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) (*discordgo.MessageEmbed, error) {
	opts := discordInteractionOptions(i.ApplicationCommandData().Options)

	ref, err := ParseReference(opts[verseReferenceOption].StringValue())
	if err != nil {
		return nil, err
	}

	var explicit string
	if opt, ok := opts[verseVersionOption]; ok {
		explicit = opt.StringValue()
	}
	version, err := lct.resolveVersion(ctx, explicit, i)
	if err != nil {
		return nil, err
	}
	if !version.ContainsBook(ref) {
		return nil, BookNotInVersionError{Book: ref.Book.Name, Version: version.Abbreviation}
	}

	passage, err := lct.services.GetPassage(ctx, version, ref)
	if err != nil {
		return nil, err
	}

	return passageEmbed(passage), nil
}

func passageEmbed(p *Passage) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       p.Citation(),
		Description: truncatePassage(p.Text, discordMaxEmbedDescription),
	}
}

// handleSearch runs a provider search and returns a citation list.
func (lct *Lectern) handleSearch(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) (string, error) {
	opts := discordInteractionOptions(i.ApplicationCommandData().Options)
	terms := opts[searchTermsOption].StringValue()

	var explicit string
	if opt, ok := opts[verseVersionOption]; ok {
		explicit = opt.StringValue()
	}
	version, err := lct.resolveVersion(ctx, explicit, i)
	if err != nil {
		return "", err
	}

	results, err := lct.services.Search(ctx, version, terms, searchPageSize, 0)
	if err != nil {
		return "", err
	}
	if results.Total == 0 {
		return fmt.Sprintf("No results found for %q.", terms), nil
	}

	var sb strings.Builder
	fmt.Fprintf(
		&sb, "**%d** result(s) for %q (%s):\n", results.Total, terms, version.Abbreviation,
	)
	for _, p := range results.Passages {
		fmt.Fprintf(
			&sb,
			"- **%s**: %s\n",
			p.Range.String(),
			truncatePassage(p.Text, 150),
		)
	}
	return truncatePassage(sb.String(), discordMaxMessageLength), nil
}

// resolveVersion applies the version preference chain for the invoking
// user and guild.
func (lct *Lectern) resolveVersion(
	ctx context.Context,
	explicit string,
	i *discordgo.InteractionCreate,
) (*BibleVersion, error) {
	var userID string
	if u := getDiscordUser(i); u != nil {
		userID = u.ID
	}
	return lct.resolver.Resolve(ctx, explicit, userID, i.GuildID)
}

// handleVersion covers list/show/set/clear plus the server subcommand
// group.
func (lct *Lectern) handleVersion(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) (string, error) {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return "", fmt.Errorf("missing subcommand")
	}
	sub := data.Options[0]

	user := getDiscordUser(i)
	var userID string
	if user != nil {
		userID = user.ID
	}

	switch sub.Name {
	case versionSubcommandList:
		versions, err := ListBibleVersions(ctx, lct.db)
		if err != nil {
			return "", err
		}
		if len(versions) == 0 {
			return "No Bible versions are configured.", nil
		}
		var sb strings.Builder
		sb.WriteString("Available versions:\n")
		for _, v := range versions {
			fmt.Fprintf(&sb, "- `%s` %s (%s)\n", v.Command, v.Name, v.Abbreviation)
		}
		return truncatePassage(sb.String(), discordMaxMessageLength), nil
	case versionSubcommandShow:
		version, err := lct.resolver.Resolve(ctx, "", userID, i.GuildID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(
			"Verses here are looked up in **%s** (%s).",
			version.Name, version.Abbreviation,
		), nil
	case versionSubcommandSet:
		subOpts := discordInteractionOptions(sub.Options)
		version, err := lct.resolver.SetUserVersion(
			ctx, lct.writeDB, userID, subOpts[verseVersionOption].StringValue(),
		)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(
			"Your preferred version is now **%s** (%s).",
			version.Name, version.Abbreviation,
		), nil
	case subcommandClear:
		if err := lct.resolver.ClearUserVersion(ctx, lct.writeDB, userID); err != nil {
			return "", err
		}
		return "Your version preference has been cleared.", nil
	case versionGroupServer:
		return lct.handleVersionServer(ctx, i, sub)
	default:
		return "", fmt.Errorf("unknown subcommand: %s", sub.Name)
	}
}

func (lct *Lectern) handleVersionServer(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	group *discordgo.ApplicationCommandInteractionDataOption,
) (string, error) {
	if i.GuildID == "" {
		return "", fmt.Errorf("server subcommand used outside a guild")
	}
	if len(group.Options) == 0 {
		return "", fmt.Errorf("missing server subcommand")
	}
	sub := group.Options[0]

	switch sub.Name {
	case versionSubcommandSet:
		subOpts := discordInteractionOptions(sub.Options)
		version, err := lct.resolver.SetGuildVersion(
			ctx, lct.writeDB, i.GuildID, subOpts[verseVersionOption].StringValue(),
		)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(
			"This server's default version is now **%s** (%s).",
			version.Name, version.Abbreviation,
		), nil
	case subcommandClear:
		if err := lct.resolver.ClearGuildVersion(ctx, lct.writeDB, i.GuildID); err != nil {
			return "", err
		}
		return "This server's default version has been cleared.", nil
	default:
		return "", fmt.Errorf("unknown server subcommand: %s", sub.Name)
	}
}

// handleConfess cites or searches a confessional document.
func (lct *Lectern) handleConfess(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) (*discordgo.MessageEmbed, error) {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return nil, fmt.Errorf("missing subcommand")
	}
	sub := data.Options[0]
	subOpts := discordInteractionOptions(sub.Options)

	confession, err := GetConfession(
		ctx, lct.db, subOpts[confessNameOption].StringValue(),
	)
	if err != nil {
		return nil, err
	}

	switch sub.Name {
	case confessSubcommandCite:
		number, subNumber, parseErr := ParseConfessionReference(
			confession.Type, subOpts[confessSectionOption].StringValue(),
		)
		if parseErr != nil {
			return nil, parseErr
		}
		section, sectionErr := GetSection(ctx, lct.db, confession, number, subNumber)
		if sectionErr != nil {
			return nil, sectionErr
		}
		return confessionEmbed(confession, section), nil
	case confessSubSearch:
		terms := subOpts[confessTermsOption].StringValue()
		sections, searchErr := SearchSections(ctx, lct.db, confession, terms)
		if searchErr != nil {
			return nil, searchErr
		}
		if len(sections) == 0 {
			return &discordgo.MessageEmbed{
				Title:       confession.Name,
				Description: fmt.Sprintf("No results found for %q.", terms),
			}, nil
		}
		var sb strings.Builder
		for idx := range sections {
			if idx == searchPageSize {
				fmt.Fprintf(&sb, "\n(%d more)", len(sections)-searchPageSize)
				break
			}
			section := &sections[idx]
			fmt.Fprintf(
				&sb,
				"**%s**: %s\n",
				confession.Citation(section),
				truncatePassage(section.Body, 150),
			)
		}
		return &discordgo.MessageEmbed{
			Title:       fmt.Sprintf("%s: %q", confession.Name, terms),
			Description: truncatePassage(sb.String(), discordMaxEmbedDescription),
		}, nil
	default:
		return nil, fmt.Errorf("unknown subcommand: %s", sub.Name)
	}
}

func confessionEmbed(c *Confession, section *ConfessionSection) *discordgo.MessageEmbed {
	body := section.Body
	if c.Type == ConfessionTypeQA && section.Title != "" {
		body = fmt.Sprintf("**%s**\n%s", section.Title, section.Body)
	}
	return &discordgo.MessageEmbed{
		Title:       c.Citation(section),
		Description: truncatePassage(body, discordMaxEmbedDescription),
	}
}

// handleDailyBread manages the guild's daily post schedule.
func (lct *Lectern) handleDailyBread(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) (string, error) {
	if i.GuildID == "" {
		return "", fmt.Errorf("dailybread used outside a guild")
	}
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return "", fmt.Errorf("missing subcommand")
	}
	sub := data.Options[0]

	switch sub.Name {
	case dailyBreadSubSet:
		return lct.dailyBreadSet(ctx, i, sub)
	case dailyBreadSubStop:
		return lct.dailyBreadStop(ctx, i)
	case dailyBreadSubStatus:
		return lct.dailyBreadStatus(ctx, i)
	default:
		return "", fmt.Errorf("unknown subcommand: %s", sub.Name)
	}
}

func (lct *Lectern) dailyBreadSet(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) (string, error) {
	subOpts := discordInteractionOptions(sub.Options)

	target, err := ParseTimeOfDay(subOpts[dailyBreadTimeOption].StringValue())
	if err != nil {
		return "", err
	}
	tzName := "UTC"
	if opt, ok := subOpts[dailyBreadTZOption]; ok {
		tzName = opt.StringValue()
	}
	loc, err := LoadTimezone(tzName)
	if err != nil {
		return "", err
	}

	channelID := subOpts[dailyBreadChanOption].Value.(string)
	channel, err := lct.discord.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("error looking up channel: %w", err)
	}

	// Webhooks attach to text channels; posting into a thread needs
	// the webhook on the parent channel and the thread ID on execute.
	webhookChannelID := channel.ID
	threadID := ""
	if channel.IsThread() {
		webhookChannelID = channel.ParentID
		threadID = channel.ID
	}

	webhook, err := lct.discord.session.WebhookCreate(
		webhookChannelID, "Daily Bread", "", discordgo.WithContext(ctx),
	)
	if err != nil {
		return "", fmt.Errorf("error creating webhook: %w", err)
	}

	cfg := DailyPostConfig{
		GuildID:      i.GuildID,
		ChannelID:    channel.ID,
		ThreadID:     threadID,
		WebhookID:    webhook.ID,
		WebhookToken: webhook.Token,
		LocalTime:    target.String(),
		Timezone:     tzName,
		NextPost:     FirstPostTime(time.Now(), target, loc).UnixMilli(),
	}

	// replace any existing schedule for this guild
	var existing DailyPostConfig
	err = lct.db.WithContext(ctx).
		Where("guild_id = ?", i.GuildID).
		Take(&existing).Error
	if err == nil {
		cfg.ID = existing.ID
		if existing.WebhookID != "" && existing.WebhookID != webhook.ID {
			if delErr := lct.discord.session.WebhookDelete(
				existing.WebhookID, discordgo.WithContext(ctx),
			); delErr != nil {
				lct.logger.Warn("error deleting old webhook", tint.Err(delErr))
			}
		}
	}

	if _, err = lct.writeDB.Save(ctx, &cfg); err != nil {
		return "", err
	}

	return fmt.Sprintf(
		"Daily verse will be posted in <#%s> every day at %s (%s). Next post: <t:%d:f>.",
		channel.ID, cfg.LocalTime, tzName, cfg.NextPost/1000,
	), nil
}

func (lct *Lectern) dailyBreadStop(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) (string, error) {
	var cfg DailyPostConfig
	err := lct.db.WithContext(ctx).
		Where("guild_id = ?", i.GuildID).
		Take(&cfg).Error
	if err != nil {
		return "No daily verse post is scheduled for this server.", nil
	}
	if cfg.WebhookID != "" {
		if delErr := lct.discord.session.WebhookDelete(
			cfg.WebhookID, discordgo.WithContext(ctx),
		); delErr != nil {
			lct.logger.Warn("error deleting webhook", tint.Err(delErr))
		}
	}
	if _, err = lct.writeDB.Delete(&cfg); err != nil {
		return "", err
	}
	return "Daily verse post stopped.", nil
}

func (lct *Lectern) dailyBreadStatus(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) (string, error) {
	var cfg DailyPostConfig
	err := lct.db.WithContext(ctx).
		Where("guild_id = ?", i.GuildID).
		Take(&cfg).Error
	if err != nil {
		return "No daily verse post is scheduled for this server.", nil
	}
	return fmt.Sprintf(
		"Daily verse posts in <#%s> every day at %s (%s). Next post: <t:%d:f>.",
		cfg.ChannelID, cfg.LocalTime, cfg.Timezone, cfg.NextPost/1000,
	), nil
}

// handlerMessageCreate scans ordinary messages for bracketed verse
// references (e.g. "see [John 3:16]") and replies with each passage.
func (lct *Lectern) handlerMessageCreate() func(
	s *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	return func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
			return
		}
		config := lct.RuntimeConfig()
		if config.Paused || !config.VerseScanEnabled {
			return
		}

		refs := ExtractReferences(m.Content, true)
		if len(refs) == 0 {
			return
		}
		if len(refs) > maxScannedReferences {
			refs = refs[:maxScannedReferences]
		}

		go lct.replyWithPassages(m, refs)
	}
}

func (lct *Lectern) replyWithPassages(
	m *discordgo.MessageCreate,
	refs []VerseRange,
) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	logger := lct.logger.With(
		"message_id", m.ID,
		"channel_id", m.ChannelID,
		"guild_id", m.GuildID,
	)

	for _, ref := range refs {
		version, err := lct.resolver.Resolve(
			ctx, ref.Version, m.Author.ID, m.GuildID,
		)
		if err != nil {
			logger.Warn("error resolving version for scan", tint.Err(err))
			continue
		}
		if !version.ContainsBook(ref) {
			logger.Debug(
				"book not in version, skipping",
				"book", ref.Book.Name,
				"version", version.Abbreviation,
			)
			continue
		}
		passage, err := lct.services.GetPassage(ctx, version, ref)
		if err != nil {
			logger.Warn("error fetching scanned passage", tint.Err(err))
			continue
		}
		content := fmt.Sprintf(
			"**%s**\n%s",
			passage.Citation(),
			truncatePassage(passage.Text, discordMaxMessageLength-100),
		)
		_, err = lct.discord.session.ChannelMessageSendReply(
			m.ChannelID,
			content,
			m.Reference(),
			discordgo.WithContext(ctx),
		)
		if err != nil {
			logger.Error("error sending passage reply", tint.Err(err))
		}
	}
}
