package lectern

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	DiscordSlashCommandVerse      = "verse"
	DiscordSlashCommandSearch     = "search"
	DiscordSlashCommandVersion    = "version"
	DiscordSlashCommandConfess    = "confess"
	DiscordSlashCommandDailyBread = "dailybread"

	verseReferenceOption  = "reference"
	verseVersionOption    = "version"
	searchTermsOption     = "terms"
	confessNameOption     = "confession"
	confessSectionOption  = "section"
	confessTermsOption    = "terms"
	dailyBreadTimeOption  = "time"
	dailyBreadTZOption    = "timezone"
	dailyBreadChanOption  = "channel"
	versionSubcommandList = "list"
	versionSubcommandSet  = "set"
	versionSubcommandShow = "show"
	subcommandClear       = "clear"
	versionGroupServer    = "server"
	confessSubcommandCite = "cite"
	confessSubSearch      = "search"
	dailyBreadSubSet      = "set"
	dailyBreadSubStop     = "stop"
	dailyBreadSubStatus   = "status"
)

// Discord manages the gateway session: connecting, registering slash
// commands, and tracking connection state. Interaction handling itself
// lives on [Lectern].
type Discord struct {
	session                     DiscordSessionHandler
	config                      *DiscordConfig
	logger                      *slog.Logger
	metricConnects              atomic.Int64
	metricDisconnects           atomic.Int64
	connected                   atomic.Bool
	discordgoRemoveHandlerFuncs []func()
	lct                         *Lectern
}

func newDiscord(config *DiscordConfig) (*Discord, error) {
	if config == nil {
		return nil, fmt.Errorf("nil discord config")
	}
	return &Discord{
		config:                      config,
		discordgoRemoveHandlerFuncs: []func(){},
	}, nil
}

// newSession initializes a new Discord session for the Discord struct.
// It sets up the session with the appropriate logger, token, and configuration.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{logger: d.logger.With(loggerNameKey, "discord_session_handler")}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true
	disc.StateEnabled = true
	session.session = disc
	if d.config.httpClient != nil {
		disc.Client = d.config.httpClient
	}

	err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level())
	if err != nil {
		return session, err
	}

	return session, nil
}

func (*Discord) ackResponseFlag(command string) discordgo.MessageFlags {
	switch command {
	case DiscordSlashCommandVerse:
		return 0
	case DiscordSlashCommandSearch:
		return discordgo.MessageFlagsEphemeral
	case DiscordSlashCommandConfess:
		return 0
	default:
		return discordgo.MessageFlagsEphemeral
	}
}

func (d *Discord) ackResponse(commandName string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: d.ackResponseFlag(commandName),
		},
	}
}

func defaultCommandContexts() (
	*[]discordgo.InteractionContextType,
	*[]discordgo.ApplicationIntegrationType,
) {
	contexts := []discordgo.InteractionContextType{
		discordgo.InteractionContextPrivateChannel,
		discordgo.InteractionContextGuild,
		discordgo.InteractionContextBotDM,
	}
	integrationTypes := []discordgo.ApplicationIntegrationType{
		discordgo.ApplicationIntegrationUserInstall,
		discordgo.ApplicationIntegrationGuildInstall,
	}
	return &contexts, &integrationTypes
}

func versionOption(required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:         discordgo.ApplicationCommandOptionString,
		Name:         verseVersionOption,
		Description:  "Bible version to use",
		Required:     required,
		Autocomplete: true,
	}
}

// appCommandVerse creates the "verse" command: look up a passage by
// reference.
func (*Discord) appCommandVerse() *discordgo.ApplicationCommand {
	minLength := 1
	dmPerm := true
	contexts, integrationTypes := defaultCommandContexts()

	return &discordgo.ApplicationCommand{
		Name:             DiscordSlashCommandVerse,
		Description:      "Look up a Bible passage",
		DMPermission:     &dmPerm,
		Type:             discordgo.ChatApplicationCommand,
		Contexts:         contexts,
		IntegrationTypes: integrationTypes,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        verseReferenceOption,
				Description: "Verse reference (e.g. John 3:16-18)",
				Required:    true,
				MinLength:   &minLength,
				MaxLength:   100,
			},
			versionOption(false),
		},
	}
}

// appCommandSearch creates the "search" command: full-text passage
// search.
func (*Discord) appCommandSearch() *discordgo.ApplicationCommand {
	minLength := 1
	dmPerm := true
	contexts, integrationTypes := defaultCommandContexts()

	return &discordgo.ApplicationCommand{
		Name:             DiscordSlashCommandSearch,
		Description:      "Search for Bible passages",
		DMPermission:     &dmPerm,
		Type:             discordgo.ChatApplicationCommand,
		Contexts:         contexts,
		IntegrationTypes: integrationTypes,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        searchTermsOption,
				Description: "Words or phrase to search for",
				Required:    true,
				MinLength:   &minLength,
				MaxLength:   200,
			},
			versionOption(false),
		},
	}
}

// appCommandVersion creates the "version" command: list versions and
// manage user and server preference.
func (*Discord) appCommandVersion() *discordgo.ApplicationCommand {
	dmPerm := true
	contexts, integrationTypes := defaultCommandContexts()
	manageGuild := int64(discordgo.PermissionManageGuild)

	return &discordgo.ApplicationCommand{
		Name:             DiscordSlashCommandVersion,
		Description:      "Show or set your preferred Bible version",
		DMPermission:     &dmPerm,
		Type:             discordgo.ChatApplicationCommand,
		Contexts:         contexts,
		IntegrationTypes: integrationTypes,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        versionSubcommandList,
				Description: "List available Bible versions",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        versionSubcommandShow,
				Description: "Show the version currently used for you here",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        versionSubcommandSet,
				Description: "Set your preferred Bible version",
				Options: []*discordgo.ApplicationCommandOption{
					versionOption(true),
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subcommandClear,
				Description: "Clear your preferred Bible version",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
				Name:        versionGroupServer,
				Description: "Manage this server's default Bible version",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        versionSubcommandSet,
						Description: "Set this server's default Bible version",
						Options: []*discordgo.ApplicationCommandOption{
							versionOption(true),
						},
					},
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        subcommandClear,
						Description: "Clear this server's default Bible version",
					},
				},
			},
		},
		DefaultMemberPermissions: &manageGuild,
	}
}

// appCommandConfess creates the "confess" command: cite or search
// confessional documents.
func (*Discord) appCommandConfess() *discordgo.ApplicationCommand {
	minLength := 1
	dmPerm := true
	contexts, integrationTypes := defaultCommandContexts()

	confessionOption := &discordgo.ApplicationCommandOption{
		Type:         discordgo.ApplicationCommandOptionString,
		Name:         confessNameOption,
		Description:  "Confession or catechism",
		Required:     true,
		Autocomplete: true,
	}

	return &discordgo.ApplicationCommand{
		Name:             DiscordSlashCommandConfess,
		Description:      "Cite or search confessional documents",
		DMPermission:     &dmPerm,
		Type:             discordgo.ChatApplicationCommand,
		Contexts:         contexts,
		IntegrationTypes: integrationTypes,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        confessSubcommandCite,
				Description: "Cite a section by number",
				Options: []*discordgo.ApplicationCommandOption{
					confessionOption,
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        confessSectionOption,
						Description: "Section (e.g. 1.2, Q 21, 3)",
						Required:    true,
						MinLength:   &minLength,
						MaxLength:   20,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        confessSubSearch,
				Description: "Search a confession's text",
				Options: []*discordgo.ApplicationCommandOption{
					confessionOption,
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        confessTermsOption,
						Description: "Words to search for",
						Required:    true,
						MinLength:   &minLength,
						MaxLength:   200,
					},
				},
			},
		},
	}
}

// appCommandDailyBread creates the "dailybread" command: manage the
// guild's scheduled verse-of-the-day post.
func (*Discord) appCommandDailyBread() *discordgo.ApplicationCommand {
	dmPerm := false
	manageGuild := int64(discordgo.PermissionManageGuild)
	contexts := []discordgo.InteractionContextType{
		discordgo.InteractionContextGuild,
	}
	integrationTypes := []discordgo.ApplicationIntegrationType{
		discordgo.ApplicationIntegrationGuildInstall,
	}

	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandDailyBread,
		Description:              "Manage this server's daily verse post",
		DMPermission:             &dmPerm,
		DefaultMemberPermissions: &manageGuild,
		Type:                     discordgo.ChatApplicationCommand,
		Contexts:                 &contexts,
		IntegrationTypes:         &integrationTypes,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        dailyBreadSubSet,
				Description: "Schedule a daily verse post in a channel",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionChannel,
						Name:        dailyBreadChanOption,
						Description: "Channel to post in",
						Required:    true,
						ChannelTypes: []discordgo.ChannelType{
							discordgo.ChannelTypeGuildText,
							discordgo.ChannelTypeGuildNews,
							discordgo.ChannelTypeGuildPublicThread,
						},
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        dailyBreadTimeOption,
						Description: "Local time of day, 24-hour (e.g. 07:30)",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        dailyBreadTZOption,
						Description: "IANA timezone (e.g. America/New_York); default UTC",
						Required:    false,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        dailyBreadSubStop,
				Description: "Stop the daily verse post",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        dailyBreadSubStatus,
				Description: "Show the daily verse post schedule",
			},
		},
	}
}

func (d *Discord) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(s *discordgo.Session, _ *discordgo.Ready) {
		d.logger.Info(
			"Ready",
			"session_id", s.State.SessionID,
			"user_id", s.State.User.ID,
			"username", s.State.User.Username,
		)
	}
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	r *discordgo.Connect,
) {
	return func(s *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		var sessionID string
		var userID string
		var username string

		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
			if s.State.User != nil {
				userID = s.State.User.ID
				username = s.State.User.Username
			}
		}
		d.logger.Info(
			"Connected",
			"session_id", sessionID,
			slog.Group("user", "id", userID, "username", username),
		)
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(s *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)

		var sessionID string
		var userID string
		var username string

		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
			if s.State.User != nil {
				userID = s.State.User.ID
				username = s.State.User.Username
			}
		}
		d.logger.Info(
			"disconnected",
			"session_id", sessionID,
			slog.Group("user", "id", userID, "username", username),
		)
	}
}

func (d *Discord) updateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

func (d *Discord) updateStatusComplex(data discordgo.UpdateStatusData) error {
	return d.session.UpdateStatusComplex(data)
}

// registerCommands sends the bot's commands to the discord bulk
// overwrite endpoint
func (d *Discord) registerCommands(
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	commands := []*discordgo.ApplicationCommand{
		d.appCommandVerse(),
		d.appCommandSearch(),
		d.appCommandVersion(),
		d.appCommandConfess(),
		d.appCommandDailyBread(),
	}

	created, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("Created command", "command", c.Name)
	}

	return created, nil
}

// DiscordSessionHandler defines the methods from `discordgo.Session`
// which are used in this application, to enable testing/mocking.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// ChannelMessageSendReply sends a message to the given channel, as a
	// reply to the referenced message
	ChannelMessageSendReply(
		channelID string,
		content string,
		reference *discordgo.MessageReference,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ApplicationCommandBulkOverwrite overwrites Discord application
	// commands in bulk.
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	// UpdateCustomStatus sets the bot's user status to the given string.
	// If empty, sets the bot user to active and removes any existing
	// custom status.
	UpdateCustomStatus(status string) error

	// UpdateStatusComplex sends the given status update, untouched
	UpdateStatusComplex(data discordgo.UpdateStatusData) error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// InteractionRespond sends an interaction response to Discord
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	// InteractionResponseEdit modifies the given interaction
	InteractionResponseEdit(
		interaction *discordgo.Interaction,
		newresp *discordgo.WebhookEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// WebhookCreate creates a webhook in the given channel, used for
	// daily post delivery
	WebhookCreate(
		channelID string,
		name string,
		avatar string,
		options ...discordgo.RequestOption,
	) (*discordgo.Webhook, error)

	// WebhookDelete removes a webhook
	WebhookDelete(
		webhookID string,
		options ...discordgo.RequestOption,
	) error

	// WebhookThreadExecute executes a webhook, optionally into a thread
	WebhookThreadExecute(
		webhookID string,
		token string,
		wait bool,
		threadID string,
		data *discordgo.WebhookParams,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// Channel retrieves a channel by ID
	Channel(
		channelID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	// SetHTTPClient sets the HTTP client for the session
	SetHTTPClient(client *http.Client)

	// SetIdentify sets the identify object that's sent during the initial
	// handshake with the discord gateway
	SetIdentify(discordgo.Identify)

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error

	GatewayBot(options ...discordgo.RequestOption) (st *discordgo.GatewayBotResponse, err error)
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) GatewayBot(options ...discordgo.RequestOption) (
	st *discordgo.GatewayBotResponse,
	err error,
) {
	gb, err := d.session.GatewayBot(options...)
	if err != nil {
		d.logger.Error("error retrieving gateway bot", tint.Err(err))
	}
	return gb, err
}

func (d DiscordSession) ChannelMessageSendReply(
	channelID string,
	content string,
	reference *discordgo.MessageReference,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendReply(
		channelID, content, reference, options...,
	)
	if err != nil {
		d.logger.Error(
			"error sending message reply",
			tint.Err(err),
			"channel_id", channelID,
			"reference", reference,
		)
	}
	return msg, err
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl.Level() {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}

func (d DiscordSession) SetHTTPClient(client *http.Client) {
	d.session.Client = client
}

func (d DiscordSession) SetIdentify(i discordgo.Identify) {
	d.session.Identify = i
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionRespond(interaction, resp, options...)
}

func (d DiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.InteractionResponseEdit(interaction, newresp, options...)
}

func (d DiscordSession) WebhookCreate(
	channelID string,
	name string,
	avatar string,
	options ...discordgo.RequestOption,
) (*discordgo.Webhook, error) {
	return d.session.WebhookCreate(channelID, name, avatar, options...)
}

func (d DiscordSession) WebhookDelete(
	webhookID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.WebhookDelete(webhookID, options...)
}

func (d DiscordSession) WebhookThreadExecute(
	webhookID string,
	token string,
	wait bool,
	threadID string,
	data *discordgo.WebhookParams,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.WebhookThreadExecute(webhookID, token, wait, threadID, data, options...)
}

func (d DiscordSession) Channel(
	channelID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.Channel(channelID, options...)
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		appID,
		guildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("Created command", "command", c.Name)
	}

	return created, nil
}

func (d DiscordSession) UpdateCustomStatus(
	status string,
) error {
	return d.session.UpdateCustomStatus(status)
}

func (d DiscordSession) UpdateStatusComplex(
	data discordgo.UpdateStatusData,
) error {
	return d.session.UpdateStatusComplex(data)
}

// getDiscordUser returns the [discordgo.User] associated with the interaction.
// Users don't always appear in the same place in the interaction object, so
// this checks known areas.
func getDiscordUser(i *discordgo.InteractionCreate) *discordgo.User {
	u := i.User
	if u == nil && i.Member != nil {
		u = i.Member.User
	}
	return u
}

// messageMentionsUser checks if a given discord message mentions the
// given user ID via @.
func messageMentionsUser(m *discordgo.Message, userID string) bool {
	if m == nil {
		return false
	}
	for _, mention := range m.Mentions {
		if mention.ID == userID {
			return true
		}
	}
	return false
}
