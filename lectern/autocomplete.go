package lectern

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"
)

// discordMaxAutocompleteChoices is Discord's cap on autocomplete
// responses.
const discordMaxAutocompleteChoices = 25

type versionChoice struct {
	Command      string
	Name         string
	Abbreviation string
}

// VersionIndex is an in-memory snapshot of the Bible version table,
// backing slash command autocomplete without a database round-trip per
// keystroke. The snapshot is swapped atomically on refresh; readers
// never block.
type VersionIndex struct {
	choices atomic.Pointer[[]versionChoice]
}

func NewVersionIndex() *VersionIndex {
	idx := &VersionIndex{}
	empty := make([]versionChoice, 0)
	idx.choices.Store(&empty)
	return idx
}

// Refresh rebuilds the snapshot from the database.
func (v *VersionIndex) Refresh(ctx context.Context, db *gorm.DB) error {
	versions, err := ListBibleVersions(ctx, db)
	if err != nil {
		return err
	}
	choices := make([]versionChoice, 0, len(versions))
	for _, version := range versions {
		choices = append(
			choices, versionChoice{
				Command:      version.Command,
				Name:         version.Name,
				Abbreviation: version.Abbreviation,
			},
		)
	}
	sort.Slice(
		choices, func(i, j int) bool {
			return choices[i].Command < choices[j].Command
		},
	)
	v.choices.Store(&choices)
	return nil
}

// Len returns the number of versions in the current snapshot.
func (v *VersionIndex) Len() int {
	return len(*v.choices.Load())
}

// Choices returns autocomplete choices matching the partial input,
// by command prefix or substring of the display name, capped at
// Discord's limit.
func (v *VersionIndex) Choices(partial string) []*discordgo.ApplicationCommandOptionChoice {
	partial = strings.ToLower(strings.TrimSpace(partial))
	snapshot := *v.choices.Load()

	out := make([]*discordgo.ApplicationCommandOptionChoice, 0, discordMaxAutocompleteChoices)
	for _, choice := range snapshot {
		if len(out) == discordMaxAutocompleteChoices {
			break
		}
		if partial != "" &&
			!strings.HasPrefix(choice.Command, partial) &&
			!strings.Contains(strings.ToLower(choice.Name), partial) &&
			!strings.Contains(strings.ToLower(choice.Abbreviation), partial) {
			continue
		}
		out = append(
			out, &discordgo.ApplicationCommandOptionChoice{
				Name:  choice.Name + " (" + choice.Abbreviation + ")",
				Value: choice.Command,
			},
		)
	}
	return out
}
