package lectern

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DataMigration records an applied data migration revision, so seed
// data is inserted exactly once per database.
type DataMigration struct {
	ModelUintID
	ModelUnixTime
	Revision string `gorm:"uniqueIndex" json:"revision"`
}

type dataMigration struct {
	Revision string
	Apply    func(tx *gorm.DB) error
}

// dataMigrations run in order at startup, after schema auto-migration.
// Never reorder or edit an applied revision: append a new one.
var dataMigrations = []dataMigration{
	{Revision: "0001_default_bible_versions", Apply: seedDefaultBibleVersions},
	{Revision: "0002_confession_heidelberg", Apply: seedHeidelbergCatechism},
	{Revision: "0003_confession_westminster", Apply: seedWestminsterConfession},
	{Revision: "0004_confession_apostles_creed", Apply: seedApostlesCreed},
	{Revision: "0005_confession_search_vector", Apply: createSectionSearchVector},
}

// ApplyDataMigrations applies any pending data migrations, each in its
// own transaction, recording the revision alongside the data it seeds.
func ApplyDataMigrations(ctx context.Context, db *gorm.DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	applied := map[string]bool{}
	var rows []DataMigration
	if err := db.WithContext(ctx).Find(&rows).Error; err != nil {
		return fmt.Errorf("error loading migration history: %w", err)
	}
	for _, row := range rows {
		applied[row.Revision] = true
	}

	for _, m := range dataMigrations {
		if applied[m.Revision] {
			continue
		}
		logger.InfoContext(ctx, "applying data migration", "revision", m.Revision)
		err := db.WithContext(ctx).Transaction(
			func(tx *gorm.DB) error {
				if e := m.Apply(tx); e != nil {
					return e
				}
				return tx.Create(&DataMigration{Revision: m.Revision}).Error
			},
		)
		if err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Revision, err)
		}
	}
	return nil
}

func seedDefaultBibleVersions(tx *gorm.DB) error {
	protestant, err := ParseBookMask("Gen-Mal,Matt-Rev")
	if err != nil {
		return err
	}
	versions := []BibleVersion{
		{
			Command:        "kjv",
			Name:           "King James Version",
			Abbreviation:   "KJV",
			Service:        serviceBibleGateway,
			ServiceVersion: "KJV",
			Books:          protestant,
		},
		{
			Command:        "esv",
			Name:           "English Standard Version",
			Abbreviation:   "ESV",
			Service:        serviceBibleGateway,
			ServiceVersion: "ESV",
			Books:          protestant,
		},
		{
			Command:        "niv",
			Name:           "New International Version",
			Abbreviation:   "NIV",
			Service:        serviceBibleGateway,
			ServiceVersion: "NIV",
			Books:          protestant,
		},
	}
	return tx.Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "command"}},
			DoNothing: true,
		},
	).Create(&versions).Error
}

func seedConfession(
	tx *gorm.DB,
	confession Confession,
	sections []ConfessionSection,
) error {
	var existing Confession
	err := tx.Where("command = ?", confession.Command).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if err = tx.Create(&confession).Error; err != nil {
		return err
	}
	for i := range sections {
		sections[i].ConfessionID = confession.ID
	}
	return tx.Create(&sections).Error
}

func seedHeidelbergCatechism(tx *gorm.DB) error {
	return seedConfession(
		tx,
		Confession{
			Command:   "hc",
			Name:      "The Heidelberg Catechism",
			Type:      ConfessionTypeQA,
			Numbering: NumberingArabic,
		},
		[]ConfessionSection{
			{
				Number: 1,
				Title:  "What is thy only comfort in life and death?",
				Body: "That I with body and soul, both in life and death, am not my " +
					"own, but belong unto my faithful Saviour Jesus Christ; who, with " +
					"his precious blood, has fully satisfied for all my sins, and " +
					"delivered me from all the power of the devil; and so preserves me " +
					"that without the will of my heavenly Father, not a hair can fall " +
					"from my head; yea, that all things must be subservient to my " +
					"salvation, and therefore, by his Holy Spirit, he also assures me " +
					"of eternal life, and makes me sincerely willing and ready, " +
					"henceforth, to live unto him.",
			},
			{
				Number: 2,
				Title: "How many things are necessary for thee to know, that thou, " +
					"enjoying this comfort, mayest live and die happily?",
				Body: "Three; the first, how great my sins and miseries are; the " +
					"second, how I may be delivered from all my sins and miseries; " +
					"the third, how I shall express my gratitude to God for such " +
					"deliverance.",
			},
			{
				Number: 3,
				Title:  "Whence knowest thou thy misery?",
				Body:   "Out of the law of God.",
			},
			{
				Number: 4,
				Title:  "What doth the law of God require of us?",
				Body: "Christ teaches us that briefly, Matt. 22:37-40, \"Thou shalt " +
					"love the Lord thy God with all thy heart, with all thy soul, and " +
					"with all thy mind, and with all thy strength. This is the first " +
					"and the great commandment; and the second is like unto it, Thou " +
					"shalt love thy neighbour as thyself. On these two commandments " +
					"hang all the law and the prophets.\"",
			},
			{
				Number: 21,
				Title:  "What is true faith?",
				Body: "True faith is not only a certain knowledge, whereby I hold for " +
					"truth all that God has revealed to us in his word, but also an " +
					"assured confidence, which the Holy Ghost works by the gospel in " +
					"my heart; that not only to others, but to me also, remission of " +
					"sin, everlasting righteousness and salvation, are freely given " +
					"by God, merely of grace, only for the sake of Christ's merits.",
			},
		},
	)
}

func seedWestminsterConfession(tx *gorm.DB) error {
	sub := func(n int) *int { return &n }
	return seedConfession(
		tx,
		Confession{
			Command:      "wcf",
			Name:         "The Westminster Confession of Faith",
			Type:         ConfessionTypeChapters,
			Numbering:    NumberingRoman,
			SubNumbering: NumberingArabic,
		},
		[]ConfessionSection{
			{
				Number:    1,
				SubNumber: sub(1),
				Title:     "Of the Holy Scripture",
				Body: "Although the light of nature, and the works of creation and " +
					"providence do so far manifest the goodness, wisdom, and power of " +
					"God, as to leave men unexcusable; yet are they not sufficient to " +
					"give that knowledge of God, and of his will, which is necessary " +
					"unto salvation. Therefore it pleased the Lord, at sundry times, " +
					"and in divers manners, to reveal himself, and to declare that his " +
					"will unto his church; and afterwards, for the better preserving " +
					"and propagating of the truth, and for the more sure establishment " +
					"and comfort of the church against the corruption of the flesh, " +
					"and the malice of Satan and of the world, to commit the same " +
					"wholly unto writing: which maketh the Holy Scripture to be most " +
					"necessary; those former ways of God's revealing his will unto his " +
					"people being now ceased.",
			},
			{
				Number:    1,
				SubNumber: sub(2),
				Title:     "Of the Holy Scripture",
				Body: "Under the name of Holy Scripture, or the Word of God written, " +
					"are now contained all the books of the Old and New Testament, " +
					"which are these: Of the Old Testament: Genesis, Exodus, " +
					"Leviticus, Numbers, Deuteronomy, Joshua, Judges, Ruth, I Samuel, " +
					"II Samuel, I Kings, II Kings, I Chronicles, II Chronicles, Ezra, " +
					"Nehemiah, Esther, Job, Psalms, Proverbs, Ecclesiastes, The Song " +
					"of Songs, Isaiah, Jeremiah, Lamentations, Ezekiel, Daniel, Hosea, " +
					"Joel, Amos, Obadiah, Jonah, Micah, Nahum, Habakkuk, Zephaniah, " +
					"Haggai, Zechariah, Malachi. Of the New Testament: The Gospels " +
					"according to Matthew, Mark, Luke, John; the Acts of the Apostles; " +
					"Paul's Epistles to the Romans, Corinthians I, Corinthians II, " +
					"Galatians, Ephesians, Philippians, Colossians, Thessalonians I, " +
					"Thessalonians II, To Timothy I, To Timothy II, To Titus, To " +
					"Philemon; the Epistle to the Hebrews, the Epistle of James, the " +
					"First and Second Epistles of Peter, the First, Second, and Third " +
					"Epistles of John, the Epistle of Jude, the Revelation of John. " +
					"All which are given by inspiration of God, to be the rule of " +
					"faith and life.",
			},
			{
				Number:    21,
				SubNumber: sub(1),
				Title:     "Of Religious Worship, and the Sabbath Day",
				Body: "The light of nature showeth that there is a God, who hath " +
					"lordship and sovereignty over all, is good, and doth good unto " +
					"all, and is therefore to be feared, loved, praised, called upon, " +
					"trusted in, and served, with all the heart, and with all the " +
					"soul, and with all the might. But the acceptable way of " +
					"worshipping the true God is instituted by himself, and so limited " +
					"by his own revealed will, that he may not be worshipped according " +
					"to the imaginations and devices of men, or the suggestions of " +
					"Satan, under any visible representation, or any other way not " +
					"prescribed in the Holy Scripture.",
			},
		},
	)
}

func seedApostlesCreed(tx *gorm.DB) error {
	return seedConfession(
		tx,
		Confession{
			Command:   "creed",
			Name:      "The Apostles' Creed",
			Type:      ConfessionTypeSections,
			Numbering: NumberingArabic,
		},
		[]ConfessionSection{
			{
				Number: 1,
				Body: "I believe in God, the Father almighty, creator of heaven " +
					"and earth.",
			},
			{
				Number: 2,
				Body: "I believe in Jesus Christ, his only Son, our Lord, who was " +
					"conceived by the Holy Spirit and born of the virgin Mary. He " +
					"suffered under Pontius Pilate, was crucified, died, and was " +
					"buried; he descended to hell. The third day he rose again from " +
					"the dead. He ascended to heaven and is seated at the right hand " +
					"of God the Father almighty. From there he will come to judge the " +
					"living and the dead.",
			},
			{
				Number: 3,
				Body: "I believe in the Holy Spirit, the holy catholic church, the " +
					"communion of saints, the forgiveness of sins, the resurrection " +
					"of the body, and the life everlasting. Amen.",
			},
		},
	)
}

// createSectionSearchVector adds the generated tsvector column backing
// full-text confession search. Postgres only: sqlite databases fall
// back to LIKE matching in [SearchSections].
func createSectionSearchVector(tx *gorm.DB) error {
	if !strings.Contains(tx.Dialector.Name(), "postgres") {
		return nil
	}
	return tx.Exec(
		`ALTER TABLE confession_sections
			ADD COLUMN IF NOT EXISTS search_vector tsvector
			GENERATED ALWAYS AS (
				to_tsvector('english', coalesce(title, '') || ' ' || coalesce(body, ''))
			) STORED`,
	).Error
}
