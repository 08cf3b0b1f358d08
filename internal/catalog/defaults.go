package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Prefix templates of the generated sample catalogs.
const (
	EnglishPrefix = "{green}100Bible {0}: {white}{1}"
	ChinesePrefix = "{blue}100Bible {0}: {white}{1}"
)

var rotatingColors = []string{"{white}", "{green}", "{yellow}", "{blue}", "{red}", "{cyan}", "{purple}"}

var englishVerses = []string{
	"For God so loved the world, that he gave his only Son, that whoever believes in him should not perish but have eternal life. - John 3:16 - KJV",
	"The Lord is my shepherd; I shall not want. - Psalm 23:1 - KJV",
	"I can do all things through Christ which strengtheneth me. - Philippians 4:13 - KJV",
	"Be strong and courageous. Do not be afraid; do not be discouraged, for the Lord your God will be with you. - Joshua 1:9 - NIV",
	"Trust in the Lord with all your heart and lean not on your own understanding. - Proverbs 3:5 - NIV",
	"But seek first his kingdom and his righteousness, and all these things will be given to you as well. - Matthew 6:33 - NIV",
	"For I know the plans I have for you, declares the Lord, plans to prosper you and not to harm you. - Jeremiah 29:11 - NIV",
	"If we confess our sins, he is faithful and just and will forgive us our sins. - 1 John 1:9 - NIV",
	"The Lord is my light and my salvation, whom shall I fear? - Psalm 27:1 - NIV",
	"Do to others as you would have them do to you. - Luke 6:31 - NIV",
	"In the beginning God created the heavens and the earth. - Genesis 1:1 - NIV",
	"And we know that in all things God works for the good of those who love him. - Romans 8:28 - NIV",
}

var chineseVerses = []string{
	"神愛世人，甚至將他的獨生子賜給他們，叫一切信他的，不至滅亡，反得永生。 - 約翰福音 3:16 - 和合本",
	"耶和華是我的牧者，我必不致缺乏。 - 詩篇 23:1 - 和合本",
	"我靠著那加給我力量的，凡事都能做。 - 腓立比書 4:13 - 和合本",
	"你要剛強壯膽！不要懼怕，也不要驚惶，因為耶和華你的神與你同在。 - 約書亞記 1:9 - 和合本",
	"你要專心仰賴耶和華，不可倚靠自己的聰明。 - 箴言 3:5 - 和合本",
	"你們要先求他的國和他的義，這些東西都要加給你們了。 - 馬太福音 6:33 - 和合本",
	"耶和華說：我向你們所懷的意念是賜平安的意念，不是降災禍的意念。 - 耶利米書 29:11 - 和合本",
	"我們若認自己的罪，神是信實的，是公義的，必要赦免我們的罪。 - 約翰一書 1:9 - 和合本",
	"耶和華是我的亮光，是我的救恩，我還怕誰呢？ - 詩篇 27:1 - 和合本",
	"你們願意人怎樣待你們，你們也要怎樣待人。 - 路加福音 6:31 - 和合本",
	"起初，神創造天地。 - 創世記 1:1 - 和合本",
	"我們曉得萬事都互相效力，叫愛神的人得益處。 - 羅馬書 8:28 - 和合本",
}

// DefaultDocuments returns the built-in sample catalogs keyed by language id.
func DefaultDocuments() map[string]Document {
	return map[string]Document{
		"english":   sampleDocument(EnglishPrefix, englishVerses),
		"t-chinese": sampleDocument(ChinesePrefix, chineseVerses),
	}
}

func sampleDocument(prefix string, verses []string) Document {
	doc := Document{Prefix: prefix, Messages: make([]Message, 0, len(verses))}
	for i, v := range verses {
		id := i + 1
		doc.Messages = append(doc.Messages, Message{
			ID:   id,
			Text: rotatingColors[id%len(rotatingColors)] + v,
		})
	}
	return doc
}

// Generate writes the sample catalogs into dir. Existing files are kept.
// It returns the paths it wrote.
func Generate(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create language dir: %w", err)
	}
	var wrote []string
	for _, lang := range []string{"english", "t-chinese"} {
		p := filepath.Join(dir, lang+".json")
		if _, err := os.Stat(p); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return wrote, err
		}
		b, err := json.MarshalIndent(DefaultDocuments()[lang], "", "  ")
		if err != nil {
			return wrote, err
		}
		if err := os.WriteFile(p, append(b, '\n'), 0o644); err != nil {
			return wrote, fmt.Errorf("write %s: %w", p, err)
		}
		wrote = append(wrote, p)
	}
	return wrote, nil
}
