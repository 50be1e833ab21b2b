package persona

import (
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/zhouzirui/xiaoyue/backend/internal/model/chat"
)

//go:embed scripts.yaml
var defaultScripts []byte

// Script is one canned reply.
type Script struct {
	Thought           string `yaml:"thought"`
	ChineseContent    string `yaml:"chinese_content"`
	VietnameseDisplay string `yaml:"vietnamese_display"`
	Pinyin            string `yaml:"pinyin"`
	Emotion           string `yaml:"emotion"`
	Action            string `yaml:"action"`
}

// Reply converts the script into a reply with an empty quiz list.
func (s Script) Reply() chat.Reply {
	action := s.Action
	if action == "" {
		action = chat.ActionNone
	}
	return chat.Reply{
		Thought:           s.Thought,
		ChineseContent:    s.ChineseContent,
		VietnameseDisplay: s.VietnameseDisplay,
		Pinyin:            s.Pinyin,
		Emotion:           s.Emotion,
		Action:            action,
		QuizList:          []chat.QuizItem{},
	}
}

type resetPair struct {
	Normal  Script `yaml:"normal"`
	Sulking Script `yaml:"sulking"`
}

type catalogFile struct {
	Fallback struct {
		Normal Script `yaml:"normal"`
		Sulky  Script `yaml:"sulky"`
	} `yaml:"fallback"`
	Reset map[string]resetPair `yaml:"reset"`
}

// Catalog holds the static fallback and reset replies. It is read-only after
// construction and safe for concurrent use.
type Catalog struct {
	fallbackNormal Script
	fallbackSulky  Script
	reset          map[string]resetPair
}

// SulkyThreshold is the mood level from which the sulky variants are used.
const SulkyThreshold = 2

// ParseCatalog decodes a scripts document. Both fallbacks and the default
// role's reset pair are required.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode scripts: %w", err)
	}

	var errs []error
	if file.Fallback.Normal.ChineseContent == "" || file.Fallback.Sulky.ChineseContent == "" {
		errs = append(errs, errors.New("fallback.normal and fallback.sulky are required"))
	}
	if pair, ok := file.Reset[DefaultUserRole]; !ok || pair.Normal.ChineseContent == "" || pair.Sulking.ChineseContent == "" {
		errs = append(errs, fmt.Errorf("reset scripts for %q are required", DefaultUserRole))
	}
	for role := range file.Reset {
		if _, ok := byUserRole[role]; !ok {
			errs = append(errs, fmt.Errorf("reset scripts for unknown role %q", role))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return &Catalog{
		fallbackNormal: file.Fallback.Normal,
		fallbackSulky:  file.Fallback.Sulky,
		reset:          file.Reset,
	}, nil
}

var loadDefault = sync.OnceValues(func() (*Catalog, error) {
	return ParseCatalog(defaultScripts)
})

// DefaultCatalog returns the embedded catalog. The embedded document is part
// of the binary, so a parse failure is a build defect and panics.
func DefaultCatalog() *Catalog {
	c, err := loadDefault()
	if err != nil {
		panic(fmt.Sprintf("persona: embedded scripts invalid: %v", err))
	}
	return c
}

// Fallback returns the reply used when generation fails. The tone depends
// only on whether moodLevel reaches SulkyThreshold.
func (c *Catalog) Fallback(moodLevel int) chat.Reply {
	if moodLevel >= SulkyThreshold {
		return c.fallbackSulky.Reply()
	}
	return c.fallbackNormal.Reply()
}

// Reset returns the farewell reply for userRole. Roles without their own
// scripts use the default role's pair.
func (c *Catalog) Reset(userRole string, wasSulking bool) chat.Reply {
	pair, ok := c.reset[userRole]
	if !ok {
		pair = c.reset[DefaultUserRole]
	}
	script := pair.Normal
	if wasSulking {
		script = pair.Sulking
	}
	reply := script.Reply()
	reply.Action = chat.ActionReset
	return reply
}
