// Package nlu is a rule-based intent classifier and entity extractor. It is
// deliberately shallow: ordered regex tables, a length-based confidence
// score, and fixed lookup tables for action words. No model, no training.
package nlu

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	"voicehome/internal/domain"
)

type intentRule struct {
	name     string
	patterns []*regexp.Regexp
}

type Processor struct {
	logger *slog.Logger

	mu       sync.RWMutex
	intents  []intentRule
	entities map[string]*regexp.Regexp
}

func NewProcessor(logger *slog.Logger) *Processor {
	return &Processor{
		logger:   logger,
		intents:  defaultIntentRules(),
		entities: defaultEntityPatterns(),
	}
}

func defaultIntentRules() []intentRule {
	compile := func(exprs ...string) []*regexp.Regexp {
		out := make([]*regexp.Regexp, len(exprs))
		for i, e := range exprs {
			out[i] = regexp.MustCompile(e)
		}
		return out
	}

	return []intentRule{
		{
			name: domain.IntentDeviceControl,
			patterns: compile(
				`turn (on|off)`,
				`switch (on|off)`,
				`\b(dim|brighten)\b`,
				`set .+ to`,
				`\b(start|play|stop|pause) (the )?(music|song|movie|tv|television|speaker)\b`,
				`\b(increase|decrease|raise|lower)\b`,
			),
		},
		{
			name: domain.IntentInfoRequest,
			patterns: compile(
				`what('s| is)`,
				`how (much|many|warm|cold|hot)`,
				`tell me`,
				`status of`,
				`\btemperature\b`,
			),
		},
		{
			name: domain.IntentSystemControl,
			patterns: compile(
				`\b(stop|pause|halt|resume|continue) listening\b`,
				`\b(restart|reboot)( yourself| the assistant)?\b`,
				`\bvolume (up|down)\b`,
				`\brepeat( that)?\b`,
				`\bhelp\b`,
				`\b(shut ?down)\b`,
			),
		},
		{
			name: domain.IntentGreeting,
			patterns: compile(
				`\b(hello|hi|hey)\b`,
				`\bgood (morning|afternoon|evening)\b`,
				`\bhow are you\b`,
			),
		},
		{
			name: domain.IntentGoodbye,
			patterns: compile(
				`\b(goodbye|good ?bye|bye|good night|see you)\b`,
			),
		},
	}
}

func defaultEntityPatterns() map[string]*regexp.Regexp {
	return map[string]*regexp.Regexp{
		domain.EntityDevice: regexp.MustCompile(`(?i)\b(lights?|lamps?|thermostat|heating|tv|television|speakers?|music|fan|plug)\b`),
		domain.EntityRoom:   regexp.MustCompile(`(?i)\b(living room|bedroom|kitchen|bathroom|office|garage|hallway)\b`),
		domain.EntityAction: regexp.MustCompile(`(?i)\b(on|off|up|down|dim|brighten|increase|decrease|start|stop|play|pause)\b`),
		domain.EntityNumber: regexp.MustCompile(`(?i)\b(\d+|zero|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|fifteen|twenty|thirty|forty|fifty|sixty|seventy|eighty|ninety|hundred)\b`),
	}
}

// Process classifies one utterance. It never fails for non-empty text; an
// utterance that matches nothing comes back as the "unknown" intent with
// confidence zero.
func (p *Processor) Process(ctx context.Context, text string) (*domain.ProcessingResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("processing command: empty text")
	}

	normalized := strings.ToLower(strings.TrimSpace(text))

	p.mu.RLock()
	defer p.mu.RUnlock()

	intent := p.extractIntent(normalized)
	intent.Entities = p.extractEntities(text)
	action := p.determineAction(intent, normalized)

	p.logger.Debug("processed command",
		"command", normalized,
		"intent", intent.Name,
		"confidence", intent.Confidence,
		"action", action,
		"entities", len(intent.Entities),
	)

	return &domain.ProcessingResult{
		Command: normalized,
		Intent:  intent,
		Action:  action,
	}, nil
}

// extractIntent keeps the single best match across every intent's patterns;
// ties keep the first one found.
func (p *Processor) extractIntent(command string) domain.Intent {
	best := domain.Intent{Name: domain.IntentUnknown, Confidence: 0}

	for _, rule := range p.intents {
		for _, pattern := range rule.patterns {
			loc := pattern.FindStringIndex(command)
			if loc == nil {
				continue
			}
			confidence := matchConfidence(command, loc[0], loc[1])
			if confidence > best.Confidence {
				best.Name = rule.name
				best.Confidence = confidence
			}
		}
	}

	return best
}

// matchConfidence scores a match by how much of the command it covers, with
// a small bonus for matches anchored at a word start, capped at 1.0.
func matchConfidence(command string, start, end int) float64 {
	confidence := float64(end-start) / float64(len(command)) * 0.8
	if start == 0 || unicode.IsSpace(rune(command[start-1])) {
		confidence += 0.1
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}

// extractEntities scans the original, non-normalized text so the reported
// spans line up with what the user actually said.
func (p *Processor) extractEntities(text string) []domain.Entity {
	var entities []domain.Entity

	for _, entityType := range p.entityTypeOrder() {
		pattern := p.entities[entityType]
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			raw := text[loc[0]:loc[1]]
			entities = append(entities, domain.Entity{
				Type:       entityType,
				Value:      normalizeEntityValue(entityType, raw),
				Start:      loc[0],
				End:        loc[1],
				Confidence: 0.9,
			})
		}
	}

	return entities
}

// entityTypeOrder keeps extraction deterministic: the built-in types first,
// any caller-added types after them in name order.
func (p *Processor) entityTypeOrder() []string {
	builtin := []string{domain.EntityDevice, domain.EntityRoom, domain.EntityAction, domain.EntityNumber}
	order := make([]string, 0, len(p.entities))
	seen := make(map[string]bool, len(p.entities))
	for _, t := range builtin {
		if _, ok := p.entities[t]; ok {
			order = append(order, t)
			seen[t] = true
		}
	}
	var extra []string
	for t := range p.entities {
		if !seen[t] {
			extra = append(extra, t)
		}
	}
	sort.Strings(extra)
	return append(order, extra...)
}

func (p *Processor) determineAction(intent domain.Intent, command string) domain.Action {
	switch intent.Name {
	case domain.IntentDeviceControl:
		return deviceAction(intent, command)
	case domain.IntentInfoRequest:
		return domain.ActionGetInfo
	case domain.IntentSystemControl:
		return systemAction(command)
	case domain.IntentGreeting:
		return domain.ActionGreet
	case domain.IntentGoodbye:
		return domain.ActionFarewell
	default:
		return domain.ActionUnknown
	}
}

var actionWords = map[string]domain.Action{
	"on":       domain.ActionTurnOn,
	"off":      domain.ActionTurnOff,
	"up":       domain.ActionIncrease,
	"increase": domain.ActionIncrease,
	"down":     domain.ActionDecrease,
	"decrease": domain.ActionDecrease,
	"dim":      domain.ActionDim,
	"brighten": domain.ActionBrighten,
	"start":    domain.ActionStart,
	"play":     domain.ActionStart,
	"stop":     domain.ActionStop,
	"pause":    domain.ActionStop,
}

var deviceActionFallbacks = []struct {
	pattern *regexp.Regexp
	action  domain.Action
}{
	{regexp.MustCompile(`\bturn on\b|\bswitch on\b`), domain.ActionTurnOn},
	{regexp.MustCompile(`\bturn off\b|\bswitch off\b`), domain.ActionTurnOff},
	{regexp.MustCompile(`\bset .+ to\b`), domain.ActionSetValue},
	{regexp.MustCompile(`\b(increase|raise)\b`), domain.ActionIncrease},
	{regexp.MustCompile(`\b(decrease|lower)\b`), domain.ActionDecrease},
}

func deviceAction(intent domain.Intent, command string) domain.Action {
	if value, ok := intent.EntityValue(domain.EntityAction); ok {
		if mapped, ok := actionWords[value]; ok {
			return mapped
		}
		return domain.Action(value)
	}

	for _, fallback := range deviceActionFallbacks {
		if fallback.pattern.MatchString(command) {
			return fallback.action
		}
	}

	return domain.ActionControl
}

var systemActionScans = []struct {
	pattern *regexp.Regexp
	action  domain.Action
}{
	{regexp.MustCompile(`\b(stop|pause|halt)\b`), domain.ActionStop},
	{regexp.MustCompile(`\b(resume|continue)\b`), domain.ActionResume},
	{regexp.MustCompile(`\b(restart|reboot)\b`), domain.ActionRestart},
	{regexp.MustCompile(`\b(help|assist)\b`), domain.ActionHelp},
	{regexp.MustCompile(`\bvolume up\b`), domain.ActionVolumeUp},
	{regexp.MustCompile(`\bvolume down\b`), domain.ActionVolumeDown},
	{regexp.MustCompile(`\brepeat\b`), domain.ActionRepeat},
}

func systemAction(command string) domain.Action {
	for _, scan := range systemActionScans {
		if scan.pattern.MatchString(command) {
			return scan.action
		}
	}
	return domain.ActionSysControl
}

// AddIntentPattern appends a pattern to an intent's list, creating the
// intent if needed. Results already returned by Process are unaffected.
func (p *Processor) AddIntentPattern(intentName, pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compiling intent pattern: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.intents {
		if p.intents[i].name == intentName {
			p.intents[i].patterns = append(p.intents[i].patterns, re)
			return nil
		}
	}
	p.intents = append(p.intents, intentRule{name: intentName, patterns: []*regexp.Regexp{re}})
	return nil
}

// SetEntityPattern replaces the single pattern for an entity type.
func (p *Processor) SetEntityPattern(entityType, pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compiling entity pattern: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.entities[entityType] = re
	return nil
}
