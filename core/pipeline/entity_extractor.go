package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/graphein/graphein/helper"
	"github.com/graphein/graphein/model"
	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
)

var (
	datePattern  = regexp.MustCompile(`\b(?:\d{4}-\d{2}-\d{2}|(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4}|\d{1,2}/\d{1,2}/\d{4})\b`)
	emailPattern = regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`)
	// Capitalized spans of one to four words, skipping sentence starts is
	// handled by the caller context below.
	capitalizedPattern = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9]*(?:\s+[A-Z][a-zA-Z0-9]*){0,3}\b`)
)

// technologyLexicon maps known technology terms to detection. Matching is
// case-insensitive on whole words.
var technologyLexicon = map[string]bool{
	"kubernetes": true, "docker": true, "postgresql": true, "postgres": true,
	"redis": true, "kafka": true, "rabbitmq": true, "grpc": true,
	"graphql": true, "terraform": true, "prometheus": true, "linux": true,
	"golang": true, "python": true, "rust": true, "javascript": true,
	"typescript": true, "mysql": true, "mongodb": true, "elasticsearch": true,
	"nginx": true, "aws": true, "azure": true, "gcp": true, "react": true,
	"tensorflow": true, "pytorch": true, "onnx": true, "sql": true,
}

// organizationSuffixes mark a capitalized span as an organization.
var organizationSuffixes = []string{"Corp", "Corporation", "Inc", "Ltd", "LLC", "GmbH", "AG", "Company", "Foundation", "University", "Institute"}

// locationKeywords mark a capitalized span as a location when preceded by one.
var locationKeywords = map[string]bool{"in": true, "at": true, "near": true, "from": true}

// personTitles mark the following capitalized span as a person.
var personTitles = map[string]bool{"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true, "professor": true, "president": true, "ceo": true, "cto": true}

// PatternEntityExtractor extracts typed entity mentions with regular
// expressions and lexicons: dates, email addresses, known technology terms
// and capitalized spans. Capitalized spans are typed by their surroundings
// (organization suffix, preceding title or location preposition), defaulting
// to concept.
func PatternEntityExtractor() EntityExtractFunc {
	return func(text string) ([]EntityMention, error) {
		var mentions []EntityMention
		seenNames := map[string]bool{}

		add := func(name string, entityType model.EntityType, confidence float64, start, end int) {
			normalized := model.NormalizeEntityName(name)
			if normalized == "" || seenNames[normalized] {
				return
			}
			seenNames[normalized] = true
			mentions = append(mentions, EntityMention{
				Name:       strings.TrimSpace(name),
				Type:       entityType,
				Confidence: confidence,
				Start:      start,
				End:        end,
			})
		}

		for _, match := range datePattern.FindAllStringIndex(text, -1) {
			add(text[match[0]:match[1]], model.EntityTypeDate, 0.95, match[0], match[1])
		}

		for _, match := range emailPattern.FindAllStringIndex(text, -1) {
			add(text[match[0]:match[1]], model.EntityTypePerson, 0.7, match[0], match[1])
		}

		for _, word := range strings.Fields(text) {
			cleaned := strings.ToLower(strings.Trim(word, ".,;:!?()\"'"))
			if technologyLexicon[cleaned] {
				start := strings.Index(text, word)
				add(cleaned, model.EntityTypeTechnology, 0.85, start, start+len(word))
			}
		}

		for _, match := range capitalizedPattern.FindAllStringIndex(text, -1) {
			span := text[match[0]:match[1]]
			if len(strings.Fields(span)) == 1 && isSentenceStart(text, match[0]) {
				// A lone capitalized word at a sentence start is usually
				// just the sentence, not an entity.
				continue
			}

			entityType, confidence := classifySpan(text, span, match[0])
			add(span, entityType, confidence, match[0], match[1])
		}

		return mentions, nil
	}
}

// isSentenceStart reports whether the byte offset is the first word of a
// sentence.
func isSentenceStart(text string, offset int) bool {
	before := strings.TrimRight(text[:offset], " \n\t")
	if before == "" {
		return true
	}
	return strings.ContainsRune(sentenceTerminators, rune(before[len(before)-1]))
}

// classifySpan types a capitalized span by its form and surroundings.
func classifySpan(text, span string, offset int) (model.EntityType, float64) {
	words := strings.Fields(span)

	for _, suffix := range organizationSuffixes {
		if words[len(words)-1] == suffix {
			return model.EntityTypeOrganization, 0.85
		}
	}

	before := strings.Fields(strings.ToLower(strings.Trim(text[:offset], " ")))
	if len(before) > 0 {
		previous := strings.Trim(before[len(before)-1], ".,;:")
		if personTitles[previous] {
			return model.EntityTypePerson, 0.8
		}
		if locationKeywords[previous] && len(words) <= 2 {
			return model.EntityTypeLocation, 0.6
		}
	}

	if len(words) >= 2 {
		return model.EntityTypeConcept, 0.6
	}
	return model.EntityTypeConcept, 0.5
}

// NEREntityExtractor extracts entity mentions with a token classification
// model run in-process via ONNX. NER labels are mapped onto the entity type
// enum: PER to person, ORG to organization, LOC to location, anything else to
// concept.
func NEREntityExtractor() (EntityExtractFunc, error) {
	modelName := "KnightsAnalytics/distilbert-NER"
	modelPath, err := helper.PrepareModel(modelName, "model.onnx")
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	config := hugot.TokenClassificationConfig{
		ModelPath: modelPath,
		Name:      "ner-pipeline",
		Options: []hugot.TokenClassificationOption{
			pipelines.WithSimpleAggregation(),
			pipelines.WithIgnoreLabels([]string{"O"}),
		},
	}
	nerPipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create NER pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create NER pipeline: %w", err)
	}

	return func(text string) ([]EntityMention, error) {
		result, err := nerPipeline.RunPipeline([]string{text})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrExtraction, err)
		}
		if len(result.Entities) == 0 {
			return nil, nil
		}

		var mentions []EntityMention
		for _, entity := range result.Entities[0] {
			mentions = append(mentions, EntityMention{
				Name:       strings.TrimSpace(entity.Word),
				Type:       nerLabelToEntityType(entity.Entity),
				Confidence: float64(entity.Score),
				Start:      int(entity.Start),
				End:        int(entity.End),
			})
		}

		return mentions, nil
	}, nil
}

// nerLabelToEntityType maps BIO-tagged NER labels to the entity type enum.
func nerLabelToEntityType(label string) model.EntityType {
	label = strings.TrimPrefix(strings.TrimPrefix(label, "B-"), "I-")

	switch label {
	case "PER":
		return model.EntityTypePerson
	case "ORG":
		return model.EntityTypeOrganization
	case "LOC":
		return model.EntityTypeLocation
	default:
		return model.EntityTypeConcept
	}
}
