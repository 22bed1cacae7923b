package pipeline

import (
	"sort"
	"strings"

	"github.com/graphein/graphein/model"
)

// verbLexicon maps connective phrases between two entity mentions to a
// relation type. Phrases are matched lowercase; longer phrases are tried
// first so "depends on" wins over "on".
var verbLexicon = []struct {
	phrase     string
	relation   model.RelationType
	reversed   bool
	confidence float64
}{
	{"works for", model.RelationWorksFor, false, 0.8},
	{"works at", model.RelationWorksFor, false, 0.8},
	{"employed by", model.RelationWorksFor, false, 0.75},
	{"depends on", model.RelationDependsOn, false, 0.8},
	{"created by", model.RelationCreatedBy, false, 0.8},
	{"developed by", model.RelationCreatedBy, false, 0.75},
	{"built by", model.RelationCreatedBy, false, 0.7},
	{"used by", model.RelationUsedBy, false, 0.75},
	{"uses", model.RelationUsedBy, true, 0.7},
	{"located in", model.RelationLocatedIn, false, 0.8},
	{"based in", model.RelationLocatedIn, false, 0.75},
	{"headquartered in", model.RelationLocatedIn, false, 0.8},
	{"part of", model.RelationPartOf, false, 0.75},
	{"belongs to", model.RelationPartOf, false, 0.7},
	{"similar to", model.RelationSimilarTo, false, 0.65},
	{"mentions", model.RelationMentions, false, 0.6},
	{"references", model.RelationRefs, false, 0.6},
	{"refers to", model.RelationRefs, false, 0.6},
}

// SVORelationExtractor extracts typed relationships from the connective text
// between two entity mentions. For each ordered mention pair close enough in
// the text, the span between them is scanned for a lexicon phrase; the match
// determines the relation type and direction.
func SVORelationExtractor() RelationExtractFunc {
	return func(text string, mentions []EntityMention) ([]RelationMention, error) {
		if len(mentions) < 2 {
			return nil, nil
		}

		ordered := make([]EntityMention, len(mentions))
		copy(ordered, mentions)
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start < ordered[j].Start })

		var relations []RelationMention
		seen := map[string]bool{}

		for i := 0; i < len(ordered)-1; i++ {
			for j := i + 1; j < len(ordered); j++ {
				first, second := ordered[i], ordered[j]
				if second.Start <= first.End || second.Start-first.End > 150 {
					continue
				}

				between := strings.ToLower(text[first.End:second.Start])
				for _, entry := range verbLexicon {
					if !containsPhrase(between, entry.phrase) {
						continue
					}

					source, target := first, second
					if entry.reversed {
						source, target = second, first
					}

					key := model.NormalizeEntityName(source.Name) + "|" + string(entry.relation) + "|" + model.NormalizeEntityName(target.Name)
					if seen[key] {
						break
					}
					seen[key] = true

					relations = append(relations, RelationMention{
						SourceName: source.Name,
						SourceType: source.Type,
						TargetName: target.Name,
						TargetType: target.Type,
						Type:       entry.relation,
						Confidence: entry.confidence * minConfidence(first, second),
					})
					break
				}
			}
		}

		return relations, nil
	}
}

// containsPhrase matches a phrase on word boundaries within the span.
func containsPhrase(span, phrase string) bool {
	index := strings.Index(span, phrase)
	for index >= 0 {
		beforeOK := index == 0 || !isWordByte(span[index-1])
		after := index + len(phrase)
		afterOK := after == len(span) || !isWordByte(span[after])
		if beforeOK && afterOK {
			return true
		}
		next := strings.Index(span[index+1:], phrase)
		if next < 0 {
			return false
		}
		index += 1 + next
	}
	return false
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

func minConfidence(a, b EntityMention) float64 {
	if a.Confidence < b.Confidence {
		return a.Confidence
	}
	return b.Confidence
}

// ProximityRelationExtractor links mentions that co-occur within the window
// with a low confidence related_to relationship. Confidence decays with the
// character distance between the mentions.
func ProximityRelationExtractor(window int) RelationExtractFunc {
	return func(text string, mentions []EntityMention) ([]RelationMention, error) {
		if len(mentions) < 2 {
			return nil, nil
		}

		ordered := make([]EntityMention, len(mentions))
		copy(ordered, mentions)
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start < ordered[j].Start })

		var relations []RelationMention
		seen := map[string]bool{}

		for i := 0; i < len(ordered)-1; i++ {
			for j := i + 1; j < len(ordered); j++ {
				first, second := ordered[i], ordered[j]
				distance := second.Start - first.End
				if distance < 0 || distance > window {
					continue
				}
				if model.NormalizeEntityName(first.Name) == model.NormalizeEntityName(second.Name) {
					continue
				}

				key := pairKey(first.Name, second.Name)
				if seen[key] {
					continue
				}
				seen[key] = true

				decay := 1.0 - float64(distance)/float64(window)
				relations = append(relations, RelationMention{
					SourceName: first.Name,
					SourceType: first.Type,
					TargetName: second.Name,
					TargetType: second.Type,
					Type:       model.RelationRelatedTo,
					Confidence: 0.3 + 0.2*decay,
				})
			}
		}

		return relations, nil
	}
}

// pairKey builds an order-independent key for a mention pair.
func pairKey(a, b string) string {
	first, second := model.NormalizeEntityName(a), model.NormalizeEntityName(b)
	if second < first {
		first, second = second, first
	}
	return first + "|" + second
}

// CombinedRelationExtractor runs the verb-based extractor first and fills in
// proximity relationships for pairs no typed relationship covered.
func CombinedRelationExtractor() RelationExtractFunc {
	verbBased := SVORelationExtractor()
	proximity := ProximityRelationExtractor(100)

	return func(text string, mentions []EntityMention) ([]RelationMention, error) {
		typed, err := verbBased(text, mentions)
		if err != nil {
			return nil, err
		}

		covered := map[string]bool{}
		for _, relation := range typed {
			covered[pairKey(relation.SourceName, relation.TargetName)] = true
		}

		nearby, err := proximity(text, mentions)
		if err != nil {
			return nil, err
		}

		relations := typed
		for _, relation := range nearby {
			if covered[pairKey(relation.SourceName, relation.TargetName)] {
				continue
			}
			relations = append(relations, relation)
		}

		return relations, nil
	}
}
