package extraction

import "strings"

const conversationPlaceholder = "{CONVERSATION}"

const promptTemplate = `You are a knowledge graph fact extractor. Given a conversation block, extract factual relations as structured triples.

CRITICAL RULE - EXISTING vs DESIGNED:
- ONLY extract facts about things that ALREADY EXIST or have ALREADY HAPPENED
- SKIP anything that is a plan, design, proposal, idea, or hypothetical ("we could", "let's build", "what if", "I want to", "should we", "would be nice")
- A fact is only valid if it describes a current or past state of the world, not a future or imagined one

Other rules:
- Only extract CONCRETE facts (decisions made, preferences stated, events that occurred, configurations in place)
- Skip greetings, filler, opinions without substance, and small talk
- Normalize entity names to the most complete form used in the conversation
- Use lowercase snake_case for relation types
- Assign confidence 0.0-1.0 based on how certain the fact is

Entity types: person, organization, project, tool, technology, location, date, concept, decision, configuration, other

Common relation types:
- works_at, member_of, manages, reports_to
- uses, prefers, configured, installed, built
- decided, approved, rejected, chose_over
- deadline, scheduled_for, completed_on
- located_in, lives_in, based_in
- knows, collaborates_with
- has_property, is_type_of, part_of
- costs, priced_at, balance_is
- blocked_by, depends_on, requires

Conversation:
{CONVERSATION}

Return ONLY a JSON array (no markdown, no commentary):
[{"subject": "...", "subject_type": "...", "relation": "...", "object": "...", "object_type": "...", "confidence": 0.0}]

If no facts can be extracted, return: []`

// BuildPrompt embeds a conversation block in the extraction prompt.
func BuildPrompt(block string) string {
	return strings.Replace(promptTemplate, conversationPlaceholder, block, 1)
}
